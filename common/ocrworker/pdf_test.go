package ocrworker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func testImage(t *testing.T, encode func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 200, 100))
	for x := 10; x < 90; x++ {
		img.Set(x, 20, color.Black)
	}
	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodePNG(buf *bytes.Buffer, img image.Image) error {
	return png.Encode(buf, img)
}

func encodeJPEG(buf *bytes.Buffer, img image.Image) error {
	return jpeg.Encode(buf, img, nil)
}

func TestRenderPDF(t *testing.T) {
	pngData := testImage(t, encodePNG)
	jpegData := testImage(t, encodeJPEG)

	tests := []struct {
		name      string
		image     []byte
		textOnly  bool
		wantImage bool
	}{
		{"png with text layer", pngData, false, true},
		{"jpeg with text layer", jpegData, false, true},
		{"text only", nil, true, false},
		{"text only ignores image", pngData, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdf, err := RenderPDF(tt.image, pageHOCR, "Scan 42", tt.textOnly)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
				t.Errorf("Expected a PDF header, got %q", pdf[:min(len(pdf), 8)])
			}
			if !bytes.Contains(pdf, []byte("%%EOF")) {
				t.Error("Expected a complete document")
			}
			if got := bytes.Contains(pdf, []byte("/Subtype /Image")); got != tt.wantImage {
				t.Errorf("Expected embedded image %v, got %v", tt.wantImage, got)
			}
		})
	}
}

func TestRenderPDFFailures(t *testing.T) {
	tests := []struct {
		name  string
		image []byte
		hocr  string
	}{
		{"no recognition", nil, ""},
		{"no image", nil, pageHOCR},
		{"not an image", []byte("plain text"), pageHOCR},
		{"text only without size", nil, "<div class='ocr_page'></div>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			textOnly := tt.name == "text only without size"
			if _, err := RenderPDF(tt.image, tt.hocr, "", textOnly); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestRenderPDFNothingRecognized(t *testing.T) {
	_, err := RenderPDF(nil, "", "", true)
	if !errors.Is(err, ErrNothingToRender) {
		t.Errorf("Expected ErrNothingToRender, got %v", err)
	}
}

// renderingEngine renders with RenderPDF like the tesseract engine does
type renderingEngine struct {
	*fakeEngine
	image []byte
}

func (e *renderingEngine) Recognize(ctx context.Context, image []byte) (string, string, error) {
	e.image = image
	return e.fakeEngine.Recognize(ctx, image)
}

func (e *renderingEngine) RenderPDF(ctx context.Context, title string, textOnly bool) ([]byte, error) {
	_, hocrText, _ := e.fakeEngine.Recognize(ctx, e.image)
	return RenderPDF(e.image, hocrText, title, textOnly)
}

func TestGetPDFRendersLastRecognition(t *testing.T) {
	ctx := context.Background()
	h := startHandle(t, &renderingEngine{fakeEngine: newFakeEngine()})

	if _, err := h.Recognize(ctx, testImage(t, encodePNG), nil, ""); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	pdf, err := h.GetPDF(ctx, "", false, "")
	if err != nil {
		t.Fatalf("GetPDF: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) || !bytes.Contains(pdf, []byte("/Subtype /Image")) {
		t.Errorf("Expected a PDF with the scanned image, got %d bytes", len(pdf))
	}
}
