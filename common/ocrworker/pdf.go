package ocrworker

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/go-pdf/fpdf"

	"github.com/LexiconIndonesia/ocr-worker-service/common/hocr"
)

var ErrNothingToRender = errors.New("no recognition to render")

const pdfImageName = "page"

// RenderPDF builds a one page document from a recognition. The page has the
// size of the hOCR page with one pixel per point. Words are drawn under the
// image so the scan looks unchanged and the text stays searchable. With
// textOnly the image is left out and the words are visible.
func RenderPDF(img []byte, hocrText, title string, textOnly bool) ([]byte, error) {
	if hocrText == "" {
		return nil, ErrNothingToRender
	}
	doc, err := hocr.Parse(hocrText)
	if err != nil {
		return nil, err
	}

	width := float64(doc.BBox.X1 - doc.BBox.X0)
	height := float64(doc.BBox.Y1 - doc.BBox.Y0)

	var page *pdfPage
	if !textOnly {
		if page, err = newPDFPage(img); err != nil {
			return nil, err
		}
		if width <= 0 || height <= 0 {
			width, height = float64(page.width), float64(page.height)
		}
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: page has no size", ErrNothingToRender)
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		UnitStr: "pt",
		Size:    fpdf.SizeType{Wd: width, Ht: height},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator("ocr-worker-service", true)
	if title != "" {
		pdf.SetTitle(title, true)
	}
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 12)

	// core fonts only cover cp1252
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, word := range doc.Words() {
		size := float64(word.BBox.Y1 - word.BBox.Y0)
		if size <= 0 {
			continue
		}
		pdf.SetFontSize(size)
		pdf.Text(float64(word.BBox.X0-doc.BBox.X0), float64(word.BBox.Y1-doc.BBox.Y0), tr(word.Text))
	}

	if page != nil {
		opts := fpdf.ImageOptions{ImageType: page.kind}
		pdf.RegisterImageOptionsReader(pdfImageName, opts, bytes.NewReader(page.data))
		pdf.ImageOptions(pdfImageName, 0, 0, width, height, false, opts, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// pdfPage is an image in a form fpdf can embed
type pdfPage struct {
	kind          string
	data          []byte
	width, height int
}

// newPDFPage embeds JPEGs as they are and converts every other format to an
// 8 bit PNG
func newPDFPage(img []byte) (*pdfPage, error) {
	if len(img) == 0 {
		return nil, ErrNothingToRender
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if format == "jpeg" {
		return &pdfPage{kind: "JPG", data: img, width: cfg.Width, height: cfg.Height}, nil
	}

	decoded, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	rgba := image.NewRGBA(decoded.Bounds())
	draw.Draw(rgba, rgba.Bounds(), decoded, decoded.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return &pdfPage{kind: "PNG", data: buf.Bytes(), width: cfg.Width, height: cfg.Height}, nil
}
