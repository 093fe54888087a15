package imageloader

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/LexiconIndonesia/ocr-worker-service/common/storage"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
	"golang.org/x/image/bmp"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func bmpBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLoadImageSources(t *testing.T) {
	ctx := context.Background()
	pngData := pngBytes(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "page.png")
	if err := os.WriteFile(path, pngData, 0o600); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/page.png" {
			http.NotFound(w, r)
			return
		}
		w.Write(pngData)
	}))
	defer server.Close()

	objects := storage.NewMemoryStorage()
	if _, err := objects.Upload(ctx, "scans", "page.png", pngData, "image/png"); err != nil {
		t.Fatal(err)
	}

	loader := New(WithLocalFiles(true), WithObjectStore(objects), WithHTTPClient(server.Client()), WithAllowedHosts("127.0.0.1"))
	encoded := base64.StdEncoding.EncodeToString(pngData)

	tests := []struct {
		name  string
		input any
	}{
		{"bytes", pngData},
		{"image", worker.Image(pngData)},
		{"reader", bytes.NewReader(pngData)},
		{"file", path},
		{"data url", "data:image/png;base64," + encoded},
		{"base64", encoded},
		{"http", server.URL + "/page.png"},
		{"gcs", "gs://scans/page.png"},
		{"bmp", bmpBytes(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := loader.LoadImage(ctx, tt.input)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(img) == 0 {
				t.Error("Expected image bytes")
			}
		})
	}
}

func TestLoadImageFailures(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	loader := New(WithMaxBytes(1024), WithHTTPClient(server.Client()), WithAllowedHosts("*"))

	tests := []struct {
		name    string
		input   any
		wantErr error
	}{
		{"not an image", []byte("plain text, not pixels"), ErrUnsupportedFormat},
		{"unsupported type", 42, ErrUnsupportedInput},
		{"not base64", "not a path or base64!", ErrUnsupportedInput},
		{"too large", bytes.Repeat([]byte{0x89}, 2048), ErrTooLarge},
		{"gcs without store", "gs://scans/page.png", ErrNoObjectStore},
		{"plain data url", "data:text/plain,hello", ErrUnsupportedInput},
		{"http status", server.URL + "/missing.png", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.LoadImage(ctx, tt.input)
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !errors.Is(err, worker.ErrImageLoad) {
				t.Errorf("Expected ErrImageLoad, got %v", err)
			}
			var loadErr *worker.ImageLoadError
			if !errors.As(err, &loadErr) {
				t.Errorf("Expected *ImageLoadError, got %T", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLocalFilesDisabledByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.png")
	if err := os.WriteFile(path, pngBytes(t), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := New().LoadImage(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedInput) {
		t.Errorf("Expected paths to be rejected, got %v", err)
	}
}

func TestFormat(t *testing.T) {
	format, err := Format(pngBytes(t))
	if err != nil || format != "png" {
		t.Errorf("Expected png, got %q (%v)", format, err)
	}
	format, err = Format(bmpBytes(t))
	if err != nil || format != "bmp" {
		t.Errorf("Expected bmp, got %q (%v)", format, err)
	}
}

func TestURLInputsRequireAllowedHost(t *testing.T) {
	ctx := context.Background()
	pngData := pngBytes(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/redirect" {
			http.Redirect(w, r, "http://internal.example.com/page.png", http.StatusFound)
			return
		}
		w.Write(pngData)
	}))
	defer server.Close()

	tests := []struct {
		name    string
		hosts   []string
		path    string
		wantErr error
	}{
		{"no hosts", nil, "/page.png", ErrHostNotAllowed},
		{"other host", []string{"images.example.com"}, "/page.png", ErrHostNotAllowed},
		{"listed host", []string{" 127.0.0.1 "}, "/page.png", nil},
		{"any host", []string{"*"}, "/page.png", nil},
		{"redirect to other host", []string{"127.0.0.1"}, "/redirect", ErrHostNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := New(WithHTTPClient(server.Client()), WithAllowedHosts(tt.hosts...))
			_, err := loader.LoadImage(ctx, server.URL+tt.path)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAllowedHostPatterns(t *testing.T) {
	loader := New(WithAllowedHosts("*.example.com", "Scans.Lexicon.ID"))

	tests := []struct {
		url      string
		expected bool
	}{
		{"https://img.example.com/a.png", true},
		{"https://a.b.example.com/a.png", true},
		{"https://example.com/a.png", false},
		{"https://evilexample.com/a.png", false},
		{"https://scans.lexicon.id/a.png", true},
		{"http://169.254.169.254/latest/meta-data", false},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.url)
		if err != nil {
			t.Fatal(err)
		}
		if got := loader.allowed(u); got != tt.expected {
			t.Errorf("%s: expected %v, got %v", tt.url, tt.expected, got)
		}
	}
}
