package storage

import (
	"context"
	"errors"
	"testing"
)

func TestParseGSURL(t *testing.T) {
	tests := []struct {
		ref    string
		bucket string
		object string
		ok     bool
	}{
		{"gs://scans/2024/page-1.png", "scans", "2024/page-1.png", true},
		{"gs://scans/", "", "", false},
		{"gs:///page.png", "", "", false},
		{"https://example.com/page.png", "", "", false},
		{"gs://scans", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket, object, ok := ParseGSURL(tt.ref)
			if ok != tt.ok || bucket != tt.bucket || object != tt.object {
				t.Errorf("ParseGSURL(%q) = %q, %q, %v", tt.ref, bucket, object, ok)
			}
		})
	}
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()

	if _, err := m.Download(ctx, "b", "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Expected ErrObjectNotFound, got %v", err)
	}

	if _, err := m.Upload(ctx, "b", "o", []byte("data"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	data, err := m.Download(ctx, "b", "o")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "data" {
		t.Errorf("Expected data, got %q", data)
	}
}

func TestPDFArchiveSave(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()
	archive := NewPDFArchive(m, "ocr", "ocr/pdf")

	object, url, err := archive.Save(ctx, "job-1", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if object != "ocr/pdf/job-1.pdf" {
		t.Errorf("Unexpected object name %s", object)
	}
	if url != "gs://ocr/ocr/pdf/job-1.pdf" {
		t.Errorf("Unexpected url %s", url)
	}
	data, _ := m.Download(ctx, "ocr", object)
	if string(data) != "%PDF-1.4" {
		t.Errorf("Stored content mismatch: %q", data)
	}
}
