package storage

import (
	"context"
	"path"
	"time"

	"github.com/rs/zerolog/log"
)

// PDFArchive stores generated PDFs and hands out download links
type PDFArchive struct {
	store   StorageService
	bucket  string
	prefix  string
	expires time.Duration
}

func NewPDFArchive(store StorageService, bucket, prefix string) *PDFArchive {
	return &PDFArchive{
		store:   store,
		bucket:  bucket,
		prefix:  prefix,
		expires: time.Hour,
	}
}

// Save uploads pdf under <prefix>/<name>.pdf and returns the object name
// and a signed URL valid for an hour
func (a *PDFArchive) Save(ctx context.Context, name string, pdf []byte) (string, string, error) {
	objectName := path.Join(a.prefix, name+".pdf")
	if _, err := a.store.Upload(ctx, a.bucket, objectName, pdf, "application/pdf"); err != nil {
		return "", "", err
	}

	url, err := a.store.GetSignedURL(ctx, a.bucket, objectName, int64(a.expires.Seconds()))
	if err != nil {
		log.Warn().Err(err).Str("object", objectName).Msg("Failed to sign PDF URL")
		return objectName, "", nil
	}
	return objectName, url, nil
}
