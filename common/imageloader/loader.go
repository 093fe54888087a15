// Package imageloader turns caller supplied image references into the bytes
// sent to a worker.
package imageloader

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	// Decoders registered for format sniffing.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/LexiconIndonesia/ocr-worker-service/common/storage"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const DefaultMaxBytes = 32 << 20

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrUnsupportedInput  = errors.New("unsupported image input")
	ErrTooLarge          = errors.New("image too large")
	ErrNoObjectStore     = errors.New("no object store configured for gs:// inputs")
	ErrHostNotAllowed    = errors.New("image host not allowed")
)

// ObjectDownloader fetches gs:// objects
type ObjectDownloader interface {
	Download(ctx context.Context, bucket, objectName string) ([]byte, error)
}

// Loader implements worker.ImageLoader
type Loader struct {
	client     *http.Client
	objects    ObjectDownloader
	maxBytes   int64
	localFiles bool
	hosts      []string
}

type Option func(*Loader)

func WithHTTPClient(client *http.Client) Option {
	return func(l *Loader) {
		l.client = client
	}
}

// WithObjectStore enables gs:// inputs
func WithObjectStore(objects ObjectDownloader) Option {
	return func(l *Loader) {
		l.objects = objects
	}
}

func WithMaxBytes(n int64) Option {
	return func(l *Loader) {
		l.maxBytes = n
	}
}

// WithLocalFiles allows string inputs to name files on the local disk
func WithLocalFiles(enabled bool) Option {
	return func(l *Loader) {
		l.localFiles = enabled
	}
}

// WithAllowedHosts enables http(s) inputs for hosts. An entry may be an
// exact host name, a "*.example.com" suffix pattern or "*" for any host.
// Without it URL inputs are rejected.
func WithAllowedHosts(hosts ...string) Option {
	return func(l *Loader) {
		l.hosts = lo.Compact(lo.Map(hosts, func(h string, _ int) string {
			return strings.ToLower(strings.TrimSpace(h))
		}))
	}
}

func New(opts ...Option) *Loader {
	l := &Loader{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ worker.ImageLoader = (*Loader)(nil)

// LoadImage accepts worker.Image, []byte, io.Reader, or a string holding a
// data URL, an http(s) URL, a gs:// reference, a local path (when enabled)
// or raw base64.
func (l *Loader) LoadImage(ctx context.Context, input any) (worker.Image, error) {
	source, data, err := l.read(ctx, input)
	if err != nil {
		return nil, &worker.ImageLoadError{Source: source, Err: err}
	}
	if int64(len(data)) > l.maxBytes {
		return nil, &worker.ImageLoadError{Source: source, Err: ErrTooLarge}
	}

	format, err := Format(data)
	if err != nil {
		return nil, &worker.ImageLoadError{Source: source, Err: err}
	}
	log.Debug().Str("source", source).Str("format", format).Int("bytes", len(data)).Msg("Loaded image")
	return worker.Image(data), nil
}

func (l *Loader) read(ctx context.Context, input any) (string, []byte, error) {
	switch v := input.(type) {
	case worker.Image:
		return "bytes", v, nil
	case []byte:
		return "bytes", v, nil
	case io.Reader:
		data, err := l.readAll(v)
		return "reader", data, err
	case string:
		return l.readString(ctx, v)
	default:
		return fmt.Sprintf("%T", input), nil, ErrUnsupportedInput
	}
}

func (l *Loader) readString(ctx context.Context, s string) (string, []byte, error) {
	switch {
	case strings.HasPrefix(s, "data:"):
		data, err := decodeDataURL(s)
		return "data-url", data, err
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		data, err := l.fetch(ctx, s)
		return s, data, err
	case strings.HasPrefix(s, "gs://"):
		data, err := l.download(ctx, s)
		return s, data, err
	}

	if l.localFiles {
		if info, err := os.Stat(s); err == nil && !info.IsDir() {
			data, err := l.readFile(s)
			return s, data, err
		}
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "string", nil, ErrUnsupportedInput
	}
	return "base64", data, nil
}

func (l *Loader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return l.readAll(f)
}

func (l *Loader) allowed(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	return lo.ContainsBy(l.hosts, func(pattern string) bool {
		switch {
		case pattern == "*":
			return true
		case strings.HasPrefix(pattern, "*."):
			return strings.HasSuffix(host, pattern[1:])
		default:
			return host == pattern
		}
	})
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if !l.allowed(req.URL) {
		return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, req.URL.Hostname())
	}

	// redirects are checked against the same hosts
	client := *l.client
	client.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		if !l.allowed(next.URL) {
			return fmt.Errorf("%w: %s", ErrHostNotAllowed, next.URL.Hostname())
		}
		return nil
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return l.readAll(resp.Body)
}

func (l *Loader) download(ctx context.Context, ref string) ([]byte, error) {
	if l.objects == nil {
		return nil, ErrNoObjectStore
	}
	bucket, object, ok := storage.ParseGSURL(ref)
	if !ok {
		return nil, ErrUnsupportedInput
	}
	return l.objects.Download(ctx, bucket, object)
}

func (l *Loader) readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func decodeDataURL(s string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return nil, ErrUnsupportedInput
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("%w: data URL must be base64 encoded", ErrUnsupportedInput)
	}
	return base64.StdEncoding.DecodeString(payload)
}

// Format returns the name of the image format of data
func Format(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return "", ErrUnsupportedFormat
		}
		return "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return format, nil
}
