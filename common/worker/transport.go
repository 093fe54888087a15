package worker

import (
	"context"
)

// SpawnOptions are handed to the transport at spawn time and to the worker
// inside the load job.
type SpawnOptions struct {
	WorkerPath    string   `json:"workerPath,omitempty"`
	CorePath      string   `json:"corePath,omitempty"`
	LangPath      string   `json:"langPath,omitempty"`
	CachePath     string   `json:"cachePath,omitempty"`
	DataPath      string   `json:"dataPath,omitempty"`
	CacheMethod   string   `json:"cacheMethod,omitempty"`
	Gzip          bool     `json:"gzip"`
	LegacyCore    bool     `json:"legacyCore,omitempty"`
	LegacyLang    bool     `json:"legacyLang,omitempty"`
	WorkerBlobURL bool     `json:"workerBlobURL,omitempty"`
	Logging       bool     `json:"logging"`
	WorkerArgs    []string `json:"-"`
}

// DefaultSpawnOptions returns the options a worker gets when nothing is configured
func DefaultSpawnOptions() SpawnOptions {
	return SpawnOptions{
		LangPath:    "https://tessdata.projectnaptha.com/4.0.0",
		CacheMethod: "write",
		Gzip:        true,
	}
}

// Transport starts workers
type Transport interface {
	// Spawn starts a worker and returns the channel used to talk to it
	Spawn(ctx context.Context, workerID string, opts SpawnOptions) (Channel, error)
}

// Channel is the bidirectional message channel to one worker
type Channel interface {
	// Send delivers an envelope. Sends are FIFO; completion order is not.
	Send(env Envelope) error

	// OnMessage registers the single handler for inbound messages. The handler
	// is invoked once per message in the order the worker emitted them.
	OnMessage(fn func(Message))

	// OnError registers the handler for transport-level failures
	OnError(fn func(error))

	// Terminate forcibly stops the worker. Safe to call more than once.
	Terminate() error
}

// Image is the normalized image representation the worker protocol expects.
// It is transmitted as base64 in JSON.
type Image []byte

// ImageLoader converts caller-supplied image inputs (paths, bytes, URLs) into
// an Image. Failures are reported as *ImageLoadError.
type ImageLoader interface {
	LoadImage(ctx context.Context, input any) (Image, error)
}

// ImageLoaderFunc adapts a function to ImageLoader
type ImageLoaderFunc func(ctx context.Context, input any) (Image, error)

// LoadImage calls f
func (f ImageLoaderFunc) LoadImage(ctx context.Context, input any) (Image, error) {
	return f(ctx, input)
}
