// Package fragship turns a continuous encoded HDR sample stream into
// discrete, independently playable fMP4 fragments and delivers them, in
// strict production order, to a live-ingest service over an unreliable
// network with bounded concurrency, bounded memory, and automatic retry.
//
// Example usage:
//
//	cfg := fragship.DefaultConfig()
//	cfg.StreamKey = "your-stream-key"
//	src, err := replay.Open("capture.fsrp", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b, err := fragship.New(cfg, src)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := b.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop()
package fragship

import (
	"net/http"

	"github.com/fragship/fragship/internal/adapters/httpingest"
	"github.com/fragship/fragship/internal/config"
	"github.com/fragship/fragship/internal/ports"
	"github.com/fragship/fragship/internal/push"
	"github.com/fragship/fragship/internal/session"
	"github.com/fragship/fragship/pkg/log"
)

// Config holds the configuration for a broadcast session.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = config.Config

// Broadcaster runs one broadcast session end to end.
type Broadcaster = session.Broadcaster

// SampleSource delivers the ordered encoded sample stream from the
// platform capture layer.
type SampleSource = ports.SampleSource

// BitmapSource delivers overlay bitmaps from the overlay renderer.
type BitmapSource = ports.BitmapSource

// IngestClient transfers fragments to the ingest service.
type IngestClient = ports.IngestClient

// IngestTarget identifies where fragments are delivered.
type IngestTarget = ports.IngestTarget

// HTTPClient abstracts HTTP operations for dependency injection.
type HTTPClient = ports.HTTPClient

// Logger is the structured logging interface from pkg/log.
type Logger = log.Logger

// EventHandler receives broadcast events.
type EventHandler = session.EventHandler

// Stats is a snapshot of upload pipeline state.
type Stats = push.Stats

// State is the broadcast lifecycle state.
type State = session.State

// Lifecycle states, re-exported for status checks.
const (
	StateStopped  = session.StateStopped
	StateStarting = session.StateStarting
	StateRunning  = session.StateRunning
	StateStopping = session.StateStopping
	StateCrashed  = session.StateCrashed
)

// Option configures optional behavior of a Broadcaster.
type Option func(*options)

type options struct {
	httpClient ports.HTTPClient
	client     ports.IngestClient
	bitmaps    ports.BitmapSource
	logger     log.Logger
	handler    session.EventHandler
}

// WithHTTPClient sets a custom HTTP client for the default ingest client.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) { o.httpClient = client }
}

// WithIngestClient replaces the HTTP ingest client entirely.
func WithIngestClient(client IngestClient) Option {
	return func(o *options) { o.client = client }
}

// WithBitmapSource enables overlay compositing from the given source.
func WithBitmapSource(src BitmapSource) Option {
	return func(o *options) { o.bitmaps = src }
}

// WithLogger sets a custom logger. If not provided, output is discarded.
func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventHandler sets a handler for lifecycle and delivery events.
// Events are called synchronously from pipeline goroutines.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) { o.handler = handler }
}

// DefaultConfig returns a Config with sensible default values.
// At minimum, set StreamKey before fragments can be delivered; a session
// started without one retries every fragment as a configuration error
// until a key is supplied.
func DefaultConfig() Config {
	return config.DefaultConfig()
}

// New creates a Broadcaster with the given configuration and capture
// source. The instance starts in StateStopped; call Start() to begin.
func New(cfg Config, source SampleSource, opts ...Option) (*Broadcaster, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	client := o.client
	if client == nil {
		httpClient := o.httpClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
		}
		client = httpingest.New(httpClient, logger)
	}

	return session.New(cfg, source, o.bitmaps, client, logger, o.handler)
}
