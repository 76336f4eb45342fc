package ports

import (
	"context"

	"github.com/fragship/fragship/internal/domain"
)

// IngestTarget identifies where fragments are delivered.
type IngestTarget struct {
	// Profile is the named ingest profile (default "youtube").
	Profile string

	// URL is the ingest endpoint base URL.
	URL string

	// StreamKey authenticates the broadcast. The sentinel value
	// StreamKeyUnset makes every attempt fail fast as a configuration
	// error without touching the network.
	StreamKey string

	// SessionID identifies this broadcast for server-side correlation.
	SessionID string
}

// StreamKeyUnset is the sentinel stream key meaning "not configured".
const StreamKeyUnset = ""

// IngestClient transfers one fragment to the ingest service. Implementations
// own transport details (chunking, headers, authentication). Upload blocks
// for the duration of the transfer and is safe to call concurrently.
type IngestClient interface {
	// Upload transfers the fragment. A nil return means the ingest service
	// accepted the fragment; any error is classified by domain.Classify.
	Upload(ctx context.Context, frag domain.Fragment, target IngestTarget) error
}
