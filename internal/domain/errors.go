package domain

import "errors"

// Domain errors represent error conditions in the fragship pipeline.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running session.
	ErrAlreadyRunning = errors.New("fragship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped session.
	ErrNotRunning = errors.New("fragship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("fragship: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("fragship: invalid configuration")

	// ErrMissingStreamKey is returned when the ingest profile has no stream
	// key configured. Attempts fail fast without a network call and do not
	// consume retry slots, since the key may be supplied mid-session.
	ErrMissingStreamKey = errors.New("fragship: stream key not configured")

	// ErrDimensionMismatch is returned when the overlay bitmap and the
	// target frame do not share identical dimensions.
	ErrDimensionMismatch = errors.New("fragship: overlay dimension mismatch")

	// ErrOutOfOrderSample is returned when a sample's timestamp regresses
	// relative to its track's previous sample. The capture source is
	// assumed ordered; this violation ends the session.
	ErrOutOfOrderSample = errors.New("fragship: out-of-order sample")

	// ErrSequenceGap is returned when a fragment pushed to the upload
	// queue does not follow the previously enqueued sequence number.
	ErrSequenceGap = errors.New("fragship: fragment sequence gap")

	// ErrSessionClosed is returned when samples or fragments arrive after
	// the session stopped accepting input.
	ErrSessionClosed = errors.New("fragship: session closed")

	// ErrBufferFull marks a fragment evicted under capacity backpressure.
	ErrBufferFull = errors.New("fragship: fragment buffer full")
)

// ErrorClass buckets a failure for retry and reporting decisions.
type ErrorClass int

const (
	// ClassTransient covers network failures retried with backoff.
	ClassTransient ErrorClass = iota

	// ClassConfiguration covers actionable setup errors (missing stream
	// key, mismatched overlay dimensions). Attempts fail fast, retry at
	// the initial cadence, and do not count against the retry ceiling,
	// since configuration may be fixed externally at any time.
	ClassConfiguration

	// ClassProtocol covers ordering violations. Fatal to the session,
	// never retried.
	ClassProtocol

	// ClassCapacity covers backpressure drops. Resolved by evicting the
	// oldest pending fragment, never by blocking the producer.
	ClassCapacity
)

// String returns a human-readable representation of the class.
func (c ErrorClass) String() string {
	switch c {
	case ClassConfiguration:
		return "configuration"
	case ClassProtocol:
		return "protocol"
	case ClassCapacity:
		return "capacity"
	default:
		return "transient"
	}
}

// Classify buckets an error into the pipeline taxonomy. Unknown errors
// are treated as transient network failures.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrMissingStreamKey), errors.Is(err, ErrDimensionMismatch), errors.Is(err, ErrInvalidConfig):
		return ClassConfiguration
	case errors.Is(err, ErrOutOfOrderSample), errors.Is(err, ErrSequenceGap):
		return ClassProtocol
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrBufferFull):
		return ClassCapacity
	default:
		return ClassTransient
	}
}
