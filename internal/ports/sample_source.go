package ports

import (
	"context"
	"image"

	"github.com/fragship/fragship/internal/domain"
)

// SampleSource delivers the ordered encoded sample stream produced by the
// platform capture and encode layer. The source guarantees samples are
// time-ordered per track; the pipeline treats violations as fatal rather
// than reordering.
type SampleSource interface {
	// Init returns the codec initialization metadata for the session.
	// Valid once the source is started.
	Init() []byte

	// Run delivers samples to emit until the context is canceled or the
	// source is exhausted. emit is called from a single goroutine; an
	// error returned by emit stops delivery and is returned.
	Run(ctx context.Context, emit func(domain.Sample) error) error
}

// BitmapSource delivers overlay bitmaps from the external overlay renderer
// at a cadence matching the video frame rate.
type BitmapSource interface {
	// Next returns the most recent overlay bitmap, or ok=false when no
	// overlay is currently active. The bitmap dimensions must match the
	// output video frame exactly.
	Next() (bitmap *image.RGBA, ok bool)
}
