package domain

import "time"

// TrackKind identifies the media track a sample belongs to.
type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudio
)

// String returns a human-readable representation of the track kind.
func (t TrackKind) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Sample is one encoded media sample as delivered by the capture source.
// The capture source guarantees samples arrive in presentation order per
// track; the pipeline treats a violation of that guarantee as fatal.
type Sample struct {
	// Track is the media track this sample belongs to.
	Track TrackKind

	// Keyframe is true for video samples that are fully self-contained.
	// Fragment boundaries align to these. Always false for audio.
	Keyframe bool

	// PTS is the presentation timestamp as delivered by the capture
	// source, relative to the capture start. The session pipeline rebases
	// it onto SessionEpoch before segmentation, so fragment start offsets
	// come out epoch-relative.
	PTS time.Duration

	// Duration is the display duration of this sample.
	Duration time.Duration

	// Payload is the encoded sample data. Immutable after creation.
	Payload []byte
}
