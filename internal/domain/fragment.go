package domain

import "time"

// TrackPresence records which media tracks a fragment carries.
type TrackPresence int

const (
	TracksNone TrackPresence = iota
	TracksVideo
	TracksAudio
	TracksBoth
)

// String returns a human-readable representation of the track presence.
func (p TrackPresence) String() string {
	switch p {
	case TracksVideo:
		return "video"
	case TracksAudio:
		return "audio"
	case TracksBoth:
		return "video+audio"
	default:
		return "none"
	}
}

// With returns the presence extended by the given track kind.
func (p TrackPresence) With(t TrackKind) TrackPresence {
	switch t {
	case TrackVideo:
		if p == TracksAudio || p == TracksBoth {
			return TracksBoth
		}
		return TracksVideo
	case TrackAudio:
		if p == TracksVideo || p == TracksBoth {
			return TracksBoth
		}
		return TracksAudio
	}
	return p
}

// Fragment is a self-contained, keyframe-aligned media unit ready for
// delivery. Sequence numbers start at 0 per session and increase strictly
// by 1 as fragments are produced.
type Fragment struct {
	// SequenceNumber is the fragment's position in the session stream.
	SequenceNumber uint64

	// Tracks records which media tracks the payload carries.
	Tracks TrackPresence

	// StartOffset is the duration since the session epoch at which this
	// fragment begins.
	StartOffset time.Duration

	// Duration is the total presentation duration covered by the fragment.
	Duration time.Duration

	// KeyframeAligned is true by construction: every fragment begins at a
	// video keyframe (or, for audio-only fragments, at a sample boundary).
	KeyframeAligned bool

	// Init is the initialization metadata (codec configuration) that makes
	// the fragment independently playable. Shared per session.
	Init []byte

	// Payload is the encoded fMP4 fragment bytes. Immutable.
	Payload []byte
}

// Size returns the payload size in bytes.
func (f Fragment) Size() int {
	return len(f.Payload)
}
