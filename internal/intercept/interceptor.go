// Package intercept cuts the continuous encoded sample stream into
// discrete, keyframe-aligned, self-contained fragments.
//
// The interceptor runs entirely inside the pipeline goroutine: it never
// blocks on network I/O and hands each completed fragment off through a
// sink callback, preserving real-time capture throughput regardless of
// upload health.
package intercept

import (
	"fmt"
	"time"

	"github.com/fragship/fragship/internal/domain"
	"github.com/fragship/fragship/internal/journal"
	"github.com/fragship/fragship/internal/ports"
	"github.com/fragship/fragship/pkg/log"
)

// Default segmentation parameters.
const (
	// DefaultTargetDuration is the fragment duration target. A fragment is
	// cut at the first keyframe arriving after this much content.
	DefaultTargetDuration = 2 * time.Second

	// DefaultMinDuration guards against a degenerate near-zero-length
	// trailing fragment at stream stop.
	DefaultMinDuration = 10 * time.Millisecond
)

// Phase is the interceptor's session state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCapturing
	PhaseFinalizing
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseCapturing:
		return "Capturing"
	case PhaseFinalizing:
		return "Finalizing"
	default:
		return "Unknown"
	}
}

// Config holds segmentation parameters.
type Config struct {
	// TargetDuration is the minimum content per fragment before a keyframe
	// may close it.
	TargetDuration time.Duration

	// MinDuration is the floor below which a completed fragment is
	// discarded instead of emitted.
	MinDuration time.Duration
}

// DefaultConfig returns a Config with default segmentation parameters.
func DefaultConfig() Config {
	return Config{
		TargetDuration: DefaultTargetDuration,
		MinDuration:    DefaultMinDuration,
	}
}

// Sink receives each completed fragment. It must not block on network
// I/O; the pusher's enqueue path satisfies this.
type Sink func(domain.Fragment) error

// Interceptor accumulates encoded samples into fragments. Not safe for
// concurrent use; all calls must come from the pipeline goroutine.
type Interceptor struct {
	cfg     Config
	sink    Sink
	journal *journal.Journal
	logger  ports.Logger

	phase   Phase
	init    []byte
	nextSeq uint64

	// Current fragment accumulator.
	payload  []byte
	tracks   domain.TrackPresence
	start    time.Duration
	end      time.Duration
	hasStart bool
	aligned  bool

	// Last seen PTS per track, for the ordering check.
	lastPTS map[domain.TrackKind]time.Duration
}

// New creates an interceptor in PhaseIdle.
func New(cfg Config, sink Sink, jrnl *journal.Journal, logger ports.Logger) *Interceptor {
	if cfg.TargetDuration <= 0 {
		cfg.TargetDuration = DefaultTargetDuration
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Interceptor{
		cfg:     cfg,
		sink:    sink,
		journal: jrnl,
		logger:  logger,
		phase:   PhaseIdle,
	}
}

// Phase returns the current session phase.
func (ic *Interceptor) Phase() Phase {
	return ic.phase
}

// NextSequence returns the sequence number the next emitted fragment
// will carry.
func (ic *Interceptor) NextSequence() uint64 {
	return ic.nextSeq
}

// Start transitions Idle -> Capturing. init is the codec initialization
// metadata stamped on every fragment so each one plays independently.
func (ic *Interceptor) Start(init []byte) error {
	if ic.phase != PhaseIdle {
		return domain.ErrAlreadyRunning
	}
	ic.phase = PhaseCapturing
	ic.init = init
	ic.nextSeq = 0
	ic.lastPTS = make(map[domain.TrackKind]time.Duration)
	ic.resetAccumulator()
	ic.journal.Append(journal.SeverityInfo, "capture session started")
	return nil
}

// Ingest consumes one encoded sample. While capturing, samples accumulate
// into the current fragment until a keyframe arrives with at least the
// target duration of content behind it, at which point the fragment is
// emitted and a new one begins at that keyframe.
//
// A sample whose timestamp regresses relative to its track's previous
// sample is a protocol violation: the capture source is assumed ordered
// and the interceptor does not reorder.
func (ic *Interceptor) Ingest(s domain.Sample) error {
	if ic.phase != PhaseCapturing {
		return domain.ErrSessionClosed
	}

	if last, seen := ic.lastPTS[s.Track]; seen && s.PTS < last {
		ic.journal.Append(journal.SeverityError,
			fmt.Sprintf("out-of-order %s sample: pts %v after %v", s.Track, s.PTS, last))
		return fmt.Errorf("%w: %s pts %v after %v", domain.ErrOutOfOrderSample, s.Track, s.PTS, last)
	}
	ic.lastPTS[s.Track] = s.PTS

	if ic.shouldCut(s) {
		if err := ic.closeFragment(s.PTS); err != nil {
			return err
		}
	}

	if !ic.hasStart {
		ic.start = s.PTS
		ic.hasStart = true
		ic.aligned = s.Track != domain.TrackVideo || s.Keyframe
	}
	ic.payload = append(ic.payload, s.Payload...)
	ic.tracks = ic.tracks.With(s.Track)
	if end := s.PTS + s.Duration; end > ic.end {
		ic.end = end
	}
	return nil
}

// Finalize transitions Capturing -> Finalizing -> Idle, flushing any
// accumulated partial fragment through the same minimum-duration check.
func (ic *Interceptor) Finalize() error {
	if ic.phase != PhaseCapturing {
		return domain.ErrNotRunning
	}
	ic.phase = PhaseFinalizing

	var err error
	if ic.hasStart {
		err = ic.closeFragment(ic.end)
	}

	ic.phase = PhaseIdle
	ic.journal.Append(journal.SeverityInfo, "capture session finalized")
	return err
}

// shouldCut reports whether the incoming sample closes the current
// fragment: a new video keyframe with at least the target duration of
// accumulated content.
func (ic *Interceptor) shouldCut(s domain.Sample) bool {
	if !ic.hasStart || s.Track != domain.TrackVideo || !s.Keyframe {
		return false
	}
	return s.PTS-ic.start >= ic.cfg.TargetDuration
}

// closeFragment emits the accumulated fragment ending at boundary, or
// discards it when shorter than the configured minimum.
func (ic *Interceptor) closeFragment(boundary time.Duration) error {
	duration := boundary - ic.start
	if duration < ic.cfg.MinDuration {
		ic.journal.Append(journal.SeverityInfo,
			fmt.Sprintf("discarded short fragment: %v below minimum %v", duration, ic.cfg.MinDuration))
		ic.resetAccumulator()
		return nil
	}

	frag := domain.Fragment{
		SequenceNumber:  ic.nextSeq,
		Tracks:          ic.tracks,
		StartOffset:     ic.start,
		Duration:        duration,
		KeyframeAligned: ic.aligned,
		Init:            ic.init,
		Payload:         ic.payload,
	}
	ic.nextSeq++
	ic.resetAccumulator()

	ic.logger.Debug("fragment emitted",
		ports.Uint64("seq", frag.SequenceNumber),
		ports.Duration("duration", frag.Duration),
		ports.Int("bytes", frag.Size()),
	)
	return ic.sink(frag)
}

func (ic *Interceptor) resetAccumulator() {
	ic.payload = nil
	ic.tracks = domain.TracksNone
	ic.start = 0
	ic.end = 0
	ic.hasStart = false
	ic.aligned = false
}
