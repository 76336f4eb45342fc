package push

import (
	"time"

	"github.com/fragship/fragship/internal/domain"
)

// DefaultWindowSpan is the trailing span over which network metrics are
// computed.
const DefaultWindowSpan = 10 * time.Second

// window keeps network samples for a trailing time span and derives live
// throughput and error-rate metrics. Samples older than the span are
// evicted continuously. Owned exclusively by the upload domain; not safe
// for concurrent use.
type window struct {
	span    time.Duration
	samples []domain.NetworkSample
	now     func() time.Time
}

// newWindow creates a metrics window with the given span.
func newWindow(span time.Duration, now func() time.Time) *window {
	if span <= 0 {
		span = DefaultWindowSpan
	}
	if now == nil {
		now = time.Now
	}
	return &window{span: span, now: now}
}

// Add records a sample and evicts anything older than the span.
func (w *window) Add(s domain.NetworkSample) {
	w.samples = append(w.samples, s)
	w.evict()
}

// evict drops samples older than the trailing span.
func (w *window) evict() {
	cutoff := w.now().Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// Throughput returns delivered bytes per second over the window,
// counting successful transfers only.
func (w *window) Throughput() float64 {
	w.evict()
	var bytes int
	for _, s := range w.samples {
		if s.OK {
			bytes += s.Bytes
		}
	}
	return float64(bytes) / w.span.Seconds()
}

// ErrorRate returns the fraction of attempts in the window that failed,
// or 0 with no samples.
func (w *window) ErrorRate() float64 {
	w.evict()
	if len(w.samples) == 0 {
		return 0
	}
	var failed int
	for _, s := range w.samples {
		if !s.OK {
			failed++
		}
	}
	return float64(failed) / float64(len(w.samples))
}

// Len returns the number of retained samples.
func (w *window) Len() int {
	w.evict()
	return len(w.samples)
}
