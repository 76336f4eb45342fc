// Package journal provides the bounded diagnostic log shared by every
// pipeline component. It is the only structure in the system with
// many-writer access; all synchronization is internal.
package journal

import (
	"sync"
	"time"

	"github.com/fragship/fragship/internal/ports"
)

// DefaultCapacity is the number of entries retained before eviction.
const DefaultCapacity = 1000

// Severity classifies a journal entry.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError

	// SeverityGap marks a stream continuity break: an evicted or
	// permanently dropped fragment that will be missing from playback.
	SeverityGap
)

// String returns a human-readable representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	case SeverityGap:
		return "gap"
	default:
		return "unknown"
	}
}

// Entry is one diagnostic record.
type Entry struct {
	At       time.Time
	Severity Severity
	Message  string
}

// Journal is a bounded, thread-safe, append-only ring buffer of entries.
// Append is O(1); when full, the oldest entry is evicted.
type Journal struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	head     int // index of the oldest entry
	count    int

	mirror ports.Logger
}

// New creates a journal with DefaultCapacity.
func New() *Journal {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a journal retaining at most capacity entries.
func NewWithCapacity(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Journal{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// SetMirror forwards every appended entry to the given logger in addition
// to retaining it. Pass nil to disable. Not safe to call concurrently
// with Append; set it during wiring.
func (j *Journal) SetMirror(logger ports.Logger) {
	j.mirror = logger
}

// Append records an entry, evicting the oldest if the journal is full.
func (j *Journal) Append(sev Severity, msg string) {
	e := Entry{At: time.Now(), Severity: sev, Message: msg}

	j.mu.Lock()
	tail := (j.head + j.count) % j.capacity
	j.entries[tail] = e
	if j.count == j.capacity {
		j.head = (j.head + 1) % j.capacity
	} else {
		j.count++
	}
	mirror := j.mirror
	j.mu.Unlock()

	if mirror != nil {
		switch sev {
		case SeverityDebug:
			mirror.Debug(msg)
		case SeverityWarn, SeverityGap:
			mirror.Warn(msg)
		case SeverityError:
			mirror.Error(msg)
		default:
			mirror.Info(msg)
		}
	}
}

// Snapshot returns the current entries in insertion order. Writers are
// blocked only for the duration of the copy.
func (j *Journal) Snapshot() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, j.count)
	for i := 0; i < j.count; i++ {
		out[i] = j.entries[(j.head+i)%j.capacity]
	}
	return out
}

// Len returns the number of retained entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}
