package domain

import "time"

// TaskState is the delivery state of an upload task. Transitions:
//
//	Pending -> InFlight -> Committing -> Committed
//	               |            ^
//	               v            |
//	            Pending (retry) |
//	               |            |
//	               v            v
//	            Dropped      Dropped
//
// Committing means the transfer finished (success or retry exhaustion)
// but a lower sequence number has not yet resolved; the task waits in
// the pending-commit set until its turn.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskInFlight
	TaskCommitting
	TaskCommitted
	TaskDropped
)

// String returns a human-readable representation of the task state.
func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "Pending"
	case TaskInFlight:
		return "InFlight"
	case TaskCommitting:
		return "Committing"
	case TaskCommitted:
		return "Committed"
	case TaskDropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}

// UploadTask wraps one Fragment with its mutable attempt state. Created
// when a fragment is first dispatched, destroyed when the fragment is
// delivered or permanently dropped.
type UploadTask struct {
	Fragment Fragment

	// State is the current delivery state.
	State TaskState

	// Attempts counts transfer attempts charged against the retry
	// ceiling. Configuration-blocked attempts are refunded and do not
	// accumulate here.
	Attempts int

	// LastFailure records why the most recent attempt failed.
	LastFailure error

	// NextEligible is the backoff deadline before which the task must not
	// be re-dispatched.
	NextEligible time.Time

	// Delivered is true when the transfer succeeded (as opposed to retry
	// exhaustion) by the time the task reaches Committing.
	Delivered bool
}

// NetworkSample is one timestamped transfer observation, kept in the
// trailing metrics window.
type NetworkSample struct {
	At      time.Time
	Bytes   int
	Elapsed time.Duration
	OK      bool
}
