package domain

import (
	"sync"
	"time"
)

var (
	epochOnce sync.Once
	epoch     time.Time
)

// SessionEpoch returns the fixed timestamp baseline for this process:
// the first instant of the previous calendar year, UTC. Every fragment
// start offset is a small, always-positive duration from this baseline,
// and the baseline stays valid across a session that spans a year
// boundary. Computed once at first use, immutable thereafter.
func SessionEpoch() time.Time {
	epochOnce.Do(func() {
		epoch = epochFor(time.Now())
	})
	return epoch
}

// epochFor computes the epoch for a given current time. Split out so
// tests can exercise the year-boundary rule without process state.
func epochFor(now time.Time) time.Time {
	return time.Date(now.UTC().Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC)
}
