// Package lifecycle tracks whether the gateway still accepts new interviews.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is shared by the readiness probe and the interview handler. The
// zero value is accepting; a nil *Lifecycle never drains.
type Lifecycle struct {
	drainingSince atomic.Pointer[time.Time]
}

// BeginDrain stops admission. Only the first call records the start time; it
// reports whether this call started the drain.
func (l *Lifecycle) BeginDrain(now time.Time) bool {
	if l == nil {
		return false
	}
	return l.drainingSince.CompareAndSwap(nil, &now)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.drainingSince.Load() != nil
}

// DrainingSince returns when the drain began.
func (l *Lifecycle) DrainingSince() (time.Time, bool) {
	if l == nil {
		return time.Time{}, false
	}
	ts := l.drainingSince.Load()
	if ts == nil {
		return time.Time{}, false
	}
	return *ts, true
}
