package loadctrl

import (
	"context"
	"math/rand/v2"
	"time"
)

// WaitTime yields the pause a user takes after each task.
type WaitTime interface {
	Next() time.Duration
}

// between is a uniform wait in [min, max].
type between struct {
	min, max time.Duration
}

// Between returns a WaitTime drawn uniformly from [minWait, maxWait].
// Arguments in the wrong order are swapped.
func Between(minWait, maxWait time.Duration) WaitTime {
	if maxWait < minWait {
		minWait, maxWait = maxWait, minWait
	}
	return between{min: minWait, max: maxWait}
}

func (b between) Next() time.Duration {
	if b.max == b.min {
		return b.min
	}
	return b.min + rand.N(b.max-b.min+1)
}

// Constant returns a WaitTime that always yields d.
func Constant(d time.Duration) WaitTime {
	return between{min: d, max: d}
}

// Sleep pauses for d or until ctx is done. It reports whether the full
// pause elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
