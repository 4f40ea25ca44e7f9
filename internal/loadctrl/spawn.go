// Package loadctrl paces user spawning and the pauses between user tasks.
package loadctrl

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// SpawnLimiter releases user starts at a fixed rate using a token bucket
// with a burst of one, so the first user starts immediately.
//
// Thread Safety: Safe for concurrent use.
type SpawnLimiter struct {
	limiter *rate.Limiter
	perSec  float64

	// Statistics
	totalAcquired atomic.Int64
	totalWaitTime atomic.Int64 // in nanoseconds
}

// SpawnStats contains statistics about spawn pacing.
type SpawnStats struct {
	// TotalAcquired is the number of users released.
	TotalAcquired int64
	// Rate is the configured users per second.
	Rate float64
	// AvgWaitTime is the average time a spawn waited for its slot.
	AvgWaitTime time.Duration
}

// NewSpawnLimiter creates a limiter releasing perSec users per second.
// A non-positive rate releases users without delay.
func NewSpawnLimiter(perSec float64) *SpawnLimiter {
	limit := rate.Limit(perSec)
	if perSec <= 0 {
		limit = rate.Inf
	}
	return &SpawnLimiter{
		limiter: rate.NewLimiter(limit, 1),
		perSec:  perSec,
	}
}

// Acquire blocks until the next user may start or ctx is done.
func (l *SpawnLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	l.totalAcquired.Add(1)
	l.totalWaitTime.Add(int64(time.Since(start)))
	return nil
}

// Rate returns the configured users per second.
func (l *SpawnLimiter) Rate() float64 {
	return l.perSec
}

// Stats returns current statistics about the limiter.
func (l *SpawnLimiter) Stats() SpawnStats {
	acquired := l.totalAcquired.Load()
	var avgWait time.Duration
	if acquired > 0 {
		avgWait = time.Duration(l.totalWaitTime.Load() / acquired)
	}
	return SpawnStats{
		TotalAcquired: acquired,
		Rate:          l.perSec,
		AvgWaitTime:   avgWait,
	}
}
