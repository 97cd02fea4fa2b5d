// Package timeseries tracks event counts over rolling time windows.
//
// The supervisor feeds it start requests and worker exits; the dashboard
// reads per-minute rates over 1, 5 and 15 minute windows, in the manner of a
// load average.
//
// Add is lock-free. Sample and Stats take the ring buffer lock.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize retains 15 minutes of samples at one per second.
	ringBufferSize = 900

	window1m  = 1 * time.Minute
	window5m  = 5 * time.Minute
	window15m = 15 * time.Minute
)

// Clock lets tests control time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// sample is the cumulative event count at a point in time.
type sample struct {
	at    time.Time
	count int64
}

// EventRate counts events and reports rolling per-minute rates.
//
//	rate := NewEventRate()
//	rate.Add(1)      // on every event
//	rate.Sample()    // from a 1s ticker
//	s := rate.Stats()
type EventRate struct {
	total atomic.Int64

	mu       sync.RWMutex
	samples  []sample
	writeIdx int

	startTime time.Time
	clock     Clock
}

// RateStats is a point-in-time view of an EventRate.
type RateStats struct {
	Total int64

	// Events per minute over each window. A window longer than the
	// recorded history uses the oldest sample available.
	PerMin1m  float64
	PerMin5m  float64
	PerMin15m float64

	PerMinOverall float64
}

// NewEventRate creates a tracker on the wall clock.
func NewEventRate() *EventRate {
	return NewEventRateWithClock(realClock{})
}

// NewEventRateWithClock creates a tracker on a custom clock.
func NewEventRateWithClock(clock Clock) *EventRate {
	now := clock.Now()
	r := &EventRate{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	r.samples = append(r.samples, sample{at: now})
	return r
}

// Add counts n events. Non-positive n is ignored.
func (r *EventRate) Add(n int64) {
	if n > 0 {
		r.total.Add(n)
	}
}

// Sample records the current total. Call it periodically.
func (r *EventRate) Sample() {
	s := sample{at: r.clock.Now(), count: r.total.Load()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) < ringBufferSize {
		r.samples = append(r.samples, s)
		return
	}
	r.samples[r.writeIdx] = s
	r.writeIdx = (r.writeIdx + 1) % ringBufferSize
}

// Stats computes the current rates.
func (r *EventRate) Stats() RateStats {
	now := r.clock.Now()
	total := r.total.Load()

	r.mu.RLock()
	defer r.mu.RUnlock()

	st := RateStats{
		Total:     total,
		PerMin1m:  r.perMinute(now, total, window1m),
		PerMin5m:  r.perMinute(now, total, window5m),
		PerMin15m: r.perMinute(now, total, window15m),
	}
	if elapsed := now.Sub(r.startTime).Minutes(); elapsed > 0 {
		st.PerMinOverall = float64(total) / elapsed
	}
	return st
}

// perMinute returns the event rate since the sample nearest to, and not
// after, now-window. Caller holds mu.
func (r *EventRate) perMinute(now time.Time, total int64, window time.Duration) float64 {
	target := now.Add(-window)

	var base *sample
	var bestDiff time.Duration = -1
	for i := range r.samples {
		s := &r.samples[i]
		if s.at.After(target) {
			continue
		}
		if diff := target.Sub(s.at); bestDiff < 0 || diff < bestDiff {
			base = s
			bestDiff = diff
		}
	}
	if base == nil {
		base = r.oldest()
	}
	if base == nil {
		return 0
	}

	elapsed := now.Sub(base.at).Minutes()
	if elapsed <= 0 {
		return 0
	}
	return float64(total-base.count) / elapsed
}

// oldest returns the oldest retained sample. Caller holds mu.
func (r *EventRate) oldest() *sample {
	if len(r.samples) == 0 {
		return nil
	}
	if len(r.samples) < ringBufferSize {
		return &r.samples[0]
	}
	return &r.samples[r.writeIdx]
}

// Total returns the number of events counted.
func (r *EventRate) Total() int64 {
	return r.total.Load()
}

// SampleCount returns the number of retained samples.
func (r *EventRate) SampleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}
