package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConcurrencyLimiter is a token bucket of size maxConcurrent, decremented
// on RecordJobStart and restored on RecordJobCompletion, additionally
// enforcing a sliding-window cap of N starts per W seconds via
// golang.org/x/time/rate — the same construction idiom the reference
// stack uses for outbound HTTP client throttling
// (rate.NewLimiter(rate.Limit(n), n)).
type ConcurrencyLimiter struct {
	mu sync.Mutex

	maxConcurrent int
	inFlight      int

	window *rate.Limiter
}

// NewConcurrencyLimiter builds a limiter allowing up to maxConcurrent
// jobs running at once, and at most windowN starts per windowDuration.
// A non-positive windowN disables the sliding-window cap (only the
// concurrency cap applies).
func NewConcurrencyLimiter(maxConcurrent int, windowN int, windowDuration time.Duration) *ConcurrencyLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	var w *rate.Limiter
	if windowN > 0 && windowDuration > 0 {
		w = rate.NewLimiter(rate.Every(windowDuration/time.Duration(windowN)), windowN)
	}
	return &ConcurrencyLimiter{
		maxConcurrent: maxConcurrent,
		window:        w,
	}
}

func (l *ConcurrencyLimiter) CanProceed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight >= l.maxConcurrent {
		return false
	}
	if l.window != nil && l.window.Tokens() < 1 {
		return false
	}
	return true
}

func (l *ConcurrencyLimiter) NextAvailableTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if l.inFlight >= l.maxConcurrent {
		// No principled estimate for when a slot frees up; callers fall
		// back to their own polling granularity in this case.
		return now
	}
	if l.window != nil {
		r := l.window.ReserveN(now, 1)
		delay := r.Delay()
		r.Cancel()
		if delay > 0 {
			return now.Add(delay)
		}
	}
	return now
}

func (l *ConcurrencyLimiter) RecordJobStart() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight++
	if l.window != nil {
		l.window.Allow()
	}
}

func (l *ConcurrencyLimiter) RecordJobCompletion() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight > 0 {
		l.inFlight--
	}
}

func (l *ConcurrencyLimiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight = 0
}
