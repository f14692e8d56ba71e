// Package ratelimit throttles sign-in attempts and API recrawl requests.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type state struct {
	tokens float64
	at     time.Time
}

// Limiter keeps one token bucket per key. Buckets are created full on first use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*state
	now     func() time.Time
}

func New() *Limiter { return NewWithClock(time.Now) }

func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{buckets: make(map[string]*state), now: now}
}

// Allow takes one token from key's bucket of size burst refilled at perSec tokens a second.
func (l *Limiter) Allow(key string, burst, perSec float64) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.buckets[key]
	if !ok {
		st = &state{tokens: burst, at: now}
		l.buckets[key] = st
	} else if dt := now.Sub(st.at).Seconds(); dt > 0 {
		st.tokens = math.Min(burst, st.tokens+dt*perSec)
		st.at = now
	}
	if st.tokens < 1 {
		return false
	}
	st.tokens--
	return true
}

// Reset refills key's bucket by forgetting it.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}
