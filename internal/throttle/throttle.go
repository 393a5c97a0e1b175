// Package throttle provides per-key rate limiters, used to cap how often
// push events may trigger background REST refreshes.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const staleAfter = 10 * time.Minute

// Store hands out one token-bucket limiter per key. Keys that have not been
// seen for a while are dropped opportunistically on access, so no background
// goroutine is needed.
type Store struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*entry
	sweepAt time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerMinute builds a Store allowing n events per minute per key, with the
// given burst capacity.
func PerMinute(n, burst int) *Store {
	if n <= 0 {
		n = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &Store{
		limit:   rate.Every(time.Minute / time.Duration(n)),
		burst:   burst,
		entries: map[string]*entry{},
		sweepAt: time.Now().Add(staleAfter),
	}
}

// Allow reports whether an event for the given key is permitted right now.
func (s *Store) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.After(s.sweepAt) {
		for k, e := range s.entries {
			if now.Sub(e.lastSeen) > staleAfter {
				delete(s.entries, k)
			}
		}
		s.sweepAt = now.Add(staleAfter)
	}

	e, ok := s.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}
