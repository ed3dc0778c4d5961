package identity

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyLimiter tracks per-key request rates. Limits are per process: with N
// replicas the effective limit per key is N * rate.
type keyLimiter struct {
	mu      sync.Mutex
	entries map[string]*visitor
	rate    rate.Limit
	burst   int
	idle    time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newKeyLimiter allows r requests per second per key with a burst of b.
// A non-positive r disables limiting.
func newKeyLimiter(r rate.Limit, b int) *keyLimiter {
	if b < 1 {
		b = 1
	}
	return &keyLimiter{
		entries: make(map[string]*visitor),
		rate:    r,
		burst:   b,
		idle:    3 * time.Minute,
	}
}

// Allow reports whether a request for keyID may proceed.
func (kl *keyLimiter) Allow(keyID string, now time.Time) bool {
	if kl.rate <= 0 {
		return true
	}
	kl.mu.Lock()
	v, ok := kl.entries[keyID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(kl.rate, kl.burst)}
		kl.entries[keyID] = v
	}
	v.lastSeen = now
	kl.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Forget drops the limiter for a revoked key.
func (kl *keyLimiter) Forget(keyID string) {
	kl.mu.Lock()
	delete(kl.entries, keyID)
	kl.mu.Unlock()
}

// sweep removes keys that haven't been seen recently.
func (kl *keyLimiter) sweep(now time.Time) int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	removed := 0
	for id, v := range kl.entries {
		if now.Sub(v.lastSeen) > kl.idle {
			delete(kl.entries, id)
			removed++
		}
	}
	return removed
}

func (kl *keyLimiter) size() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.entries)
}
