package relay

import (
	"sync"
	"time"
)

// tokenBucket throttles inbound messages for one session.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
	now      func() time.Time
}

// newTokenBucket returns nil when burst is not positive; a nil bucket allows
// everything.
func newTokenBucket(burst int, refill time.Duration) *tokenBucket {
	if burst <= 0 {
		return nil
	}
	if refill <= 0 {
		refill = time.Second
	}
	return &tokenBucket{
		tokens:   float64(burst),
		capacity: float64(burst),
		perSec:   float64(burst) / refill.Seconds(),
		last:     time.Now(),
		now:      time.Now,
	}
}

func (b *tokenBucket) allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.perSec
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
