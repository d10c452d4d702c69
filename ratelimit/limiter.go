package ratelimit

import (
	"context"
	"sync"
	"time"

	"songpool-api-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// Config holds the token bucket parameters shared by all identities.
type Config struct {
	Capacity     float64       // maximum burst size
	RefillRate   float64       // tokens added per second
	PollInterval time.Duration // delay between queue drain passes
}

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = 25 * time.Millisecond

// Limiter hands out request credits from per-identity token buckets.
// Buckets are created lazily on first use and live for the process
// lifetime. Waiters behind an empty bucket are served highest priority
// first, FIFO within a tier. There is no anti-starvation aging: a steady
// stream of high-priority acquires can starve lower tiers indefinitely.
// This is a known, accepted limitation.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	cfg     Config
}

// BucketStatus is a point-in-time view of one identity's bucket.
type BucketStatus struct {
	Tokens  float64 `json:"tokens"`
	Waiting int     `json:"waiting"`
}

// NewLimiter creates a limiter with the given bucket parameters.
func NewLimiter(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Limiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
	}
}

// Acquire blocks until one token is available for the identity, honoring
// priority order among concurrent waiters. It returns early with the
// context error if ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context, identity string, prio Priority) error {
	return l.bucketFor(identity).acquire(ctx, prio)
}

// NotifyThrottled records an upstream 429 for the identity: the bucket is
// emptied and its refill clock pushed forward by retryAfter, so every
// caller sharing the bucket observes the pause, not just the one that was
// throttled.
func (l *Limiter) NotifyThrottled(identity string, retryAfter time.Duration) {
	b := l.bucketFor(identity)

	b.mu.Lock()
	b.tokens = 0
	b.lastRefill = time.Now().Add(retryAfter)
	b.mu.Unlock()

	log.Warnf("%s Upstream throttled %s, bucket paused for %v",
		logcolors.LogThrottle, logcolors.Identity(identity), retryAfter)
}

// Tokens returns the identity's current token count after a refill pass.
// Primarily an inspection hook for tests and /stats.
func (l *Limiter) Tokens(identity string) float64 {
	b := l.bucketFor(identity)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	return b.tokens
}

// Snapshot reports every known bucket's tokens and queued waiter count.
func (l *Limiter) Snapshot() map[string]BucketStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]BucketStatus, len(l.buckets))
	for id, b := range l.buckets {
		b.mu.Lock()
		b.refillLocked(time.Now())
		out[id] = BucketStatus{Tokens: b.tokens, Waiting: b.queue.len()}
		b.mu.Unlock()
	}
	return out
}

// bucketFor returns the identity's bucket, creating it on first use.
func (l *Limiter) bucketFor(identity string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[identity]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[identity]; ok {
		return b
	}

	b = &bucket{
		identity:   identity,
		tokens:     l.cfg.Capacity, // full bucket on first use
		capacity:   l.cfg.Capacity,
		refillRate: l.cfg.RefillRate,
		lastRefill: time.Now(),
		poll:       l.cfg.PollInterval,
		queue:      newWaitQueue(),
	}
	l.buckets[identity] = b

	log.Debugf("%s Created bucket for %s (capacity=%.1f, refill=%.2f/s)",
		logcolors.LogLimiter, logcolors.Identity(identity), b.capacity, b.refillRate)
	return b
}

// bucket is one identity's token bucket plus its wait queue.
type bucket struct {
	mu         sync.Mutex
	identity   string
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
	poll       time.Duration
	queue      *waitQueue
	draining   bool
}

// refillLocked credits tokens for the wall-clock time elapsed since the
// last accounting update. Callers must hold b.mu. A lastRefill in the
// future (set by NotifyThrottled) yields no credit until it passes.
func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

func (b *bucket) acquire(ctx context.Context, prio Priority) error {
	b.mu.Lock()
	b.refillLocked(time.Now())

	// Fast path: no one queued ahead of us and a token is ready.
	if b.queue.len() == 0 && b.tokens >= 1.0 {
		b.tokens -= 1.0
		b.mu.Unlock()
		return nil
	}

	w := newWaiter(prio)
	b.queue.push(w)
	if !b.draining {
		b.draining = true
		go b.drain()
	}
	queued := b.queue.len()
	b.mu.Unlock()

	log.Debugf("%s %s waiting for token (priority=%s, queued=%d)",
		logcolors.LogLimiter, logcolors.Identity(b.identity), prio, queued)

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		if w.state.CompareAndSwap(stateWaiting, stateCancelled) {
			return ctx.Err()
		}
		// Granted in the same instant; take the token rather than leak it.
		<-w.ch
		return nil
	}
}

// drain services the wait queue until it empties, polling on a short
// fixed delay rather than scheduling a timer per waiter.
func (b *bucket) drain() {
	for {
		b.mu.Lock()
		b.refillLocked(time.Now())

		for b.tokens >= 1.0 {
			w := b.queue.pop()
			if w == nil {
				break
			}
			if !w.state.CompareAndSwap(stateWaiting, stateGranted) {
				continue // abandoned while queued
			}
			b.tokens -= 1.0
			close(w.ch)
		}

		if b.queue.len() == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()

		time.Sleep(b.poll)
	}
}
