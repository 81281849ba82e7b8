// Package ratelimit implements per-source-IP admission control for the
// packet pipeline: the `ALL` class (every inbound frame) and the `FWD`
// class (queries the authoritative resolver refused, about to enter the
// forwarder) named in spec.md §5/§7.
//
// Each pipeline worker owns its own Limiter instance (spec.md's
// `rate_limit(src_ip, class, cpu_id)` signature is per-core by design) so
// that admission control never becomes a cross-core lock.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/jroosing/kdnsfwd/internal/config"
)

// Class distinguishes the two admission points a frame passes through.
type Class int

const (
	ClassAll Class = iota
	ClassFwd
)

// Limiter bundles the ALL and FWD class token buckets for one worker.
type Limiter struct {
	all *tokenBucket
	fwd *tokenBucket
}

// New builds a Limiter from the shared rate-limit configuration.
func New(cfg config.RateLimitConfig) *Limiter {
	cleanup := time.Duration(cfg.CleanupSeconds) * time.Second
	if cleanup <= 0 {
		cleanup = 60 * time.Second
	}
	return &Limiter{
		all: newTokenBucket(cfg.AllQPS, cfg.AllBurst, cleanup),
		fwd: newTokenBucket(cfg.FwdQPS, cfg.FwdBurst, cleanup),
	}
}

// Allow reports whether a request from srcIP in the given class should
// be admitted, consuming a token on success.
func (l *Limiter) Allow(srcIP string, class Class) bool {
	if l == nil {
		return true
	}
	switch class {
	case ClassFwd:
		return l.fwd.allow(srcIP)
	default:
		return l.all.allow(srcIP)
	}
}

// Set holds one independent Limiter per pipeline worker (per-CPU per
// spec.md's cpu_id parameter), avoiding any shared lock between cores.
type Set struct {
	limiters []*Limiter
}

// NewSet builds a Set with one Limiter per worker.
func NewSet(cfg config.RateLimitConfig, workers int) *Set {
	if workers <= 0 {
		workers = 1
	}
	s := &Set{limiters: make([]*Limiter, workers)}
	for i := range s.limiters {
		s.limiters[i] = New(cfg)
	}
	return s
}

// For returns the Limiter owned by the given worker/cpu index.
func (s *Set) For(cpuID int) *Limiter {
	if cpuID < 0 || cpuID >= len(s.limiters) {
		cpuID = 0
	}
	return s.limiters[cpuID]
}

// tokenBucket is a single-class, string-keyed token bucket limiter.
type tokenBucket struct {
	rate            float64
	burst           float64
	cleanupInterval time.Duration

	mu          sync.Mutex
	lastCleanup time.Time
	lastUpdate  map[string]time.Time
	tokens      map[string]float64
}

func newTokenBucket(rate float64, burst int, cleanupInterval time.Duration) *tokenBucket {
	return &tokenBucket{
		rate:            rate,
		burst:           float64(burst),
		cleanupInterval: cleanupInterval,
		lastCleanup:     time.Now(),
		lastUpdate:      make(map[string]time.Time),
		tokens:          make(map[string]float64),
	}
}

// allow checks and consumes a token for key. Rate limiting is disabled
// (always allowed) when rate or burst is non-positive.
func (b *tokenBucket) allow(key string) bool {
	if b.rate <= 0 || b.burst <= 0 {
		return true
	}

	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastCleanup) > b.cleanupInterval {
		b.cleanupLocked(now)
	}

	last, exists := b.lastUpdate[key]
	if !exists {
		b.lastUpdate[key] = now
		b.tokens[key] = b.burst - 1
		return true
	}

	elapsed := now.Sub(last).Seconds()
	b.lastUpdate[key] = now

	tokens := b.tokens[key]
	if elapsed > 0 {
		tokens = math.Min(b.burst, tokens+elapsed*b.rate)
	}

	if tokens >= 1 {
		b.tokens[key] = tokens - 1
		return true
	}
	b.tokens[key] = tokens
	return false
}

func (b *tokenBucket) cleanupLocked(now time.Time) {
	staleBefore := now.Add(-b.cleanupInterval)
	for k, last := range b.lastUpdate {
		if !last.After(staleBefore) {
			delete(b.lastUpdate, k)
			delete(b.tokens, k)
		}
	}
	b.lastCleanup = now
}
