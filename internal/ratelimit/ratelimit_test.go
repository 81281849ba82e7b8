package ratelimit_test

import (
	"testing"

	"github.com/jroosing/kdnsfwd/internal/config"
	"github.com/jroosing/kdnsfwd/internal/ratelimit"
	"github.com/stretchr/testify/assert"
)

func cfg(qps float64, burst int) config.RateLimitConfig {
	return config.RateLimitConfig{
		CleanupSeconds: 60,
		AllQPS:         qps,
		AllBurst:       burst,
		FwdQPS:         qps,
		FwdBurst:       burst,
	}
}

func TestAllow_AllowsUpToBurstThenDenies(t *testing.T) {
	l := ratelimit.New(cfg(10, 3))

	assert.True(t, l.Allow("1.2.3.4", ratelimit.ClassAll))
	assert.True(t, l.Allow("1.2.3.4", ratelimit.ClassAll))
	assert.True(t, l.Allow("1.2.3.4", ratelimit.ClassAll))
	assert.False(t, l.Allow("1.2.3.4", ratelimit.ClassAll))
}

func TestAllow_ClassesAreIndependent(t *testing.T) {
	l := ratelimit.New(cfg(10, 1))

	assert.True(t, l.Allow("1.2.3.4", ratelimit.ClassAll))
	assert.False(t, l.Allow("1.2.3.4", ratelimit.ClassAll))
	// FWD class has its own bucket, unaffected by ALL's exhaustion.
	assert.True(t, l.Allow("1.2.3.4", ratelimit.ClassFwd))
}

func TestAllow_KeysAreIndependentPerSourceIP(t *testing.T) {
	l := ratelimit.New(cfg(10, 1))

	assert.True(t, l.Allow("1.1.1.1", ratelimit.ClassAll))
	assert.False(t, l.Allow("1.1.1.1", ratelimit.ClassAll))
	assert.True(t, l.Allow("2.2.2.2", ratelimit.ClassAll))
}

func TestAllow_DisabledWhenRateOrBurstNonPositive(t *testing.T) {
	l := ratelimit.New(cfg(0, 0))
	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow("3.3.3.3", ratelimit.ClassAll))
	}
}

func TestAllow_NilLimiterAlwaysAllows(t *testing.T) {
	var l *ratelimit.Limiter
	assert.True(t, l.Allow("4.4.4.4", ratelimit.ClassAll))
}

func TestNewSet_PerWorkerIsolation(t *testing.T) {
	s := ratelimit.NewSet(cfg(10, 1), 2)

	assert.True(t, s.For(0).Allow("5.5.5.5", ratelimit.ClassAll))
	assert.False(t, s.For(0).Allow("5.5.5.5", ratelimit.ClassAll))
	// Worker 1's limiter is a distinct instance: same key, fresh bucket.
	assert.True(t, s.For(1).Allow("5.5.5.5", ratelimit.ClassAll))
}

func TestSet_For_OutOfRangeFallsBackToFirst(t *testing.T) {
	s := ratelimit.NewSet(cfg(10, 5), 1)
	assert.Same(t, s.For(0), s.For(99))
}
