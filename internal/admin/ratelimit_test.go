package admin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoginLimiterBlocksAfterLimit(t *testing.T) {
	l := newLoginLimiter()

	for i := 0; i < loginAttemptLimit; i++ {
		assert.True(t, l.allow("10.0.0.1"), "attempt %d", i)
		l.record("10.0.0.1")
	}
	assert.False(t, l.allow("10.0.0.1"))

	// Other clients are unaffected.
	assert.True(t, l.allow("10.0.0.2"))
}

func TestLoginLimiterReset(t *testing.T) {
	l := newLoginLimiter()

	for i := 0; i < loginAttemptLimit; i++ {
		l.record("10.0.0.1")
	}
	assert.False(t, l.allow("10.0.0.1"))

	l.reset("10.0.0.1")
	assert.True(t, l.allow("10.0.0.1"))
}

func TestLoginLimiterWindowExpiry(t *testing.T) {
	l := newLoginLimiter()

	// Backdate all attempts past the window.
	old := time.Now().Add(-loginAttemptWindow - time.Minute)
	l.mu.Lock()
	for i := 0; i < loginAttemptLimit; i++ {
		l.attempts["10.0.0.1"] = append(l.attempts["10.0.0.1"], old)
	}
	l.mu.Unlock()

	assert.True(t, l.allow("10.0.0.1"))
}

func TestLoginLimiterSweep(t *testing.T) {
	l := newLoginLimiter()

	old := time.Now().Add(-loginAttemptWindow - time.Minute)
	l.mu.Lock()
	l.attempts["10.0.0.1"] = []time.Time{old}
	l.lastSwep = time.Now().Add(-sweepInterval - time.Second)
	l.mu.Unlock()

	l.allow("10.0.0.9")

	l.mu.Lock()
	_, present := l.attempts["10.0.0.1"]
	l.mu.Unlock()
	assert.False(t, present)
}
