package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireHonorsBurst(t *testing.T) {
	lm := New(1, 2)

	assert.True(t, lm.TryAcquire())
	assert.True(t, lm.TryAcquire())
	assert.False(t, lm.TryAcquire(), "third immediate acquire should exceed burst")
}

func TestZeroRateDisablesLimiting(t *testing.T) {
	lm := New(0, 0)

	for i := 0; i < 100; i++ {
		assert.True(t, lm.TryAcquire())
	}
}

func TestWaitRespectsContext(t *testing.T) {
	lm := New(0.001, 1)
	require.True(t, lm.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := lm.Wait(ctx)
	assert.Error(t, err)
}

func TestStatusReflectsConfig(t *testing.T) {
	lm := New(5, 3)

	st := lm.Status()
	assert.Equal(t, float64(5), st.Rate)
	assert.Equal(t, 3, st.Burst)
	assert.LessOrEqual(t, st.Tokens, float64(3))
}
