package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterBurstThenDeny(t *testing.T) {
	l := NewLocalLimiter(1, 2) // tiny refill, burst of 2
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}

	ok, err := l.Allow(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")

	// Other users have their own bucket.
	ok, err = l.Allow(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}
