package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAdmitsUpToMax(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter(3)
	l.now = func() time.Time { return now }
	l.sleep = func(ctx context.Context, d time.Duration) error {
		t.Fatal("should not sleep while the window has room")
		return nil
	}

	for i := 1; i <= 3; i++ {
		pct, err := l.Wait(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, float64(i)/3*100, pct, 0.01)
	}
}

func TestLimiterBlocksWhenFull(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	slept := time.Duration(0)
	l := NewLimiter(2)
	l.now = func() time.Time { return now }
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept += d
		now = now.Add(d)
		return nil
	}

	_, err := l.Wait(context.Background())
	require.NoError(t, err)
	_, err = l.Wait(context.Background())
	require.NoError(t, err)

	// Third admission has to wait for the first hit to leave the window.
	_, err = l.Wait(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, slept, time.Minute)
}

func TestLimiterSlidesWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter(2)
	l.now = func() time.Time { return now }

	_, err := l.Wait(context.Background())
	require.NoError(t, err)
	_, err = l.Wait(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100.0, l.Utilization(), 0.01)

	now = now.Add(61 * time.Second)
	assert.InDelta(t, 0.0, l.Utilization(), 0.01)

	pct, err := l.Wait(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, pct, 0.01)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter(1)
	l.now = func() time.Time { return now }
	l.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	_, err := l.Wait(context.Background())
	require.NoError(t, err)
	_, err = l.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}
