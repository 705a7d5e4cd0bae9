package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldProcessNeverProcessed(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	require.True(t, ShouldProcess(nil, DefaultFreshnessTTL, now))
	require.True(t, ShouldProcess(nil, 0, now))
}

func TestShouldProcessWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	ttl := 7 * 24 * time.Hour

	fresh := now.Add(-time.Hour)
	require.False(t, ShouldProcess(&fresh, ttl, now))

	exactly := now.Add(-ttl)
	require.True(t, ShouldProcess(&exactly, ttl, now))

	stale := now.Add(-ttl - time.Minute)
	require.True(t, ShouldProcess(&stale, ttl, now))
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: time.Second, Max: 8 * time.Second}

	for attempt := 1; attempt <= 6; attempt++ {
		d := b.Delay(attempt)
		window := time.Duration(float64(time.Second) * float64(int(1)<<(attempt-1)))
		if window > b.Max {
			window = b.Max
		}
		require.GreaterOrEqual(t, d, window/2, "attempt %d", attempt)
		require.LessOrEqual(t, d, window, "attempt %d", attempt)
	}
}

func TestPermanentErrorDetection(t *testing.T) {
	t.Parallel()

	require.False(t, IsPermanent(assertErr("boom")))
	require.True(t, IsPermanent(Permanent(assertErr("missing row"))))
	require.Nil(t, Permanent(nil))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
