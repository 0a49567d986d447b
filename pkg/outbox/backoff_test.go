package outbox

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	maxBackoff := 60 * time.Second
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 0},
		{attempts: 1, want: 1 * time.Second},
		{attempts: 2, want: 2 * time.Second},
		{attempts: 3, want: 4 * time.Second},
		{attempts: 7, want: 60 * time.Second},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, backoff(tc.attempts, maxBackoff), "attempts=%d", tc.attempts)
	}
}

func TestBackoff_CustomBase(t *testing.T) {
	t.Parallel()

	base := 25 * time.Millisecond
	require.Equal(t, 25*time.Millisecond, Backoff(1, base, time.Second))
	require.Equal(t, 100*time.Millisecond, Backoff(3, base, time.Second))
	require.Equal(t, time.Second, Backoff(20, base, time.Second))
	require.Zero(t, Backoff(2, 0, time.Second))
}

func TestJitterDeterministic(t *testing.T) {
	t.Parallel()

	maxJitter := 200 * time.Millisecond
	got := Jitter(rand.New(rand.NewSource(1)), maxJitter)
	require.GreaterOrEqual(t, got, time.Duration(0))
	require.LessOrEqual(t, got, maxJitter)
	require.Equal(t, got, Jitter(rand.New(rand.NewSource(1)), maxJitter))
	require.Zero(t, Jitter(nil, maxJitter))
}
