package outbox

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	maxBackoff := time.Minute
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{7, time.Minute},
		{40, time.Minute},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, retryDelay(tc.attempt, maxBackoff, 0, nil), "attempt %d", tc.attempt)
	}
}

func TestRetryDelay_JitterIsBoundedAndSeeded(t *testing.T) {
	t.Parallel()

	jitterMax := 200 * time.Millisecond
	a := retryDelay(1, time.Minute, jitterMax, rand.New(rand.NewSource(1)))
	b := retryDelay(1, time.Minute, jitterMax, rand.New(rand.NewSource(1)))
	require.Equal(t, a, b)
	require.GreaterOrEqual(t, a, time.Second)
	require.LessOrEqual(t, a, time.Second+jitterMax)
}

func TestClip(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", clip("abc", 10))
	require.Equal(t, "ab", clip("abc", 2))
	require.Equal(t, "", clip("abc", 0))
	// "é" is two bytes; cutting inside it drops the partial rune.
	require.Equal(t, "a", clip("aé", 2))
}

func TestParseIdentifier(t *testing.T) {
	t.Parallel()

	id, err := ParseIdentifier("public.compliance_outbox")
	require.NoError(t, err)
	require.Equal(t, "public.compliance_outbox", TableLabel(id))

	id, err = ParseIdentifier(" compliance_outbox ")
	require.NoError(t, err)
	require.Len(t, id, 1)

	for _, bad := range []string{"", "a.b.c", "public.", "drop table;"} {
		_, err := ParseIdentifier(bad)
		require.ErrorIs(t, err, ErrInvalidConfig, bad)
	}
}
