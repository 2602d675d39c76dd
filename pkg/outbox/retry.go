package outbox

import (
	"math/rand"
	"time"
	"unicode/utf8"
)

// retryDelay doubles from one second per attempt, capped at maxBackoff, plus up to jitterMax of noise.
func retryDelay(attempt int, maxBackoff, jitterMax time.Duration, rnd *rand.Rand) time.Duration {
	var d time.Duration
	if attempt > 0 {
		d = time.Second
		for i := 1; i < attempt && d < maxBackoff; i++ {
			d *= 2
		}
		d = min(d, maxBackoff)
	}
	if jitterMax > 0 && rnd != nil {
		d += time.Duration(rnd.Int63n(int64(jitterMax) + 1)) //nolint:gosec
	}
	return d
}

// clip shortens s to at most maxBytes without splitting a rune.
func clip(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= 0 {
		return ""
	}
	b := []byte(s[:maxBytes])
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}
