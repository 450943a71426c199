package retry

import (
	"math/rand/v2"
	"time"
)

// maxShift caps the bit-shift exponent so the exponential term cannot
// overflow time.Duration. With any sane base the clamp to MaxDelay kicks in
// long before shift 32.
const maxShift = 32

// delayFor computes the backoff delay before retry attempt k (0-indexed):
//
//	min(base << k, max) + uniform(0, jitterMax)
//
// randInt64 samples uniformly from [0, n); it exists so tests can pin the
// jitter. A nil randInt64 uses math/rand/v2.
func delayFor(k int, base, max, jitterMax time.Duration, randInt64 func(int64) int64) time.Duration {
	shift := k
	if shift < 0 {
		shift = 0
	}
	if shift > maxShift {
		shift = maxShift
	}

	delay := base << shift
	if delay > max || delay < 0 {
		delay = max
	}

	if jitterMax > 0 {
		if randInt64 == nil {
			randInt64 = rand.Int64N
		}
		delay += time.Duration(randInt64(int64(jitterMax) + 1))
	}
	return delay
}
