package retrycontrol

import (
	"math"
	"time"
)

// computeBackoff returns the delay before the attempt following attempt i
// (1-indexed): min(initialBackoff * 2^(i-1), maxBackoff). The shift is
// guarded so that a large attempt count saturates to maxBackoff instead
// of overflowing or wrapping around to a small or negative duration.
func computeBackoff(initialBackoff, maxBackoff time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := uint(attempt - 1)
	if exp >= 63 {
		return maxBackoff
	}

	factor := int64(1) << exp
	if initialBackoff > 0 && factor > math.MaxInt64/int64(initialBackoff) {
		return maxBackoff
	}

	backoff := initialBackoff * time.Duration(factor)
	if backoff <= 0 || backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
