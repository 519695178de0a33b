package transport

import (
	"math/rand/v2"
	"time"
)

// backoff yields exponentially growing redial delays with equal jitter:
// each delay lies in [d/2, d) where d doubles from min up to max.
type backoff struct {
	min, max time.Duration
	attempt  int
	jitter   func(n int64) int64
}

func newBackoff(min, max time.Duration) *backoff {
	if min <= 0 {
		min = defaultReconnectMin
	}
	if max < min {
		max = min
	}
	return &backoff{min: min, max: max, jitter: rand.Int64N}
}

func (b *backoff) next() time.Duration {
	d := b.min
	for i := 0; i < b.attempt && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	b.attempt++

	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(b.jitter(int64(half)))
}
