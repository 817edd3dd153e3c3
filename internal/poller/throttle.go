package poller

import (
	"math/rand/v2"
	"time"

	"github.com/jpalmerr/cartrush/internal/classify"
)

// ThrottleController counts consecutive throttle signals and decides when
// to reduce concurrency.
//
// Transport failures and rate limiting are counted separately. A counter
// that reaches the threshold triggers one reduction and is then reset. Both
// counters reset on the next HTTP 200.
//
// Counters are not synchronized; only the scheduler goroutine touches them.
// [ThrottleController.Pause] is safe to call from any goroutine.
type ThrottleController struct {
	pauseMin  time.Duration
	pauseMax  time.Duration
	threshold int

	transport int
	rateLimit int
}

// NewThrottleController returns a controller pausing uniformly within
// [pauseMin, pauseMax] and reducing after threshold consecutive signals.
func NewThrottleController(pauseMin, pauseMax time.Duration, threshold int) *ThrottleController {
	if pauseMax < pauseMin {
		pauseMax = pauseMin
	}
	if threshold < 1 {
		threshold = 1
	}
	return &ThrottleController{pauseMin: pauseMin, pauseMax: pauseMax, threshold: threshold}
}

// Pause samples a pause duration.
func (t *ThrottleController) Pause() time.Duration {
	span := t.pauseMax - t.pauseMin
	if span <= 0 {
		return t.pauseMin
	}
	return t.pauseMin + time.Duration(rand.Int64N(int64(span)+1))
}

// Record counts one throttle signal of the given kind and returns the
// running count for that kind.
func (t *ThrottleController) Record(kind classify.Kind) int {
	switch kind {
	case classify.KindThrottleTransport:
		t.transport++
		return t.transport
	case classify.KindThrottleRate:
		t.rateLimit++
		return t.rateLimit
	}
	return 0
}

// ShouldReduce reports whether the counter for kind has reached the
// threshold.
func (t *ThrottleController) ShouldReduce(kind classify.Kind) bool {
	return t.count(kind) >= t.threshold
}

// ResetKind zeroes the counter for kind after a reduction.
func (t *ThrottleController) ResetKind(kind classify.Kind) {
	switch kind {
	case classify.KindThrottleTransport:
		t.transport = 0
	case classify.KindThrottleRate:
		t.rateLimit = 0
	}
}

// Reset zeroes both counters.
func (t *ThrottleController) Reset() {
	t.transport = 0
	t.rateLimit = 0
}

// Counts returns the transport and rate-limit counters.
func (t *ThrottleController) Counts() (transport, rateLimit int) {
	return t.transport, t.rateLimit
}

func (t *ThrottleController) count(kind classify.Kind) int {
	switch kind {
	case classify.KindThrottleTransport:
		return t.transport
	case classify.KindThrottleRate:
		return t.rateLimit
	}
	return 0
}
