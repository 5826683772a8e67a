package connection

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxAttempts is the attempt ceiling before the manager gives up on a
// device and requires an explicit reconnect command (§4.F: "Giving up
// occurs after a configurable attempt ceiling (default 5)").
const DefaultMaxAttempts = 5

// retryState tracks one device's place in the exponential backoff schedule.
// cenkalti/backoff/v4 already implements exactly the curve §4.F specifies
// (initial interval, multiplier, cap, randomization factor for jitter); the
// manager only adds the attempt-ceiling policy on top, since the library's
// own MaxElapsedTime bounds wall-clock rather than attempt count.
type retryState struct {
	backoff  *backoff.ExponentialBackOff
	attempts int
	dueAt    time.Time
}

func newRetryState() *retryState {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0 // unbounded; the manager enforces the attempt ceiling instead
	b.Reset()
	return &retryState{backoff: b}
}

// next returns the delay before the next attempt, and ok=false once the
// attempt ceiling has been reached.
func (r *retryState) next(maxAttempts int) (time.Duration, bool) {
	if r.attempts >= maxAttempts {
		return 0, false
	}
	r.attempts++
	return r.backoff.NextBackOff(), true
}

func (r *retryState) reset() {
	r.backoff.Reset()
	r.attempts = 0
}
