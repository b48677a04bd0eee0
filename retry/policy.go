// Package retry implements the §4.2 retry-policy surface
// (`set_retry_policy`/`get_retry_policy`): the seven named policies, each
// built over github.com/cenkalti/backoff/v4's BackOff interface instead
// of hand-rolled delay math. The device client stores the selected
// Policy; the HTTP transport does not use this package (it retries
// requests through go-retryablehttp).
package retry

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Name identifies one of the §4.2 named retry policies.
type Name uint8

const (
	None Name = iota
	Immediate
	Interval
	ExponentialBackoff
	ExponentialBackoffWithJitter
	LinearBackoff
	Random
)

// Policy decides how long to wait before the next retry attempt, and
// whether the retry budget (the timeout-limit) has been exhausted.
//
// timeoutLimit of zero means "no upper limit" (§4.2).
type Policy struct {
	name         Name
	timeoutLimit time.Duration
	engine       backoff.BackOff
	start        time.Time
}

// New builds a Policy for the given name. timeoutLimit bounds the total
// elapsed retry time; zero disables the bound.
func New(name Name, timeoutLimit time.Duration) *Policy {
	p := &Policy{name: name, timeoutLimit: timeoutLimit}
	p.Reset()
	return p
}

// Name reports the policy's kind.
func (p *Policy) Name() Name { return p.name }

// TimeoutLimit reports the configured upper bound, zero meaning unbounded.
func (p *Policy) TimeoutLimit() time.Duration { return p.timeoutLimit }

// Reset restarts the backoff engine and the timeout-limit clock; call
// after a successful connection/send.
func (p *Policy) Reset() {
	p.start = time.Now()
	switch p.name {
	case None:
		p.engine = &backoff.StopBackOff{}
	case Immediate:
		p.engine = &backoff.ConstantBackOff{Interval: 0}
	case Interval:
		p.engine = &backoff.ConstantBackOff{Interval: time.Second}
	case ExponentialBackoff:
		eb := backoff.NewExponentialBackOff()
		eb.RandomizationFactor = 0
		p.engine = eb
	case ExponentialBackoffWithJitter:
		eb := backoff.NewExponentialBackOff()
		eb.RandomizationFactor = 0.5
		p.engine = eb
	case LinearBackoff:
		p.engine = &linearBackOff{step: time.Second}
	case Random:
		p.engine = &randomBackOff{max: 30 * time.Second}
	default:
		p.engine = &backoff.StopBackOff{}
	}
}

// Next returns the delay before the next attempt and whether the retry
// budget still permits one. When the timeout limit has elapsed, or the
// underlying engine reports backoff.Stop, ok is false.
func (p *Policy) Next() (delay time.Duration, ok bool) {
	if p.timeoutLimit > 0 && time.Since(p.start) >= p.timeoutLimit {
		return 0, false
	}
	d := p.engine.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

// linearBackOff grows its delay by a fixed step on every call; there is no
// preset for this in cenkalti/backoff, so it's a minimal adapter that
// still satisfies backoff.BackOff.
type linearBackOff struct {
	step    time.Duration
	current time.Duration
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.current += l.step
	return l.current
}

func (l *linearBackOff) Reset() {
	l.current = 0
}

// randomBackOff returns a uniformly random delay in [0, max) on every
// call; also a minimal adapter, cenkalti/backoff has no preset for
// unbounded jitter without an underlying base delay.
type randomBackOff struct {
	max time.Duration
}

func (r *randomBackOff) NextBackOff() time.Duration {
	if r.max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(r.max)))
}

func (r *randomBackOff) Reset() {}
