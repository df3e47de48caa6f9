package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt
	DefaultMaxRetries = 3
	// DefaultInitialBackoff is the base delay before the first retry
	DefaultInitialBackoff = 1000 * time.Millisecond
	// DefaultMaxBackoff caps the exponential base delay
	DefaultMaxBackoff = 10000 * time.Millisecond

	minJitterFactor = 0.5
)

// Action is what the executor should do after an attempt.
type Action int

const (
	// ActionFail ends the call with a failure response
	ActionFail Action = iota
	// ActionRetry sleeps for Decision.Delay and issues the next attempt
	ActionRetry
	// ActionSucceed ends the call with a success response
	ActionSucceed
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionSucceed:
		return "succeed"
	default:
		return "fail"
	}
}

// Decision is the result of Policy.Decide.
type Decision struct {
	Action Action
	// Delay to wait before the next attempt; only set for ActionRetry
	Delay time.Duration
	// Reason is a low-cardinality label: a transport code, "http_status" or "success"
	Reason string
}

// Policy decides whether an attempt outcome warrants another attempt and
// how long to wait first. The zero value is not usable; start from DefaultPolicy.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Jitter returns a value in [0, 1). Nil uses math/rand/v2.
	Jitter func() float64
}

// DefaultPolicy returns the policy with 3 retries and a 1s..10s backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative: %d", p.MaxRetries))
	}
	if p.InitialBackoff <= 0 {
		errs = append(errs, fmt.Errorf("initial backoff must be positive: %s", p.InitialBackoff))
	}
	if p.MaxBackoff <= 0 {
		errs = append(errs, fmt.Errorf("max backoff must be positive: %s", p.MaxBackoff))
	}
	if p.InitialBackoff > 0 && p.MaxBackoff > 0 && p.MaxBackoff < p.InitialBackoff {
		errs = append(errs, fmt.Errorf("max backoff %s is lower than initial backoff %s", p.MaxBackoff, p.InitialBackoff))
	}
	return errors.Join(errs...)
}

// IsRetryableHTTPStatus reports whether a response status is worth retrying:
// any 5xx and 429 Too Many Requests.
func IsRetryableHTTPStatus(status int) bool {
	return status >= 500 || status == 429
}

// BaseBackoff returns min(InitialBackoff * 2^(attempt-1), MaxBackoff), or 0 for attempt <= 0.
func (p Policy) BaseBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	base := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		if base >= p.MaxBackoff || base > math.MaxInt64/2 {
			break
		}
		base *= 2
	}
	if base > p.MaxBackoff {
		base = p.MaxBackoff
	}
	return base
}

// Backoff returns the jittered delay for the given attempt number. The
// result lies in [0.5*base, 1.5*base).
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseBackoff(attempt)
	if base == 0 {
		return 0
	}
	factor := minJitterFactor + p.jitter()
	d := time.Duration(float64(base) * factor)
	// 0.5 + r can round up to exactly 1.5 for r close to 1
	if upper := time.Duration(float64(base) * (minJitterFactor + 1)); d >= upper {
		d = upper - 1
	}
	return d
}

func (p Policy) jitter() float64 {
	r := rand.Float64()
	if p.Jitter != nil {
		r = p.Jitter()
	}
	switch {
	case r < 0 || math.IsNaN(r):
		return 0
	case r >= 1:
		return math.Nextafter(1, 0)
	}
	return r
}

// Decide classifies the outcome of the 0-based attempt. A retry is only
// granted while attempt < MaxRetries; its delay is Backoff(attempt+1).
func (p Policy) Decide(o Outcome, attempt int) Decision {
	if o.Failed() {
		reason := string(o.Failure.Code)
		if o.Failure.Retryable() && attempt < p.MaxRetries {
			return Decision{Action: ActionRetry, Delay: p.Backoff(attempt + 1), Reason: reason}
		}
		return Decision{Action: ActionFail, Reason: reason}
	}

	if IsSuccessStatus(o.StatusCode) {
		return Decision{Action: ActionSucceed, Reason: "success"}
	}

	if IsRetryableHTTPStatus(o.StatusCode) && attempt < p.MaxRetries {
		return Decision{Action: ActionRetry, Delay: p.Backoff(attempt + 1), Reason: "http_status"}
	}
	return Decision{Action: ActionFail, Reason: "http_status"}
}
