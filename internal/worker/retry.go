package worker

import (
	"math"
	"math/rand"
	"net/http"
	"time"

	"chatsync/internal/remote"
)

// Classification of an attempt's failure. Only Retryable consumes a
// network attempt and reschedules.
type Classification int

const (
	Retryable Classification = iota
	NotImplemented
	AuthFailure
	Permanent
)

func (c Classification) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case NotImplemented:
		return "not_implemented"
	case AuthFailure:
		return "auth_failure"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// RetryPolicy defines exponential backoff parameters with jitter.
type RetryPolicy struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64
}

// NextDelay returns delay for a given attempt (1-based) with clamping and
// uniform ±jitter, floored at 0.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}

	if r.JitterFraction > 0 {
		// Uniform in [-jitter, +jitter] of the capped delay.
		spread := float64(d) * r.JitterFraction
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}

	if d < 0 {
		d = 0
	}
	return d
}

// Classify maps an attempt error onto a retry decision. Network and
// timeout failures carry no HTTP status and are retryable; 404 on a sync
// endpoint means the endpoint is optional and absent, so retrying cannot
// help.
func Classify(err error) Classification {
	code := remote.StatusCode(err)
	switch {
	case code == 0:
		return Retryable
	case code >= 500:
		return Retryable
	case code == http.StatusNotFound:
		return NotImplemented
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return AuthFailure
	case code >= 400:
		return Permanent
	default:
		return Retryable
	}
}
