package worker

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"chatsync/internal/remote"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay:   time.Second,
		BackoffFactor:  2,
		MaxDelay:       time.Minute,
		JitterFraction: 0.2,
	}

	for attempt := 1; attempt <= 4; attempt++ {
		base := time.Duration(float64(time.Second) * float64(int(1)<<uint(attempt-1)))
		lo := time.Duration(float64(base) * 0.8)
		hi := time.Duration(float64(base) * 1.2)

		for i := 0; i < 200; i++ {
			d := policy.NextDelay(attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %s outside [%s, %s]", attempt, d, lo, hi)
			}
		}
	}
}

func TestRetryPolicyJitterNeverNegative(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Millisecond, JitterFraction: 1.0}
	for i := 0; i < 500; i++ {
		if d := policy.NextDelay(1); d < 0 {
			t.Fatalf("delay went negative: %s", d)
		}
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	var policy RetryPolicy
	if d := policy.NextDelay(1); d != time.Second {
		t.Fatalf("expected default 1s, got %s", d)
	}
	if d := policy.NextDelay(0); d != time.Second {
		t.Fatalf("attempt below 1 should clamp, got %s", d)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"timeout", errors.New("context deadline exceeded"), Retryable},
		{"connection refused", fmt.Errorf("dial tcp: %w", errors.New("connection refused")), Retryable},
		{"500", &remote.StatusError{Code: 500}, Retryable},
		{"503", &remote.StatusError{Code: 503}, Retryable},
		{"404", &remote.StatusError{Code: 404}, NotImplemented},
		{"401", &remote.StatusError{Code: 401}, AuthFailure},
		{"403", &remote.StatusError{Code: 403}, AuthFailure},
		{"400", &remote.StatusError{Code: 400}, Permanent},
		{"422", &remote.StatusError{Code: 422}, Permanent},
		{"wrapped status", fmt.Errorf("sync: %w", &remote.StatusError{Code: 401}), AuthFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
