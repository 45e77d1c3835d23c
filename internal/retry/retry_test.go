package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", errors.New("slack API error: ratelimited"), true},
		{"rate_limit underscore", errors.New("openai: rate_limit_exceeded"), true},
		{"service unavailable", errors.New("service_unavailable"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("context deadline exceeded (Client.Timeout)"), true},
		{"temporary", errors.New("temporary failure in name resolution"), true},
		{"502", errors.New("unexpected status 502"), true},
		{"503", errors.New("unexpected status 503"), true},
		{"504", errors.New("unexpected status 504"), true},
		{"auth failure", errors.New("invalid_auth"), false},
		{"not found", errors.New("channel_not_found"), false},
		{"malformed input", errors.New("invalid request payload"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// timeoutError exercises the type-name half of the classifier: the message
// carries no marker, only the type does.
type timeoutError struct{}

func (timeoutError) Error() string { return "operation took too long" }

func TestIsTransient_TypeName(t *testing.T) {
	if !IsTransient(timeoutError{}) {
		t.Error("expected error type containing 'timeout' to classify as transient")
	}
}

func testConfig(slept *[]time.Duration) Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Name:        "test op",
		sleep: func(d time.Duration) {
			*slept = append(*slept, d)
		},
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	var slept []time.Duration
	calls := 0

	result, err := Do(testConfig(&slept), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset by peer")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(slept))
	}
	// Exponential: base, 2*base.
	if slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", slept)
	}
}

func TestDo_PermanentFailsImmediately(t *testing.T) {
	var slept []time.Duration
	calls := 0

	_, err := Do(testConfig(&slept), func() (int, error) {
		calls++
		return 0, errors.New("invalid_auth")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent error)", calls)
	}
	if len(slept) != 0 {
		t.Errorf("slept %d times, want 0", len(slept))
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var slept []time.Duration
	calls := 0
	wantErr := errors.New("ratelimited")

	_, err := Do(testConfig(&slept), func() (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d: %w", calls, wantErr)
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapped %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(slept) != 2 {
		t.Errorf("slept %d times, want 2 (no sleep after final attempt)", len(slept))
	}
}

func TestDo_FirstCallSucceeds(t *testing.T) {
	var slept []time.Duration
	result, err := Do(testConfig(&slept), func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
	if len(slept) != 0 {
		t.Errorf("slept %d times, want 0", len(slept))
	}
}
