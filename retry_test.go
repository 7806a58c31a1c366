package shelfsync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryerSucceedsFirstAttempt(t *testing.T) {
	retryer := NewRetryer(fastRetryConfig())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryerRecoversAfterTransientFailures(t *testing.T) {
	retryer := NewRetryer(fastRetryConfig())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryerExhaustsAttempts(t *testing.T) {
	retryer := NewRetryer(fastRetryConfig())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryerStopsOnPermanentError(t *testing.T) {
	retryer := NewRetryer(fastRetryConfig())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return ErrAuthentication
	})
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent errors must not retry, got %d calls", calls)
	}
}

func TestRetryerRespectsContext(t *testing.T) {
	config := fastRetryConfig()
	config.InitialBackoff = time.Second
	retryer := NewRetryer(config)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := retryer.Do(ctx, func() error {
		calls++
		return errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"authentication", ErrAuthentication, false},
		{"http 401", &HTTPError{StatusCode: 401}, false},
		{"http 404", &HTTPError{StatusCode: 404}, false},
		{"http 429", &HTTPError{StatusCode: 429}, true},
		{"http 500", &HTTPError{StatusCode: 500}, true},
		{"http 503", &HTTPError{StatusCode: 503}, true},
		{"decode error", &DecodeError{Endpoint: "/x", Cause: errors.New("bad json")}, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"no such host", errors.New("lookup api.example.com: no such host"), true},
		{"arbitrary", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(2, 20*time.Millisecond)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return boom }); err != boom {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	if cb.State() != "open" {
		t.Fatalf("expected open after threshold, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	// After the cooldown one probe is allowed; success closes the circuit.
	time.Sleep(30 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
	if cb.State() != "closed" {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("expected failure count reset, got %d", cb.Failures())
	}
}

func TestCircuitBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 5*time.Millisecond)
	cb.Execute(func() error { return errors.New("boom") })

	time.Sleep(10 * time.Millisecond)

	// While the probe is in flight every other request fails fast.
	var inner error
	err := cb.Execute(func() error {
		inner = cb.Execute(func() error { return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
	if !errors.Is(inner, ErrCircuitOpen) {
		t.Errorf("expected concurrent request rejected during probe, got %v", inner)
	}
	if cb.State() != "closed" {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerIgnoresAuthAndCancellation(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)

	if err := cb.Execute(func() error { return ErrAuthentication }); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected auth error passed through, got %v", err)
	}
	cb.Execute(func() error { return context.Canceled })

	if cb.State() != "closed" {
		t.Errorf("expected closed, got %s", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("expected no failures counted, got %d", cb.Failures())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	boom := errors.New("boom")

	cb.Execute(func() error { return boom })
	if cb.State() != "open" {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	cb.Execute(func() error { return boom })
	if cb.State() != "open" {
		t.Errorf("expected reopened after failed probe, got %s", cb.State())
	}
}
