package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastOpts() Options {
	return Options{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

// 1) Retryable errors are retried until success.
func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var hooks []int
	opts := fastOpts()
	opts.OnRetry = func(attempt int, _ error, _ time.Duration) { hooks = append(hooks, attempt) }

	err := Do(context.Background(), opts, func(error) bool { return true }, func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("want 3 calls, got %d", calls)
	}
	if len(hooks) != 2 || hooks[0] != 1 || hooks[1] != 2 {
		t.Fatalf("unexpected OnRetry calls: %v", hooks)
	}
}

// 2) Non-retryable errors stop immediately.
func TestDo_NonRetryableStops(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastOpts(), func(error) bool { return false }, func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) || calls != 1 {
		t.Fatalf("want single failing call, got calls=%d err=%v", calls, err)
	}
}

// 3) Attempts are bounded and the last error is returned.
func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastOpts(), nil, func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) || calls != 4 {
		t.Fatalf("want 4 calls and last error, got calls=%d err=%v", calls, err)
	}
}

// 4) A cancelled context aborts the backoff wait.
func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	calls := 0
	err := Do(ctx, opts, nil, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	if calls != 1 {
		t.Fatalf("want 1 call, got %d", calls)
	}
	if err == nil {
		t.Fatal("want error after cancel")
	}
}

func TestHTTPStatus(t *testing.T) {
	for code, want := range map[int]bool{
		400: false, 401: false, 403: false, 404: false,
		408: true, 429: true, 500: true, 502: true, 503: true, 599: true,
	} {
		if got := HTTPStatus(code); got != want {
			t.Fatalf("HTTPStatus(%d) = %v, want %v", code, got, want)
		}
	}
}
