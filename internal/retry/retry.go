package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// Options configures exponential backoff for retries.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// OnRetry, when set, is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, next time.Duration)
}

// Default backoff settings used when opts are zero/invalid.
var Default = Options{
	MaxAttempts:  5,
	InitialDelay: 300 * time.Millisecond,
	MaxDelay:     8 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

type IsRetryableFunc func(error) bool

// Do executes fn with retries and exponential backoff until it succeeds,
// context is done, or attempts are exhausted. Returns the last error.
func Do(ctx context.Context, opts Options, isRetryable IsRetryableFunc, fn func(context.Context) error) error {
	if opts.MaxAttempts <= 0 {
		hook := opts.OnRetry
		opts = Default
		opts.OnRetry = hook
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1
	}
	attempt := 0
	backoff := opts.InitialDelay
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		// Stop if not retryable or attempts exhausted.
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return err
		}

		sleep := backoff
		if opts.Jitter {
			// +/-20% jitter.
			delta := float64(backoff) * 0.2
			j := (rng.Float64()*2 - 1) * delta
			sleep = time.Duration(math.Max(0, float64(backoff)+j))
		}
		if opts.MaxDelay > 0 && sleep > opts.MaxDelay {
			sleep = opts.MaxDelay
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		// Next backoff with overflow guard and cap.
		next := time.Duration(float64(backoff) * opts.Multiplier)
		if next < backoff {
			next = backoff
		}
		backoff = next
		if opts.MaxDelay > 0 && backoff > opts.MaxDelay {
			backoff = opts.MaxDelay
		}
	}
}

// HTTPStatus reports whether a provider status code is worth retrying:
// 408, 429 and 5xx are; every other 4xx is a caller error and never is.
func HTTPStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500 && code <= 599:
		return true
	}
	return false
}

// IsNetTimeout reports whether err is a network timeout.
func IsNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
