package gdrive

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/Chapsvision-dev/spare/internal/fault"
	"github.com/Chapsvision-dev/spare/internal/retry"
)

// statusOf extracts the HTTP status carried by a Drive API error, or 0.
func statusOf(err error) int {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return 0
}

// isRetryable: timeouts, 408, 429, 5xx, and 403 rate limiting.
// Authorization failures and other 4xx are never retried.
func isRetryable(err error) bool {
	if retry.IsNetTimeout(err) {
		return true
	}
	var ge *googleapi.Error
	if !errors.As(err, &ge) {
		return false
	}
	if ge.Code == http.StatusForbidden {
		for _, item := range ge.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return true
			}
		}
		return false
	}
	return retry.HTTPStatus(ge.Code)
}

// remoteErr classifies a failed call; already classified errors pass through.
func remoteErr(op string, err error) error {
	if fault.KindOf(err) != 0 {
		return err
	}
	return fault.Remote(op, statusOf(err), err)
}
