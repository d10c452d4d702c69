package upstream

import (
	"fmt"
	"net/http"
)

// Error is the terminal failure for an upstream request: either a
// non-retryable status, or a retryable one that survived the full retry
// budget. Status is 0 when every attempt died at the transport layer.
type Error struct {
	Status   int
	Attempts int
	URL      string
	Err      error // underlying transport error, if any
}

func (e *Error) Error() string {
	if e.Status == 0 && e.Err != nil {
		return fmt.Sprintf("upstream request failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("upstream returned %d after %d attempts", e.Status, e.Attempts)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AuthError means the bearer credential for an identity was rejected.
// It is never retried; callers abort the whole run for that identity.
type AuthError struct {
	Identity string
	Status   int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream rejected credentials for %s (status %d)", e.Identity, e.Status)
}

// Temporary reports whether the status is worth retrying.
func Temporary(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
