package drive

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mosacloud/drive/internal/retry"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// APIError is a non-2xx answer from the drive backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("drive api returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("drive api returned %d", e.Status)
}

// Unwrap maps the status onto the sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	}
	return nil
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case retry.IsRetryable(err):
		return "transient"
	}
	return "error"
}
