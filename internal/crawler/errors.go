package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrNotFound is returned by stores when a job does not exist.
var ErrNotFound = errors.New("not found")

// ErrJobExists is returned when a job ID is reused.
var ErrJobExists = errors.New("job already exists")

// FetchErrorKind classifies a Document Source failure.
type FetchErrorKind string

// Fetch failure classes.
const (
	FetchErrorTimeout FetchErrorKind = "timeout"
	FetchErrorNetwork FetchErrorKind = "network"
	FetchErrorStatus  FetchErrorKind = "status"
	FetchErrorRender  FetchErrorKind = "render"
	FetchErrorRobots  FetchErrorKind = "robots"
)

// FetchError carries an HTTP-like status or a transport classification.
type FetchError struct {
	URL        string
	StatusCode int
	Kind       FetchErrorKind
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchErrorStatus {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewStatusError reports a non-2xx response.
func NewStatusError(url string, status int) *FetchError {
	return &FetchError{URL: url, StatusCode: status, Kind: FetchErrorStatus}
}

// ClassifyFetchError wraps err into a FetchError, keeping an existing
// classification when err already is one.
func ClassifyFetchError(url string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	kind := FetchErrorNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		kind = FetchErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = FetchErrorTimeout
	}
	return &FetchError{URL: url, Kind: kind, Err: err}
}

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchErrorRobots:
		return false
	case FetchErrorStatus:
		return e.StatusCode >= http.StatusInternalServerError ||
			e.StatusCode == http.StatusTooManyRequests ||
			e.StatusCode == http.StatusRequestTimeout
	default:
		return true
	}
}

// ErrorTypeLabel maps an error to a low-cardinality metrics label.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "none"
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Kind == FetchErrorStatus {
			return fmt.Sprintf("status_%dxx", fe.StatusCode/100)
		}
		return string(fe.Kind)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}
