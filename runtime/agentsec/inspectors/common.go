package inspectors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StatusError reports a non-2xx inspection API response.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error returns a human-readable description of the status failure.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// errorType classifies an error into a short tag used inside fail-open and
// fail-closed reason strings.
func errorType(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return "UnknownError"
	case errors.As(err, &statusErr):
		return "HTTPStatusError"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "ConnectError"
	}
	name := fmt.Sprintf("%T", err)
	name = strings.TrimPrefix(name, "*")
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
