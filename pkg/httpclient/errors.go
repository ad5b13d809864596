package httpclient

import (
	"fmt"
	"time"
)

// StatusError reports a non-success HTTP status with its response body.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}
