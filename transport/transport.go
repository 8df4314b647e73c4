package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrMalformedTarget means the target can never be delivered to as written.
var ErrMalformedTarget = errors.New("transport: malformed target")

// Action is a link button attached to an outbound message.
type Action struct {
	Label string
	URL   string
}

// Sender delivers one rendered message to one target.
type Sender interface {
	Send(ctx context.Context, target, text string, actions []Action) error
}

// Error is a failure reported by the remote messaging API.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transport: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("transport: %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the remote side asked us to come back later.
func (e *Error) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
