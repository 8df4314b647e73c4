package delivery

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"rfqflow/transport"
)

// Class tells the queue whether a failed delivery is worth retrying.
type Class int

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// RetryableError asks the queue to retry the job with backoff.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "delivery: retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Classify sorts an error into Transient or Permanent. Anything it does not
// recognise is Permanent.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return Transient
	}

	var tErr *transport.Error
	if errors.As(err, &tErr) {
		if tErr.Temporary() {
			return Transient
		}
		return Permanent
	}
	if errors.Is(err, transport.ErrMalformedTarget) {
		return Permanent
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return Transient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return Transient
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientSQLState(pgErr.Code) {
		return Transient
	}

	return Permanent
}

// transientSQLState covers connection exceptions, serialization failures and
// deadlocks, insufficient resources and admin shutdown.
func transientSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "40"), strings.HasPrefix(code, "53"):
		return true
	case code == "57P01":
		return true
	}
	return false
}
