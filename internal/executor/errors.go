package executor

import "errors"

var (
	// ErrDatabase wraps any failure the driver itself reports (connection
	// loss, constraint violation surfaced mid-statement, etc).
	ErrDatabase = errors.New("database error")

	// ErrTimeout means the statement did not finish within max_execution_time.
	ErrTimeout = errors.New("statement timed out")

	// ErrCanceled means the caller's context was cancelled while the
	// statement was in flight.
	ErrCanceled = errors.New("statement canceled")
)
