package dbregistry

import "errors"

var (
	// ErrNotConnected indicates Health was called on a pool whose connect
	// never succeeded.
	ErrNotConnected = errors.New("database pool is not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("failed to connect to database")

	// ErrAlreadyClosed indicates the registry has already been shut down.
	ErrAlreadyClosed = errors.New("database pool is closed")

	// ErrUnknownDatabase indicates the requested database name has no
	// configured pool.
	ErrUnknownDatabase = errors.New("unknown database")

	// ErrNoDefaultDatabase indicates a request omitted the database name
	// and more than one database is configured.
	ErrNoDefaultDatabase = errors.New("no database specified and no unambiguous default is configured")
)
