package metadata

import "errors"

var (
	// ErrSourceClosed is returned by Run when the source sequence ends while
	// the watch is still wanted.
	ErrSourceClosed = errors.New("metadata: source closed")

	// ErrSourceFailed wraps an error reported by the source.
	ErrSourceFailed = errors.New("metadata: source failed")

	// ErrUnknownCategory is returned when a category name is not recognised.
	ErrUnknownCategory = errors.New("metadata: unknown category")

	// ErrAlreadyRunning is returned when Run is called while another Run is active.
	ErrAlreadyRunning = errors.New("metadata: coordinator already running")
)
