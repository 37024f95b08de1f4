package wifi

import "errors"

var (
	// ErrNoDialer is returned when a Device is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the co-processor.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a
	// Device that has not been successfully initialized.
	ErrNotInitialized = errors.New("device not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Device that has
	// already been closed, or when commands are issued after Close.
	ErrAlreadyClosed = errors.New("device already closed")

	// ErrTimeout is returned when the expected response pattern did not
	// appear before the command deadline. The partial response accumulated
	// so far is returned alongside it.
	ErrTimeout = errors.New("command timed out")

	// ErrCommandFailed is returned when the co-processor answered a command
	// with ERROR, FAIL or SEND FAIL instead of the expected pattern.
	ErrCommandFailed = errors.New("command failed")

	// ErrInvalidParameter is returned for malformed arguments such as an
	// empty expected pattern or an empty raw payload.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrLinkClaimed is returned when a Demux link id is claimed twice.
	// Each link belongs to exactly one consumer.
	ErrLinkClaimed = errors.New("link already claimed")
)
