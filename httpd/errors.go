package httpd

import "errors"

var (
	// ErrRouteTableFull is returned when registering a route past the
	// table's fixed capacity.
	ErrRouteTableFull = errors.New("route table full")

	// ErrInvalidRoute is returned for an empty path or nil handler.
	ErrInvalidRoute = errors.New("invalid route")

	// ErrTooManyConnections is returned when a notification arrives for a
	// link id outside the connection table's capacity.
	ErrTooManyConnections = errors.New("too many connections")

	// ErrResponseTooLarge is returned when a rendered response would not
	// fit the fixed-capacity send buffer. Nothing is transmitted.
	ErrResponseTooLarge = errors.New("response too large")

	// ErrParse is returned for request text that does not carry a
	// recognizable request line. Surfaced to the client as a 404, never
	// propagated out of Poll.
	ErrParse = errors.New("malformed request")
)
