package mqtt

import "errors"

var (
	// ErrNotConnected is returned when publishing or subscribing without an
	// established broker session.
	ErrNotConnected = errors.New("not connected to broker")

	// ErrConnectionRefused is returned when the broker's CONNACK carries a
	// non-zero return code. It is wrapped with the broker's reason.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrQoSUnsupported is returned for QoS 2; only 0 and 1 are supported.
	ErrQoSUnsupported = errors.New("QoS level not supported")

	// ErrPacketTooLarge is returned when a packet's remaining length cannot
	// be encoded (larger than 268,435,455 bytes).
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrMalformedPacket is returned when an inbound control packet cannot
	// be decoded within its own declared bounds.
	ErrMalformedPacket = errors.New("malformed packet")
)
