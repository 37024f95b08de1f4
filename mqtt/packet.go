// Package mqtt implements an MQTT 3.1.1 client session carried over the
// WiFi co-processor's serial link. Control packets are encoded by hand and
// transmitted through the device's two-phase raw send; inbound packets
// arrive wrapped in +IPD notification records and are decoded from the
// session's own accumulator.
package mqtt

import (
	"encoding/binary"
	"fmt"
)

// Control packet types, pre-shifted into the fixed header's high nibble.
const (
	typeConnect     = 1 << 4
	typeConnack     = 2 << 4
	typePublish     = 3 << 4
	typePuback      = 4 << 4
	typeSubscribe   = 8 << 4
	typeSuback      = 9 << 4
	typeUnsubscribe = 10 << 4
	typePingreq     = 12 << 4
	typePingresp    = 13 << 4
	typeDisconnect  = 14 << 4
)

const (
	protocolName  = "MQTT"
	protocolLevel = 4

	connectFlagCleanSession = 0x02
	connectFlagPassword     = 0x40
	connectFlagUsername     = 0x80

	// maxRemainingLength is the largest body a 4-byte varint can declare.
	maxRemainingLength = 268435455
)

// encodeRemainingLength appends the MQTT variable-length encoding of n
// (1 to 4 bytes, 7 bits per byte, high bit marks continuation).
func encodeRemainingLength(dst []byte, n int) ([]byte, error) {
	if n < 0 || n > maxRemainingLength {
		return nil, fmt.Errorf("remaining length %d: %w", n, ErrPacketTooLarge)
	}
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if n == 0 {
			return dst, nil
		}
	}
}

// decodeRemainingLength reads the varint at p[0:]. It returns the decoded
// length and the number of varint bytes. A truncated varint reports
// consumed == 0 with no error so the caller can wait for more data; more
// than 4 bytes is malformed.
func decodeRemainingLength(p []byte) (length, consumed int, err error) {
	mul := 1
	for i := 0; i < len(p); i++ {
		if i == 4 {
			return 0, 0, fmt.Errorf("remaining length varint too long: %w", ErrMalformedPacket)
		}
		length += int(p[i]&0x7F) * mul
		if p[i]&0x80 == 0 {
			return length, i + 1, nil
		}
		mul *= 128
	}
	return 0, 0, nil
}

// appendString appends a length-prefixed UTF-8 string field.
func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

// EncodeConnect builds a CONNECT packet: protocol name "MQTT", level 4,
// clean session always set, username/password flags from presence, the
// given keepalive in seconds, then the length-prefixed client id and
// optional credentials.
func EncodeConnect(clientID, username, password string, keepalive uint16) ([]byte, error) {
	var body []byte
	body = appendString(body, protocolName)
	body = append(body, protocolLevel)

	flags := byte(connectFlagCleanSession)
	if username != "" {
		flags |= connectFlagUsername
	}
	if password != "" {
		flags |= connectFlagPassword
	}
	body = append(body, flags)
	body = binary.BigEndian.AppendUint16(body, keepalive)

	body = appendString(body, clientID)
	if username != "" {
		body = appendString(body, username)
	}
	if password != "" {
		body = appendString(body, password)
	}

	return frame(typeConnect, body)
}

// EncodePublish builds a PUBLISH packet. QoS may be 0 or 1; packetID is
// written only when qos > 0 and ignored otherwise.
func EncodePublish(topic string, payload []byte, qos byte, retain bool, packetID uint16) ([]byte, error) {
	if qos > 1 {
		return nil, fmt.Errorf("QoS %d: %w", qos, ErrQoSUnsupported)
	}

	header := byte(typePublish) | qos<<1
	if retain {
		header |= 0x01
	}

	var body []byte
	body = appendString(body, topic)
	if qos > 0 {
		body = binary.BigEndian.AppendUint16(body, packetID)
	}
	body = append(body, payload...)

	return frame(header, body)
}

// EncodeSubscribe builds a SUBSCRIBE packet for a single topic filter. The
// fixed header carries the reserved flag pattern 0x2 that 3.1.1 requires.
func EncodeSubscribe(packetID uint16, topic string, qos byte) ([]byte, error) {
	if qos > 1 {
		return nil, fmt.Errorf("QoS %d: %w", qos, ErrQoSUnsupported)
	}

	var body []byte
	body = binary.BigEndian.AppendUint16(body, packetID)
	body = appendString(body, topic)
	body = append(body, qos)

	return frame(typeSubscribe|0x02, body)
}

// EncodePingreq returns the fixed 2-byte PINGREQ frame.
func EncodePingreq() []byte { return []byte{typePingreq, 0} }

// EncodeDisconnect returns the fixed 2-byte DISCONNECT frame.
func EncodeDisconnect() []byte { return []byte{typeDisconnect, 0} }

func frame(header byte, body []byte) ([]byte, error) {
	out := []byte{header}
	out, err := encodeRemainingLength(out, len(body))
	if err != nil {
		return nil, err
	}
	return append(out, body...), nil
}

// DecodePublish extracts topic and payload from a complete PUBLISH packet.
// All offsets are checked against the packet's own declared bounds; any
// inconsistency fails closed.
func DecodePublish(p []byte) (topic string, payload []byte, err error) {
	if len(p) < 2 || p[0]>>4 != typePublish>>4 {
		return "", nil, fmt.Errorf("not a PUBLISH packet: %w", ErrMalformedPacket)
	}
	qos := (p[0] >> 1) & 0x03

	remaining, consumed, err := decodeRemainingLength(p[1:])
	if err != nil {
		return "", nil, err
	}
	if consumed == 0 || len(p) < 1+consumed+remaining {
		return "", nil, fmt.Errorf("truncated PUBLISH: %w", ErrMalformedPacket)
	}
	body := p[1+consumed : 1+consumed+remaining]

	if len(body) < 2 {
		return "", nil, fmt.Errorf("missing topic length: %w", ErrMalformedPacket)
	}
	topicLen := int(binary.BigEndian.Uint16(body))
	pos := 2 + topicLen
	if len(body) < pos {
		return "", nil, fmt.Errorf("topic exceeds packet: %w", ErrMalformedPacket)
	}
	topic = string(body[2:pos])

	if qos > 0 {
		if len(body) < pos+2 {
			return "", nil, fmt.Errorf("missing packet id: %w", ErrMalformedPacket)
		}
		pos += 2
	}
	return topic, body[pos:], nil
}

// connackReturnCode extracts the CONNACK return code. A CONNACK is only
// considered valid once at least four bytes are present.
func connackReturnCode(p []byte) (byte, bool) {
	if len(p) < 4 || p[0]>>4 != typeConnack>>4 || p[1] < 2 {
		return 0, false
	}
	return p[3], true
}

// connackReason maps CONNACK return codes to the broker's meaning.
func connackReason(code byte) string {
	switch code {
	case 1:
		return "unacceptable protocol version"
	case 2:
		return "identifier rejected"
	case 3:
		return "server unavailable"
	case 4:
		return "bad user name or password"
	case 5:
		return "not authorized"
	default:
		return fmt.Sprintf("return code %d", code)
	}
}
