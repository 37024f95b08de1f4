package at

import (
	"bytes"
	"errors"
)

var (
	// ErrNoNotification is returned when the buffer holds no notification
	// marker at all. Callers may discard leading noise but must keep a
	// possible partial marker at the tail.
	ErrNoNotification = errors.New("at: no notification in buffer")

	// ErrIncomplete is returned when a notification marker is present but
	// its header or declared payload is not fully buffered yet. The caller
	// must retain the buffer unchanged and retry on the next poll.
	ErrIncomplete = errors.New("at: notification incomplete")

	// ErrBadHeader is returned for a structurally invalid notification
	// header. The consumed count then points past the bad marker so the
	// caller can resynchronize.
	ErrBadHeader = errors.New("at: malformed notification header")
)

// Notification is one complete +IPD record extracted from the serial stream:
// inbound payload bytes for a logical connection, optionally tagged with the
// peer address when CIPDINFO is enabled.
//
// Payload aliases the input buffer; callers that retain it past the next
// buffer mutation must copy it.
type Notification struct {
	Link    int
	Addr    string
	Port    int
	HasAddr bool
	Payload []byte
}

// maxLengthDigits bounds the declared-length field; anything longer is
// treated as a malformed header rather than parsed into a huge allocation.
const maxLengthDigits = 7

// ParseNotification scans buf for the next +IPD record. On success it
// returns the record and the total number of bytes consumed from the start
// of buf (any noise preceding the marker is consumed with it).
//
// Header forms:
//
//	+IPD,<link>,<length>:<payload>
//	+IPD,<link>,<length>,"<ip>",<port>:<payload>
func ParseNotification(buf []byte) (Notification, int, error) {
	idx := bytes.Index(buf, []byte(Marker))
	if idx < 0 {
		return Notification{}, 0, ErrNoNotification
	}
	resync := idx + len(Marker)

	p := buf[idx+len(Marker):]
	pos := 0

	expect := func(b byte) error {
		if pos >= len(p) {
			return ErrIncomplete
		}
		if p[pos] != b {
			return ErrBadHeader
		}
		pos++
		return nil
	}
	number := func(maxDigits int) (int, error) {
		start := pos
		n := 0
		for pos < len(p) && p[pos] >= '0' && p[pos] <= '9' {
			if pos-start >= maxDigits {
				return 0, ErrBadHeader
			}
			n = n*10 + int(p[pos]-'0')
			pos++
		}
		if pos == start {
			if pos >= len(p) {
				return 0, ErrIncomplete
			}
			return 0, ErrBadHeader
		}
		if pos >= len(p) {
			// The number may continue in the next chunk.
			return 0, ErrIncomplete
		}
		return n, nil
	}

	var note Notification

	if err := expect(','); err != nil {
		return Notification{}, resync, err
	}
	link, err := number(3)
	if err != nil {
		return Notification{}, resync, err
	}
	note.Link = link

	if err := expect(','); err != nil {
		return Notification{}, resync, err
	}
	length, err := number(maxLengthDigits)
	if err != nil {
		return Notification{}, resync, err
	}

	switch p[pos] {
	case ':':
		pos++
	case ',':
		pos++
		if err := expect('"'); err != nil {
			return Notification{}, resync, err
		}
		quote := bytes.IndexByte(p[pos:], '"')
		if quote < 0 {
			return Notification{}, resync, ErrIncomplete
		}
		note.Addr = string(p[pos : pos+quote])
		note.HasAddr = true
		pos += quote + 1
		if err := expect(','); err != nil {
			return Notification{}, resync, err
		}
		port, err := number(5)
		if err != nil {
			return Notification{}, resync, err
		}
		note.Port = port
		if err := expect(':'); err != nil {
			return Notification{}, resync, err
		}
	default:
		return Notification{}, resync, ErrBadHeader
	}

	if len(p)-pos < length {
		return Notification{}, resync, ErrIncomplete
	}
	note.Payload = p[pos : pos+length]

	consumed := idx + len(Marker) + pos + length
	return note, consumed, nil
}
