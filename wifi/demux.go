package wifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"i4.energy/across/wifigw/at"
)

const (
	demuxAccumulatorSize = 2048
	legQueueSize         = 2048
)

// Conduit is the command-and-drain surface the demultiplexer fans out. It is
// satisfied by *Device.
type Conduit interface {
	SendCommand(ctx context.Context, cmd, expect string) (string, error)
	SendPayload(ctx context.Context, link int, payload []byte) error
	Drain(dst []byte) int
}

// Demux splits the device's single inbound byte stream by notification link
// id. Consumers that poll independently (the HTTP demultiplexer on its
// server links, the MQTT session on its client link) must each claim their
// links and drain through their own Leg; a consumer draining the device
// directly would consume, and answer, records meant for the others.
type Demux struct {
	dev    Conduit
	logger *slog.Logger

	mu       sync.Mutex
	acc      *at.Accumulator
	drainBuf []byte
	legs     map[int]*Leg
	dropped  uint64
}

// NewDemux builds a Demux over the device. A nil logger selects the default.
func NewDemux(dev Conduit, logger *slog.Logger) *Demux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Demux{
		dev:      dev,
		logger:   logger.With("component", "demux"),
		acc:      at.NewAccumulator(demuxAccumulatorSize),
		drainBuf: make([]byte, drainChunkSize),
		legs:     make(map[int]*Leg),
	}
}

// Claim registers a consumer for the given link ids and returns its Leg.
// Every link belongs to exactly one leg.
func (d *Demux) Claim(links ...int) (*Leg, error) {
	if len(links) == 0 {
		return nil, fmt.Errorf("no links given: %w", ErrInvalidParameter)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, link := range links {
		if _, taken := d.legs[link]; taken {
			return nil, fmt.Errorf("link %d: %w", link, ErrLinkClaimed)
		}
	}
	leg := &Leg{d: d, q: at.NewAccumulator(legQueueSize)}
	for _, link := range links {
		d.legs[link] = leg
	}
	return leg, nil
}

// Dropped reports how many complete records arrived for unclaimed links.
func (d *Demux) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// pumpLocked drains the device and routes every complete record to the
// claiming leg's queue. An incomplete record stays buffered for the next
// pump; records for unclaimed links are dropped and counted. Callers must
// hold d.mu.
func (d *Demux) pumpLocked() {
	for {
		n := d.dev.Drain(d.drainBuf)
		if n == 0 {
			break
		}
		d.acc.Append(d.drainBuf[:n])
	}

	for {
		note, consumed, err := at.ParseNotification(d.acc.Bytes())
		switch {
		case err == nil:
		case errors.Is(err, at.ErrNoNotification):
			d.acc.TrimToTail(len(at.Marker) - 1)
			return
		case errors.Is(err, at.ErrIncomplete):
			return
		default:
			d.logger.Warn("dropping malformed notification header")
			d.acc.Discard(consumed)
			continue
		}

		leg, ok := d.legs[note.Link]
		if !ok {
			d.dropped++
			d.logger.Warn("dropping record for unclaimed link",
				"link", note.Link, "bytes", len(note.Payload))
			d.acc.Discard(consumed)
			continue
		}
		// The raw record span goes through verbatim, leading noise included;
		// the leg's own parser skips that noise again.
		leg.q.Append(d.acc.Bytes()[:consumed])
		d.acc.Discard(consumed)
	}
}

// Leg is one consumer's view of the shared device. Commands and payload
// sends pass straight through; Drain yields only the records of the links
// this leg claimed. A Leg satisfies the pollers' Commander interfaces.
type Leg struct {
	d *Demux
	q *at.Accumulator
}

func (l *Leg) SendCommand(ctx context.Context, cmd, expect string) (string, error) {
	return l.d.dev.SendCommand(ctx, cmd, expect)
}

func (l *Leg) SendPayload(ctx context.Context, link int, payload []byte) error {
	return l.d.dev.SendPayload(ctx, link, payload)
}

// Drain pumps the shared stream and serves this leg's queued record bytes.
func (l *Leg) Drain(dst []byte) int {
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	l.d.pumpLocked()
	n := copy(dst, l.q.Bytes())
	l.q.Discard(n)
	return n
}
