// Package wifi drives a serial WiFi co-processor through its text command
// protocol. A Device owns the serial transport, the circular ingestion
// buffer it is drained through, and the single-outstanding command exchange
// that every higher layer (HTTP demultiplexer, MQTT session, association
// helpers) funnels through.
package wifi

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/wifigw/at"
	"i4.energy/across/wifigw/ring"
)

const (
	// commandAccumulatorSize bounds the response bytes collected per
	// exchange. When it fills, the stale prefix is retained and scanning
	// continues; later bytes are dropped.
	commandAccumulatorSize = 4096
	drainChunkSize         = 512
)

// Device is a handle to the serial WiFi co-processor. Command exchanges are
// strictly single-outstanding: one command is in
// flight at a time and a mutex serializes callers. The only asynchronous
// boundary is the fill goroutine moving transport bytes into the ring.
type Device struct {
	transport Transport
	ring      *ring.Buffer
	clock     Clock
	logger    *slog.Logger
	metrics   *deviceMetrics
	config    Config

	// mu enforces the single-outstanding command invariant. It also guards
	// ring drains against racing an in-flight exchange.
	mu sync.Mutex
	// pending holds inbound bytes that arrived in the same window as a
	// command's expect pattern. They belong to the notification pollers and
	// are served by Drain ahead of the ring.
	pending []byte

	closeMu sync.Mutex
	closed  bool

	linkUp   atomic.Bool
	fillDone chan struct{}
}

// New dials the transport, starts ingesting serial bytes, and runs the
// initialization sequence (liveness check, echo off, +IPD address info,
// connection multiplexing). Returns an error if dialing or initialization
// fails.
func New(ctx context.Context, config Config) (*Device, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	d := &Device{
		transport: transport,
		ring:      ring.New(config.RingCapacity),
		clock:     config.Clock,
		logger:    config.Logger.With("component", "wifi"),
		config:    config,
		fillDone:  make(chan struct{}),
	}
	d.metrics = newDeviceMetrics(config.Registerer, d.ring)

	go d.fill()

	initCtx := ctx
	if config.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, config.InitTimeout)
		defer cancel()
	}
	if err := d.init(initCtx); err != nil {
		d.Close()
		return nil, fmt.Errorf("initialize device: %w", err)
	}
	return d, nil
}

// fill is the hardware-copy-engine stand-in: the only goroutine that reads
// the transport, feeding every received byte into the ring.
func (d *Device) fill() {
	defer close(d.fillDone)
	buf := make([]byte, drainChunkSize)
	for {
		n, err := d.transport.Read(buf)
		if n > 0 {
			d.ring.Put(buf[:n])
			d.metrics.bytesIngested.Add(float64(n))
		}
		if err != nil {
			if !d.isClosed() && !errors.Is(err, io.EOF) {
				d.logger.Warn("transport read failed", "error", err)
			}
			return
		}
	}
}

func (d *Device) init(ctx context.Context) error {
	if err := d.expectOK(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("co-processor not responding: %w", err)
	}
	if err := d.expectOK(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("disable echo: %w", err)
	}
	if err := d.expectOK(ctx, at.CmdAddrInfo(d.config.AddrInfo)); err != nil {
		return fmt.Errorf("configure address info: %w", err)
	}
	if err := d.expectOK(ctx, at.CmdMux(d.config.Mux)); err != nil {
		return fmt.Errorf("configure connection multiplexing: %w", err)
	}
	return nil
}

// SendCommand transmits cmd (with line terminator appended) and accumulates
// incoming bytes until expect appears as a substring, the co-processor
// reports failure, or the deadline elapses. Any bytes already buffered in
// the ring are discarded first (best-effort flush; URCs found in them are
// still classified and logged).
//
// The call blocks its caller for up to the deadline and is serialized
// against all other exchanges. When ctx carries no deadline the configured
// AT timeout applies.
func (d *Device) SendCommand(ctx context.Context, cmd, expect string) (string, error) {
	if err := d.usable(); err != nil {
		return "", err
	}
	if expect == "" {
		return "", fmt.Errorf("empty expect pattern: %w", ErrInvalidParameter)
	}
	ctx, cancel := d.withDefaultTimeout(ctx, d.config.ATTimeout)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exchange(ctx, []byte(strings.TrimSpace(cmd)+at.CRLF), expect, true)
}

// SendPayload performs the two-phase raw send both the HTTP and MQTT layers
// use: request a send window of len(payload) bytes on the given link and
// await the prompt, write the payload verbatim (no terminator, no escaping),
// then await the send acknowledgment. A negative link selects the
// single-connection command form.
func (d *Device) SendPayload(ctx context.Context, link int, payload []byte) error {
	if err := d.usable(); err != nil {
		return err
	}
	if len(payload) == 0 {
		return fmt.Errorf("empty payload: %w", ErrInvalidParameter)
	}
	ctx, cancel := d.withDefaultTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()

	cmd := at.CmdSend(link, len(payload))
	if _, err := d.exchange(ctx, []byte(cmd+at.CRLF), at.Prompt, true); err != nil {
		return fmt.Errorf("request send window: %w", err)
	}
	if _, err := d.exchange(ctx, payload, at.SendOK, false); err != nil {
		return fmt.Errorf("send %d bytes on link %d: %w", len(payload), link, err)
	}
	d.metrics.payloadsSent.Inc()
	return nil
}

// exchange writes wire and polls the ring until expect is found. Callers
// must hold d.mu.
func (d *Device) exchange(ctx context.Context, wire []byte, expect string, flush bool) (string, error) {
	start := d.clock.Now()
	if flush {
		d.flushLocked()
	}
	if _, err := d.transport.Write(wire); err != nil {
		d.metrics.commandErrors.Inc()
		return "", fmt.Errorf("write to transport: %w", err)
	}
	d.metrics.commands.Inc()

	acc := make([]byte, 0, commandAccumulatorSize)
	chunk := make([]byte, drainChunkSize)
	pattern := []byte(expect)

	for {
		for {
			n := d.ring.Drain(chunk)
			if n == 0 {
				break
			}
			if room := commandAccumulatorSize - len(acc); room > 0 {
				acc = append(acc, chunk[:min(room, n)]...)
			}
		}

		if idx := bytes.Index(acc, pattern); idx >= 0 {
			// Bytes past the match are not part of this exchange; a
			// notification record can ride in on the same chunk as the
			// final token. Hand them to the pollers instead of dropping.
			if tail := acc[idx+len(pattern):]; len(tail) > 0 {
				d.pending = append(d.pending, tail...)
			}
			d.metrics.commandLatency.Observe(d.clock.Now().Sub(start).Seconds())
			return string(acc), nil
		}
		if bytes.Contains(acc, []byte(at.ERROR)) || bytes.Contains(acc, []byte(at.FAIL)) {
			d.metrics.commandErrors.Inc()
			return string(acc), fmt.Errorf("awaiting %q: %w", expect, ErrCommandFailed)
		}

		select {
		case <-ctx.Done():
			d.metrics.commandErrors.Inc()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return string(acc), fmt.Errorf("awaiting %q: %w", expect, ErrTimeout)
			}
			return string(acc), ctx.Err()
		default:
		}
		d.clock.Sleep(d.config.PollInterval)
	}
}

// flushLocked discards everything buffered in the ring. Discarded bytes are
// scanned for URCs so WiFi state changes are not lost silently.
func (d *Device) flushLocked() {
	chunk := make([]byte, drainChunkSize)
	var discarded []byte
	for {
		n := d.ring.Drain(chunk)
		if n == 0 {
			break
		}
		discarded = append(discarded, chunk[:n]...)
	}
	if len(discarded) > 0 {
		d.scanURCs(discarded)
	}
}

func (d *Device) scanURCs(data []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Split(at.Splitter)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || at.Classify(line) != at.TypeURC {
			continue
		}
		switch {
		case strings.HasPrefix(line, at.UrcWifiGotIP):
			d.linkUp.Store(true)
		case strings.HasPrefix(line, at.UrcWifiDown), line == at.UrcReady:
			d.linkUp.Store(false)
		}
		d.logger.Debug("unsolicited result code", "urc", line)
	}
}

// Drain copies buffered inbound bytes into dst for the notification pollers.
// Bytes that trailed a command exchange's final token are delivered first,
// then the ring. It returns 0 without draining while a command exchange is
// in flight, so pollers never steal an in-flight response.
func (d *Device) Drain(dst []byte) int {
	if !d.mu.TryLock() {
		return 0
	}
	defer d.mu.Unlock()

	n := copy(dst, d.pending)
	if n > 0 {
		d.pending = d.pending[n:]
		if len(d.pending) == 0 {
			d.pending = nil
		}
		if n == len(dst) {
			return n
		}
	}
	return n + d.ring.Drain(dst[n:])
}

// LinkUp reports whether the co-processor last announced an active WiFi
// association (from URCs seen during flushes).
func (d *Device) LinkUp() bool { return d.linkUp.Load() }

// Overruns reports how many times the ingestion ring overwrote unread data.
func (d *Device) Overruns() uint64 { return d.ring.Overruns() }

// Close shuts the device down and releases the transport. After Close the
// device cannot be reused.
func (d *Device) Close() error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return ErrAlreadyClosed
	}
	d.closed = true
	d.closeMu.Unlock()

	err := d.transport.Close()
	<-d.fillDone
	return err
}

func (d *Device) isClosed() bool {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	return d.closed
}

func (d *Device) usable() error {
	if d.isClosed() {
		return ErrAlreadyClosed
	}
	if d.transport == nil {
		return ErrNotInitialized
	}
	return nil
}

func (d *Device) expectOK(ctx context.Context, cmd string) error {
	if _, err := d.SendCommand(ctx, cmd, at.OK); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

func (d *Device) withDefaultTimeout(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || fallback <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, fallback)
}
