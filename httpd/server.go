// Package httpd serves HTTP requests that arrive multiplexed over the WiFi
// co-processor's serial link. Inbound bytes carry interleaved +IPD records,
// one per chunk of connection data; the server reassembles complete requests
// per logical connection, dispatches them against an exact-match route
// table, and frames responses back through the device's two-phase raw send.
package httpd

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"i4.energy/across/wifigw/at"
	"i4.energy/across/wifigw/wifi"
)

const (
	// DefaultIdleTimeout is how long a connection may sit without activity
	// before the sweep closes it.
	DefaultIdleTimeout = 30 * time.Second

	defaultAccumulatorSize = 2048
	defaultResponseLimit   = 2048
	defaultRouteCapacity   = 16
	drainChunkSize         = 512
)

// Commander is the slice of the device API the server depends on. It is
// satisfied by *wifi.Device.
type Commander interface {
	SendCommand(ctx context.Context, cmd, expect string) (string, error)
	SendPayload(ctx context.Context, link int, payload []byte) error
	Drain(dst []byte) int
}

// Stats are the running counters kept across responses.
type Stats struct {
	RequestsSeen      uint64
	ResponsesSent     uint64
	Successes         uint64
	Failures          uint64
	TotalLatency      time.Duration
	AvgLatency        time.Duration
	AccumulatorResets uint64
}

// Server demultiplexes inbound requests and answers them. Poll and Sweep
// must be called from a single goroutine (the cooperative loop); Stats and
// Connections may be read from elsewhere.
type Server struct {
	dev    Commander
	routes *RouteTable
	conns  connTable
	acc    *at.Accumulator

	clock         wifi.Clock
	logger        *slog.Logger
	idleTimeout   time.Duration
	responseLimit int
	drainBuf      []byte

	mu    sync.Mutex
	stats Stats

	metrics *serverMetrics
}

// Option configures a Server.
type Option func(*options)

type options struct {
	logger          *slog.Logger
	clock           wifi.Clock
	registerer      prometheus.Registerer
	idleTimeout     time.Duration
	routeCapacity   int
	accumulatorSize int
	responseLimit   int
}

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock sets the time source used for deadlines and idle tracking.
func WithClock(c wifi.Clock) Option { return func(o *options) { o.clock = c } }

// WithIdleTimeout overrides the 30s idle eviction threshold.
func WithIdleTimeout(d time.Duration) Option { return func(o *options) { o.idleTimeout = d } }

// WithRouteCapacity sets the route table's fixed capacity.
func WithRouteCapacity(n int) Option { return func(o *options) { o.routeCapacity = n } }

// WithAccumulatorSize sets the shared accumulator's capacity.
func WithAccumulatorSize(n int) Option { return func(o *options) { o.accumulatorSize = n } }

// WithResponseLimit sets the fixed response send-buffer size.
func WithResponseLimit(n int) Option { return func(o *options) { o.responseLimit = n } }

// WithRegisterer registers the server's metrics collectors.
func WithRegisterer(r prometheus.Registerer) Option { return func(o *options) { o.registerer = r } }

// NewServer builds a Server over the given device.
func NewServer(dev Commander, opts ...Option) *Server {
	o := options{
		logger:          slog.Default(),
		clock:           wifi.SystemClock{},
		idleTimeout:     DefaultIdleTimeout,
		routeCapacity:   defaultRouteCapacity,
		accumulatorSize: defaultAccumulatorSize,
		responseLimit:   defaultResponseLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Server{
		dev:           dev,
		routes:        NewRouteTable(o.routeCapacity),
		acc:           at.NewAccumulator(o.accumulatorSize),
		clock:         o.clock,
		logger:        o.logger.With("component", "httpd"),
		idleTimeout:   o.idleTimeout,
		responseLimit: o.responseLimit,
		drainBuf:      make([]byte, drainChunkSize),
		metrics:       newServerMetrics(o.registerer),
	}
}

// Handle registers an exact-match route.
func (s *Server) Handle(path string, h Handler) error {
	return s.routes.Handle(path, h)
}

// Poll drains newly arrived bytes, extracts every complete notification, and
// serves the requests they carry. Incomplete records are left buffered for
// the next poll. Poll never fails on request-level problems; it only returns
// the context's error.
func (s *Server) Poll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		n := s.dev.Drain(s.drainBuf)
		if n == 0 {
			break
		}
		s.acc.Append(s.drainBuf[:n])
	}

	for {
		note, consumed, err := at.ParseNotification(s.acc.Bytes())
		switch {
		case err == nil:
		case errors.Is(err, at.ErrNoNotification):
			// Drop noise but keep a possible partial marker at the tail.
			s.acc.TrimToTail(len(at.Marker) - 1)
			return nil
		case errors.Is(err, at.ErrIncomplete):
			return nil
		default:
			s.logger.Warn("dropping malformed notification header")
			s.acc.Discard(consumed)
			continue
		}

		// The payload aliases the accumulator; copy before discarding.
		payload := make([]byte, len(note.Payload))
		copy(payload, note.Payload)
		link := note.Link
		if err := s.conns.touch(link, note.Addr, note.Port, note.HasAddr, s.clock.Now()); err != nil {
			s.logger.Warn("connection table", "link", link, "error", err)
		}
		s.acc.Discard(consumed)

		s.serve(ctx, link, payload)
	}
}

func (s *Server) serve(ctx context.Context, link int, payload []byte) {
	start := s.clock.Now()
	s.mu.Lock()
	s.stats.RequestsSeen++
	s.mu.Unlock()
	s.metrics.requests.Inc()

	var resp *Response
	req, err := parseRequest(payload)
	switch {
	case err != nil:
		s.logger.Debug("unparseable request", "link", link, "error", err)
		resp = notFound
	case req.Path == "/favicon.ico":
		resp = NoContent()
	default:
		if h, ok := s.routes.lookup(req.Path); ok {
			resp = h(link, req)
			if resp == nil {
				resp = NoContent()
			}
		} else {
			resp = notFound
		}
		s.logger.Info("request", "link", link, "method", req.Method, "path", req.Path)
	}

	s.respond(ctx, link, resp, start)
}

func (s *Server) respond(ctx context.Context, link int, resp *Response, start time.Time) {
	frame, err := resp.render(s.responseLimit)
	if err != nil {
		s.logger.Error("render response", "link", link, "error", err)
		s.fail()
		return
	}

	if err := s.dev.SendPayload(ctx, link, frame); err != nil {
		s.logger.Warn("send response", "link", link, "error", err)
		s.fail()
		return
	}

	// Connection: close semantics; the sweep handles links that never got
	// this far.
	if _, err := s.dev.SendCommand(ctx, at.CmdClose(link), at.OK); err != nil {
		s.logger.Debug("close link", "link", link, "error", err)
	}
	s.conns.clear(link)

	elapsed := s.clock.Now().Sub(start)
	s.mu.Lock()
	s.stats.ResponsesSent++
	s.stats.Successes++
	s.stats.TotalLatency += elapsed
	s.mu.Unlock()
	s.metrics.responses.Inc()
	s.metrics.latency.Observe(elapsed.Seconds())
}

func (s *Server) fail() {
	s.mu.Lock()
	s.stats.Failures++
	s.mu.Unlock()
	s.metrics.failures.Inc()
}

// Sweep closes and clears every connection idle past the threshold. It runs
// independently of Poll, on the same cooperative loop.
func (s *Server) Sweep(ctx context.Context) {
	now := s.clock.Now()
	for _, link := range s.conns.stale(now, s.idleTimeout) {
		if _, err := s.dev.SendCommand(ctx, at.CmdClose(link), at.OK); err != nil {
			s.logger.Debug("close idle link", "link", link, "error", err)
		}
		s.conns.clear(link)
		s.metrics.idleClosed.Inc()
		s.logger.Info("closed idle connection", "link", link)
	}
}

// Stats returns a snapshot of the running counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()
	if st.ResponsesSent > 0 {
		st.AvgLatency = st.TotalLatency / time.Duration(st.ResponsesSent)
	}
	st.AccumulatorResets = s.acc.Resets()
	return st
}

// Connections returns the active connection slots.
func (s *Server) Connections() []Connection {
	return s.conns.snapshot()
}
