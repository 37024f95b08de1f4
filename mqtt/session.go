package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"i4.energy/across/wifigw/at"
	"i4.energy/across/wifigw/wifi"
)

const (
	defaultKeepalive       = 60 * time.Second
	defaultLink            = 4
	defaultConnectRetries  = 3
	defaultAckTimeout      = 10 * time.Second
	defaultPollInterval    = 5 * time.Millisecond
	defaultAccumulatorSize = 1024
	drainChunkSize         = 512
)

// LinkZero requests connection id 0 for the session, which the zero value
// of SessionConfig.Link cannot express (a zero Link selects the default).
const LinkZero = -1

// MessageHandler receives inbound PUBLISH deliveries. Exactly one handler is
// active per session; registering a new one replaces the previous.
type MessageHandler func(topic string, payload []byte)

// Commander is the slice of the device API the session depends on. It is
// satisfied by *wifi.Device.
type Commander interface {
	SendCommand(ctx context.Context, cmd, expect string) (string, error)
	SendPayload(ctx context.Context, link int, payload []byte) error
	Drain(dst []byte) int
}

// SessionConfig identifies the broker and session parameters.
type SessionConfig struct {
	BrokerHost string
	BrokerPort int
	// ClientID defaults to a uuid-derived id when empty.
	ClientID string
	Username string
	Password string
	// Keepalive defaults to 60 seconds.
	Keepalive time.Duration
	// Link is the co-processor connection id the session occupies. It must
	// not collide with the HTTP server's links. The zero value selects the
	// default link 4; use LinkZero to occupy connection id 0.
	Link int
	// ConnectRetries bounds EnsureConnected's attempts per call.
	ConnectRetries int
}

func (c *SessionConfig) setDefaults() {
	if c.ClientID == "" {
		c.ClientID = "wifigw-" + uuid.NewString()[:8]
	}
	if c.Keepalive == 0 {
		c.Keepalive = defaultKeepalive
	}
	switch c.Link {
	case 0:
		c.Link = defaultLink
	case LinkZero:
		c.Link = 0
	}
	if c.ConnectRetries == 0 {
		c.ConnectRetries = defaultConnectRetries
	}
}

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	logger          *slog.Logger
	clock           wifi.Clock
	registerer      prometheus.Registerer
	ackTimeout      time.Duration
	pollInterval    time.Duration
	accumulatorSize int
}

// WithLogger sets the session's logger.
func WithLogger(l *slog.Logger) Option { return func(o *sessionOptions) { o.logger = l } }

// WithClock sets the time source for acknowledgment waits.
func WithClock(c wifi.Clock) Option { return func(o *sessionOptions) { o.clock = c } }

// WithRegisterer registers the session's metrics collectors.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *sessionOptions) { o.registerer = r }
}

// WithAckTimeout bounds waits for CONNACK/PUBACK/SUBACK/PINGRESP.
func WithAckTimeout(d time.Duration) Option { return func(o *sessionOptions) { o.ackTimeout = d } }

// WithPollInterval sets the pacing of acknowledgment poll loops.
func WithPollInterval(d time.Duration) Option {
	return func(o *sessionOptions) { o.pollInterval = d }
}

// WithAccumulatorSize sets the inbound accumulator's capacity.
func WithAccumulatorSize(n int) Option {
	return func(o *sessionOptions) { o.accumulatorSize = n }
}

// Session is an MQTT client over one co-processor link. Poll and the
// operation methods must run on a single cooperative goroutine; Connected
// may be read from elsewhere.
type Session struct {
	dev Commander
	cfg SessionConfig

	logger       *slog.Logger
	clock        wifi.Clock
	metrics      *sessionMetrics
	ackTimeout   time.Duration
	pollInterval time.Duration
	acc          *at.Accumulator
	drainBuf     []byte

	mu          sync.Mutex
	connected   bool
	nextID      uint16
	handler     MessageHandler
	sawConnack  bool
	connackCode byte
	sawPuback   bool
	sawSuback   bool
	sawPingresp bool
}

// NewSession builds a Session over the given device. It does not contact
// the broker; call Connect or EnsureConnected.
func NewSession(dev Commander, cfg SessionConfig, opts ...Option) *Session {
	cfg.setDefaults()

	o := sessionOptions{
		logger:          slog.Default(),
		clock:           wifi.SystemClock{},
		ackTimeout:      defaultAckTimeout,
		pollInterval:    defaultPollInterval,
		accumulatorSize: defaultAccumulatorSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Session{
		dev:          dev,
		cfg:          cfg,
		logger:       o.logger.With("component", "mqtt"),
		clock:        o.clock,
		metrics:      newSessionMetrics(o.registerer),
		ackTimeout:   o.ackTimeout,
		pollInterval: o.pollInterval,
		acc:          at.NewAccumulator(o.accumulatorSize),
		drainBuf:     make([]byte, drainChunkSize),
	}
}

// OnMessage registers the PUBLISH delivery handler, replacing any previous
// registration.
func (s *Session) OnMessage(h MessageHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Connected reports whether the last CONNACK accepted the session and no
// failure has been observed since.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ClientID returns the session's (possibly generated) client identifier.
func (s *Session) ClientID() string { return s.cfg.ClientID }

// Connect opens the broker TCP connection on the session's link, sends
// CONNECT, and waits for a CONNACK. A non-zero return code yields
// ErrConnectionRefused wrapped with the broker's reason.
func (s *Session) Connect(ctx context.Context) error {
	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	if _, err := s.dev.SendCommand(ctx, at.CmdStartTCP(s.cfg.Link, s.cfg.BrokerHost, s.cfg.BrokerPort), at.OK); err != nil {
		return fmt.Errorf("open broker connection: %w", err)
	}

	frame, err := EncodeConnect(s.cfg.ClientID, s.cfg.Username, s.cfg.Password, uint16(s.cfg.Keepalive/time.Second))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sawConnack = false
	s.mu.Unlock()

	if err := s.dev.SendPayload(ctx, s.cfg.Link, frame); err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}
	if err := s.await(ctx, func() bool { return s.sawConnack }); err != nil {
		return fmt.Errorf("await CONNACK: %w", err)
	}

	s.mu.Lock()
	code := s.connackCode
	s.mu.Unlock()
	if code != 0 {
		return fmt.Errorf("%s: %w", connackReason(code), ErrConnectionRefused)
	}

	s.metrics.connects.Inc()
	s.logger.Info("broker session established",
		"broker", s.cfg.BrokerHost, "client_id", s.cfg.ClientID)
	return nil
}

// EnsureConnected re-establishes the session with the stored broker and
// client id whenever it is down, with a bounded number of attempts.
// Previously subscribed topics are NOT resubscribed; that remains the
// caller's responsibility.
func (s *Session) EnsureConnected(ctx context.Context) error {
	if s.Connected() {
		return nil
	}
	var err error
	for attempt := 1; attempt <= s.cfg.ConnectRetries; attempt++ {
		if err = s.Connect(ctx); err == nil {
			return nil
		}
		s.logger.Warn("broker connect failed", "attempt", attempt, "error", err)
	}
	return err
}

// Publish sends payload to topic. At QoS 1 a fresh packet id is consumed
// and the call waits for a PUBACK; packet ids are not correlated, so any
// PUBACK in the window acknowledges. At QoS 0 the call returns once the
// co-processor acknowledges the raw send.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if !s.Connected() {
		return ErrNotConnected
	}

	var id uint16
	if qos > 0 {
		id = s.nextPacketID()
	}
	frame, err := EncodePublish(topic, payload, qos, retain, id)
	if err != nil {
		return err
	}

	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	s.sawPuback = false
	s.mu.Unlock()

	if err := s.dev.SendPayload(ctx, s.cfg.Link, frame); err != nil {
		s.metrics.publishFailures.Inc()
		return fmt.Errorf("publish to %q: %w", topic, err)
	}
	if qos > 0 {
		if err := s.await(ctx, func() bool { return s.sawPuback }); err != nil {
			s.metrics.publishFailures.Inc()
			return fmt.Errorf("await PUBACK for %q: %w", topic, err)
		}
	}
	s.metrics.publishes.Inc()
	return nil
}

// Subscribe registers a topic filter with the broker. Receipt of any SUBACK
// is treated as success; the granted QoS is not parsed.
func (s *Session) Subscribe(ctx context.Context, topic string, qos byte) error {
	if !s.Connected() {
		return ErrNotConnected
	}

	frame, err := EncodeSubscribe(s.nextPacketID(), topic, qos)
	if err != nil {
		return err
	}

	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	s.sawSuback = false
	s.mu.Unlock()

	if err := s.dev.SendPayload(ctx, s.cfg.Link, frame); err != nil {
		return fmt.Errorf("subscribe to %q: %w", topic, err)
	}
	if err := s.await(ctx, func() bool { return s.sawSuback }); err != nil {
		return fmt.Errorf("await SUBACK for %q: %w", topic, err)
	}
	s.logger.Info("subscribed", "topic", topic, "qos", qos)
	return nil
}

// Ping exchanges a keepalive with the broker. A missed PINGRESP marks the
// session disconnected so the next EnsureConnected re-establishes it.
func (s *Session) Ping(ctx context.Context) error {
	if !s.Connected() {
		return ErrNotConnected
	}

	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	s.sawPingresp = false
	s.mu.Unlock()

	if err := s.dev.SendPayload(ctx, s.cfg.Link, EncodePingreq()); err == nil {
		err = s.await(ctx, func() bool { return s.sawPingresp })
		if err == nil {
			return nil
		}
	}

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.metrics.pingFailures.Inc()
	return fmt.Errorf("keepalive lost: %w", ErrNotConnected)
}

// Disconnect sends DISCONNECT and closes the link. Best effort; the session
// is marked down regardless.
func (s *Session) Disconnect(ctx context.Context) error {
	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	err := s.dev.SendPayload(ctx, s.cfg.Link, EncodeDisconnect())

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	if _, cerr := s.dev.SendCommand(ctx, at.CmdClose(s.cfg.Link), at.OK); err == nil {
		err = cerr
	}
	return err
}

// Poll drains inbound bytes and dispatches every complete control packet.
// Incomplete notification records stay buffered for the next poll. Poll
// never fails on packet-level problems.
func (s *Session) Poll(ctx context.Context) error {
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
			s.acc.TrimToTail(len(at.Marker) - 1)
			return nil
		case errors.Is(err, at.ErrIncomplete):
			return nil
		default:
			s.logger.Warn("dropping malformed notification header")
			s.acc.Discard(consumed)
			continue
		}

		packet := make([]byte, len(note.Payload))
		copy(packet, note.Payload)
		s.acc.Discard(consumed)

		s.dispatch(packet)
	}
}

// dispatch routes one inbound packet by the high nibble of its first byte.
// Acknowledgments are presence flags only; packet ids are not correlated,
// which can false-positive on payload bytes that mimic a header.
func (s *Session) dispatch(p []byte) {
	if len(p) == 0 {
		return
	}
	switch p[0] >> 4 {
	case typeConnack >> 4:
		code, ok := connackReturnCode(p)
		if !ok {
			s.logger.Warn("ignoring short CONNACK")
			return
		}
		s.mu.Lock()
		s.sawConnack = true
		s.connackCode = code
		s.connected = code == 0
		s.mu.Unlock()

	case typePuback >> 4:
		s.mu.Lock()
		s.sawPuback = true
		s.mu.Unlock()

	case typeSuback >> 4:
		s.mu.Lock()
		s.sawSuback = true
		s.mu.Unlock()

	case typePingresp >> 4:
		s.mu.Lock()
		s.sawPingresp = true
		s.mu.Unlock()

	case typePublish >> 4:
		topic, payload, err := DecodePublish(p)
		if err != nil {
			s.logger.Warn("dropping malformed PUBLISH", "error", err)
			return
		}
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h != nil {
			h(topic, payload)
		}
		s.metrics.messages.Inc()

	default:
		// Other control packets are recognized and ignored.
	}
}

// AccumulatorResets reports how many times the inbound accumulator
// overflowed and was cleared.
func (s *Session) AccumulatorResets() uint64 { return s.acc.Resets() }

func (s *Session) nextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.nextID == 0 {
		// Wraps modulo 65536 but skips 0, which 3.1.1 forbids.
		s.nextID = 1
	}
	return s.nextID
}

// await paces Poll until done reports true or the deadline passes.
func (s *Session) await(ctx context.Context, done func() bool) error {
	for {
		if err := s.Poll(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		ok := done()
		s.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return wifi.ErrTimeout
			}
			return ctx.Err()
		default:
		}
		s.clock.Sleep(s.pollInterval)
	}
}

func (s *Session) withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.ackTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.ackTimeout)
}
