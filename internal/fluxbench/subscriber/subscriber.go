// Package subscriber simulates consumers that hold one websocket subscription each and measure the end-to-end
// latency of every message the broker pushes to them.
package subscriber

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/fluxbench/internal/fluxbench/fluxerrors"
	"github.com/G-Research/fluxbench/internal/fluxbench/message"
	"github.com/G-Research/fluxbench/internal/fluxbench/metrics"
)

const closeGracePeriod = time.Second

type ReconnectConfig struct {
	// MaxAttempts is the number of reconnection attempts after a subscription drops. Zero disables reconnection.
	MaxAttempts uint
	Delay       time.Duration
	MaxDelay    time.Duration
}

type Config struct {
	// Endpoint is the websocket subscription URL, e.g. ws://127.0.0.1:51009/subscribe.
	Endpoint string
	// HandshakeTimeout bounds dialling plus sending the handshake frame.
	HandshakeTimeout  time.Duration
	IdPrefix          string
	KeepaliveInterval time.Duration
	Reconnect         ReconnectConfig
}

// TopicSource picks the topic for each subscription.
type TopicSource interface {
	Next() string
}

type session struct {
	id    string
	topic string
	conn  *websocket.Conn
}

// Subscriber owns one websocket connection and the single goroutine that reads from it.
//
// Start performs the handshake; once subscribed, every inbound frame produces a recv_message event until the
// connection fails, which produces exactly one recv_message_err. Stop closes the connection without emitting
// anything further.
type Subscriber struct {
	config Config
	topics TopicSource
	ids    *IdRegistry
	sink   metrics.Sink
	dialer *websocket.Dialer
	clock  clock.Clock

	mu      sync.Mutex
	state   State
	current *session
	closing bool
	cancel  context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

func New(config Config, topics TopicSource, ids *IdRegistry, sink metrics.Sink) *Subscriber {
	if ids == nil {
		ids = NewIdRegistry()
	}
	return &Subscriber{
		config: config,
		topics: topics,
		ids:    ids,
		sink:   sink,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		clock: clock.RealClock{},
		state: StateInit,
		done:  make(chan struct{}),
	}
}

// Start subscribes and, on success, starts the receive loop. It emits exactly one subscribe or subscribe_err
// event. A failed start leaves the subscriber closed; the returned error is informational only.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInit || s.closing {
		s.mu.Unlock()
		return errors.Errorf("subscriber cannot start from state %s", s.state)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateConnecting
	s.mu.Unlock()

	current, err := s.connect(ctx, StateConnecting)
	if err != nil {
		s.close()
		return err
	}
	go s.supervise(ctx, current)
	return nil
}

// connect claims a new id, picks a topic, dials and sends the handshake.
func (s *Subscriber) connect(ctx context.Context, state State) (*session, error) {
	current := &session{
		id:    s.ids.Generate(s.config.IdPrefix),
		topic: s.topics.Next(),
	}
	s.mu.Lock()
	s.state = state
	s.current = current
	s.mu.Unlock()

	conn, err := s.dial(ctx, current)
	if err == nil {
		s.mu.Lock()
		if s.closing {
			err = s.connectError(current, context.Canceled)
		} else {
			current.conn = conn
			s.state = StateSubscribed
		}
		s.mu.Unlock()
		if err != nil {
			_ = conn.Close()
		}
	}

	metrics.Record(s.sink, metrics.RequestTypeWs, metrics.Subscribe, metrics.Outcome{
		Err:       err,
		Cancelled: err != nil && (ctx.Err() != nil || s.isClosing()),
	})
	if err != nil {
		return nil, err
	}
	log.WithField("subscriber", current.id).Debugf("subscribed to %s", current.topic)
	return current, nil
}

func (s *Subscriber) dial(ctx context.Context, current *session) (*websocket.Conn, error) {
	if s.config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.HandshakeTimeout)
		defer cancel()
	}

	// The dialer only honours ctx while establishing the TCP connection, so the upgrade exchange is
	// interrupted by closing the raw connection underneath it.
	guard := &handshakeGuard{}
	dialer := *s.dialer
	dialer.NetDialContext = guard.dialContext
	finished := make(chan struct{})
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		select {
		case <-ctx.Done():
			guard.abort()
		case <-finished:
		}
	}()
	defer func() {
		close(finished)
		<-watching
	}()

	conn, resp, err := dialer.DialContext(ctx, s.config.Endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			err = errors.Wrap(ctx.Err(), err.Error())
		}
		return nil, s.connectError(current, err)
	}

	handshake, err := message.Handshake{SubscriberId: current.id, Topic: current.topic}.Marshal()
	if err != nil {
		_ = conn.Close()
		return nil, s.connectError(current, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		_ = conn.Close()
		return nil, s.connectError(current, err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

// handshakeGuard tracks the raw connection of one dial so it can be closed while the handshake is in flight.
type handshakeGuard struct {
	mu      sync.Mutex
	conn    net.Conn
	aborted bool
}

func (g *handshakeGuard) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.aborted {
		_ = conn.Close()
		return nil, context.Canceled
	}
	g.conn = conn
	return conn, nil
}

func (g *handshakeGuard) abort() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.aborted = true
	if g.conn != nil {
		_ = g.conn.Close()
	}
}

func (s *Subscriber) connectError(current *session, cause error) error {
	return &fluxerrors.ErrConnect{
		Endpoint:     s.config.Endpoint,
		SubscriberId: current.id,
		Topic:        current.topic,
		Cause:        cause,
	}
}

// supervise is the one goroutine that reads from the connection. It outlives individual connections only
// when reconnection is enabled.
func (s *Subscriber) supervise(ctx context.Context, current *session) {
	defer s.close()
	for {
		err := s.receive(current)
		_ = current.conn.Close()
		if s.isClosing() {
			return
		}
		metrics.Record(s.sink, metrics.RequestTypeWs, metrics.RecvMessage, metrics.Outcome{Err: err})
		log.WithField("subscriber", current.id).Debugf("subscription lost: %s", err)

		if s.config.Reconnect.MaxAttempts == 0 {
			return
		}
		current, err = s.reconnect(ctx)
		if err != nil {
			log.WithField("subscriber", s.SubscriberId()).Debugf("giving up reconnecting: %s", err)
			return
		}
	}
}

// receive reads frames until the connection fails or a frame cannot be decoded.
func (s *Subscriber) receive(current *session) error {
	for {
		_, frame, err := current.conn.ReadMessage()
		if err != nil {
			return &fluxerrors.ErrTransport{SubscriberId: current.id, Topic: current.topic, Cause: err}
		}
		recvTime := message.EpochSeconds(s.clock.Now())
		if len(frame) == 0 {
			continue
		}
		sent, err := message.DecodeSentTime(frame, recvTime)
		if err != nil {
			return &fluxerrors.ErrTransport{SubscriberId: current.id, Topic: current.topic, Frame: frame, Cause: err}
		}
		metrics.Record(s.sink, metrics.RequestTypeWs, metrics.RecvMessage, metrics.Outcome{
			ResponseTimeMs: message.LatencyMs(sent, recvTime),
			ResponseLength: len(frame),
		})
	}
}

// reconnect subscribes again with a fresh id and topic, backing off exponentially between attempts.
func (s *Subscriber) reconnect(ctx context.Context) (*session, error) {
	var current *session
	err := retry.Do(
		func() error {
			var err error
			current, err = s.connect(ctx, StateReconnecting)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.config.Reconnect.MaxAttempts),
		retry.Delay(s.config.Reconnect.Delay),
		retry.MaxDelay(s.config.Reconnect.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return !s.isClosing() }),
		retry.OnRetry(func(n uint, err error) {
			log.Debugf("reconnect attempt %d failed: %s", n+1, err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return current, nil
}

// Task is the keepalive run by the scheduler. It only waits; all network activity happens in the receive loop.
func (s *Subscriber) Task(ctx context.Context) {
	interval := s.config.KeepaliveInterval
	if interval <= 0 {
		interval = time.Second
	}
	select {
	case <-ctx.Done():
	case <-s.clock.After(interval):
	}
}

// Stop closes the connection and waits for the receive loop to exit. No event is emitted for a connection
// closed this way.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	s.closing = true
	started := s.state != StateInit
	cancel := s.cancel
	var conn *websocket.Conn
	if s.current != nil {
		conn = s.current.conn
	}
	s.mu.Unlock()

	if !started {
		s.close()
		return nil
	}
	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = errors.WithStack(closeErr)
		}
	}
	<-s.done
	return err
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.state = StateClosed
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Subscriber) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the subscriber reaches StateClosed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// SubscriberId is the id of the current or most recent subscription. Empty before Start.
func (s *Subscriber) SubscriberId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.id
}

func (s *Subscriber) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.topic
}
