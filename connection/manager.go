// Package connection keeps exactly one logical transport connection alive:
// connect, subscribe, detect drops and reconnect with a bounded number of
// delayed attempts.
package connection

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"order-monitor/clock"
	apperrors "order-monitor/errors"
	"order-monitor/transport"
)

// LostConnection is the reason reported when an established or pending
// connection fails.
const LostConnection = "lost connection to server"

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	}
	return "unknown"
}

// Poster hands a closure to the single dispatch goroutine. Every callback the
// manager receives from transport goroutines or timers re-enters through it.
type Poster func(fn func())

// Change describes one state transition.
type Change struct {
	State   State
	Attempt int
	Reason  string
	Err     error
}

// Connected reports whether the change leaves the manager connected.
func (c Change) Connected() bool { return c.State == Connected }

type Config struct {
	Topics      []string
	MaxAttempts int
	Delay       time.Duration
}

// Manager owns the connection state machine. Connect, Disconnect, Reconnect
// and every posted callback must run on the dispatch goroutine; State and
// Attempts may be read from anywhere.
type Manager struct {
	transport transport.Transport
	post      Poster
	clock     clock.Clock
	logger    *zap.Logger
	cfg       Config

	onMessage func(transport.Message)
	onChange  func(Change)

	state    State
	attempts int
	gen      uint64
	conn     transport.Conn
	cancel   context.CancelFunc
	timer    clock.Timer

	stateView    atomic.Int32
	attemptsView atomic.Int32
	dials        atomic.Int64
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// OnMessage sets the handler for messages from the live connection.
func OnMessage(fn func(transport.Message)) Option {
	return func(m *Manager) { m.onMessage = fn }
}

// OnChange sets the listener for state transitions.
func OnChange(fn func(Change)) Option {
	return func(m *Manager) { m.onChange = fn }
}

func NewManager(t transport.Transport, post Poster, cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		transport: t,
		post:      post,
		clock:     clock.Real{},
		logger:    logger,
		cfg:       cfg,
		onMessage: func(transport.Message) {},
		onChange:  func(Change) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) State() State { return State(m.stateView.Load()) }

// Attempts is the number of automatic reconnects used since the last
// successful connect or explicit disconnect.
func (m *Manager) Attempts() int { return int(m.attemptsView.Load()) }

// Dials counts every dial started, for diagnostics.
func (m *Manager) Dials() int64 { return m.dials.Load() }

// Connect starts a connection attempt. It is a no-op while connecting or
// connected; during backoff it skips the remaining delay.
func (m *Manager) Connect() {
	switch m.state {
	case Connecting, Connected:
		return
	case Backoff:
		m.stopTimer()
	}
	m.dial()
}

// Disconnect cancels any pending reconnect, closes the connection and resets
// the retry counter. Callbacks from the torn-down attempt are ignored.
func (m *Manager) Disconnect() {
	m.stopTimer()
	m.gen++
	m.teardown()
	m.attempts = 0
	m.setState(Disconnected, Change{})
	m.logger.Info("disconnected")
}

// Reconnect is an explicit Disconnect followed by Connect.
func (m *Manager) Reconnect() {
	m.Disconnect()
	m.Connect()
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.dials.Add(1)
	m.setState(Connecting, Change{Attempt: m.attempts})
	m.logger.Info("connecting",
		zap.String("transport", m.transport.Name()),
		zap.Int("attempt", m.attempts),
	)

	go func() {
		conn, err := m.transport.Dial(ctx)
		m.post(func() { m.dialed(gen, conn, err) })
	}()
}

func (m *Manager) dialed(gen uint64, conn transport.Conn, err error) {
	if gen != m.gen {
		if conn != nil {
			_ = conn.Close()
		}
		m.logger.Debug("ignoring stale dial result", zap.Uint64("generation", gen))
		return
	}
	if err != nil {
		m.dropped(apperrors.Transport("dial failed", err))
		return
	}

	m.conn = conn
	for _, topic := range m.cfg.Topics {
		if err := conn.Subscribe(topic); err != nil {
			m.dropped(apperrors.Transport("subscribe "+topic, err))
			return
		}
	}

	m.attempts = 0
	m.setState(Connected, Change{})
	m.logger.Info("connected", zap.Int("topics", len(m.cfg.Topics)))
	go m.pump(gen, conn)
}

// pump forwards messages until the connection ends, then reports the end.
func (m *Manager) pump(gen uint64, conn transport.Conn) {
	for msg := range conn.Messages() {
		m.post(func() {
			if gen == m.gen {
				m.onMessage(msg)
			}
		})
	}
	err := conn.Err()
	m.post(func() { m.closed(gen, err) })
}

func (m *Manager) closed(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	if err == nil {
		err = transport.ErrClosed
	}
	m.dropped(apperrors.Transport("connection closed", err))
}

func (m *Manager) dropped(err error) {
	m.teardown()
	m.logger.Warn("connection lost", zap.Error(err), zap.Int("attempts", m.attempts))

	if m.attempts >= m.cfg.MaxAttempts {
		m.setState(Disconnected, Change{Reason: LostConnection, Err: err, Attempt: m.attempts})
		m.logger.Error("giving up reconnecting", zap.Int("max_attempts", m.cfg.MaxAttempts))
		return
	}

	m.attempts++
	gen := m.gen
	m.setState(Backoff, Change{Reason: LostConnection, Err: err, Attempt: m.attempts})
	m.timer = m.clock.AfterFunc(m.cfg.Delay, func() {
		m.post(func() { m.retry(gen) })
	})
	m.logger.Info("reconnect scheduled",
		zap.Int("attempt", m.attempts),
		zap.Duration("delay", m.cfg.Delay),
	)
}

func (m *Manager) retry(gen uint64) {
	if gen != m.gen || m.state != Backoff {
		return
	}
	m.timer = nil
	m.dial()
}

func (m *Manager) teardown() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Debug("close failed", zap.Error(err))
		}
		m.conn = nil
	}
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setState(s State, c Change) {
	prev := m.state
	m.state = s
	m.stateView.Store(int32(s))
	m.attemptsView.Store(int32(m.attempts))
	if prev == s && s != Backoff {
		return
	}
	c.State = s
	m.onChange(c)
}
