package services

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"order-monitor/clock"
	"order-monitor/connection"
	"order-monitor/dispatcher"
	"order-monitor/engine"
	apperrors "order-monitor/errors"
	aws_pkg "order-monitor/pkg/aws"
	"order-monitor/transport"
)

// NetworkUnavailable is the reason shown while the host reports no network.
const NetworkUnavailable = "network unavailable"

// MonitorService is what the HTTP layer needs from the running monitor.
type MonitorService interface {
	Snapshot() *engine.Snapshot
	Health() Health
	Reconnect(ctx context.Context) error
	ClearOrders(ctx context.Context) error
	SetNetworkAvailable(ctx context.Context, available bool) error
}

// Mirror receives every published snapshot version, off the dispatch loop.
// *database.SnapshotRepository satisfies it.
type Mirror interface {
	SaveSnapshot(ctx context.Context, s *engine.Snapshot) error
}

// Health summarizes the connection and pipeline for /health.
type Health struct {
	Status     string           `json:"status"`
	Service    string           `json:"service"`
	Instance   string           `json:"instance"`
	Transport  string           `json:"transport"`
	State      string           `json:"state"`
	Connected  bool             `json:"connected"`
	Network    bool             `json:"network_available"`
	Attempts   int              `json:"reconnect_attempts"`
	Dials      int64            `json:"dials"`
	Version    uint64           `json:"snapshot_version"`
	LastError  string           `json:"last_error,omitempty"`
	Dispatcher dispatcher.Stats `json:"dispatcher"`
}

type MonitorOptions struct {
	Engine      engine.Config
	Topics      []string
	MaxAttempts int
	Delay       time.Duration
	Instance    string
	Clock       clock.Clock
	Mirror      Mirror
	Metrics     *aws_pkg.MetricsClient
	// MetricsInterval is how often state gauges are pushed; zero disables.
	MetricsInterval time.Duration
}

// Monitor wires the connection manager, dispatcher and engine onto one
// dispatch loop.
type Monitor struct {
	loop       *Loop
	engine     *engine.Engine
	dispatcher *dispatcher.Dispatcher
	manager    *connection.Manager
	transport  string
	opts       MonitorOptions
	logger     *zap.Logger

	// owned by the loop
	network  bool
	mirrored uint64

	networkView atomic.Bool
	mirrorCh    chan *engine.Snapshot

	metricsMu   sync.Mutex
	lastDecoded int64
	lastDropped int64
	lastReject  int64
}

func NewMonitor(t transport.Transport, opts MonitorOptions, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if len(opts.Topics) == 0 {
		opts.Topics = dispatcher.Topics(dispatcher.DefaultPrefix)
	}

	m := &Monitor{
		loop:      NewLoop(0),
		transport: t.Name(),
		opts:      opts,
		logger:    logger,
		network:   true,
		mirrorCh:  make(chan *engine.Snapshot, 1),
	}
	m.networkView.Store(true)
	m.engine = engine.New(opts.Engine, logger.Named("engine"), engine.WithClock(opts.Clock))
	m.dispatcher = dispatcher.New(m.engine, logger.Named("dispatcher"),
		dispatcher.WithClock(opts.Clock),
		dispatcher.WithLocation(opts.Engine.Location),
	)
	m.manager = connection.NewManager(t, m.post,
		connection.Config{Topics: opts.Topics, MaxAttempts: opts.MaxAttempts, Delay: opts.Delay},
		logger.Named("connection"),
		connection.WithClock(opts.Clock),
		connection.OnMessage(m.handleMessage),
		connection.OnChange(m.handleChange),
	)
	return m
}

// post runs fn on the loop and then mirrors whatever it changed.
func (m *Monitor) post(fn func()) {
	m.loop.Post(func() {
		fn()
		m.afterStep()
	})
}

func (m *Monitor) do(ctx context.Context, fn func()) error {
	return m.loop.Do(ctx, func() {
		fn()
		m.afterStep()
	})
}

// Run connects and processes messages until ctx ends, then disconnects.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if m.opts.Mirror != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runMirror(ctx)
		}()
	}
	if m.opts.MetricsInterval > 0 && m.opts.Metrics.IsEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runMetrics(ctx)
		}()
	}

	m.post(m.manager.Connect)
	m.loop.Run(ctx)

	// the loop has exited, so this goroutine now owns the manager
	m.manager.Disconnect()
	wg.Wait()
	m.logger.Info("monitor stopped")
}

// handleMessage feeds one message through the dispatcher. Drops are logged
// and counted there.
func (m *Monitor) handleMessage(msg transport.Message) {
	_ = m.dispatcher.Dispatch(msg)
}

func (m *Monitor) handleChange(c connection.Change) {
	connected := c.Connected() && m.network
	reason := c.Reason
	if c.Connected() && !m.network {
		reason = NetworkUnavailable
	}
	m.engine.SetConnected(connected, reason)

	fields := []zap.Field{
		zap.String("state", c.State.String()),
		zap.Int("attempt", c.Attempt),
	}
	if c.Err != nil {
		fields = append(fields, zap.Error(c.Err))
	}
	m.logger.Info("connection state changed", fields...)

	if c.State == connection.Backoff {
		go m.recordCount(aws_pkg.MetricReconnectAttempts, 1)
	}
}

// afterStep queues the current snapshot for the mirror when its version moved.
func (m *Monitor) afterStep() {
	if m.opts.Mirror == nil {
		return
	}
	s := m.engine.Snapshot()
	if s.Version == m.mirrored {
		return
	}
	m.mirrored = s.Version
	select {
	case m.mirrorCh <- s:
	default:
		// keep only the newest pending snapshot
		select {
		case <-m.mirrorCh:
		default:
		}
		select {
		case m.mirrorCh <- s:
		default:
		}
	}
}

func (m *Monitor) runMirror(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-m.mirrorCh:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := m.opts.Mirror.SaveSnapshot(wctx, s); err != nil {
				m.logger.Warn("snapshot mirror write failed", zap.Uint64("version", s.Version), zap.Error(err))
			}
			cancel()
		}
	}
}

func (m *Monitor) runMetrics(ctx context.Context) {
	ticker := time.NewTicker(m.opts.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.PushMetrics(ctx); err != nil {
				m.logger.Warn("metrics push failed", zap.Error(err))
			}
		}
	}
}

// PushMetrics sends state gauges and the counter deltas since the last push.
func (m *Monitor) PushMetrics(ctx context.Context) error {
	if !m.opts.Metrics.IsEnabled() {
		return nil
	}
	s := m.engine.Snapshot()
	st := m.dispatcher.Stats()

	m.metricsMu.Lock()
	decoded, dropped, rejected := st.Decoded-m.lastDecoded, st.Dropped-m.lastDropped, s.Stats.Rejected-m.lastReject
	m.lastDecoded, m.lastDropped, m.lastReject = st.Decoded, st.Dropped, s.Stats.Rejected
	m.metricsMu.Unlock()

	dims := m.dimensions()
	connected := 0.0
	if s.Connected {
		connected = 1
	}
	data := []types.MetricDatum{
		aws_pkg.Datum(aws_pkg.MetricMessagesDecoded, float64(decoded), types.StandardUnitCount, dims),
		aws_pkg.Datum(aws_pkg.MetricMessagesDropped, float64(dropped), types.StandardUnitCount, dims),
		aws_pkg.Datum(aws_pkg.MetricEventsRejected, float64(rejected), types.StandardUnitCount, dims),
		aws_pkg.Datum(aws_pkg.MetricConnected, connected, types.StandardUnitNone, dims),
		aws_pkg.Datum(aws_pkg.MetricOrdersTracked, float64(s.Stats.Orders), types.StandardUnitCount, dims),
		aws_pkg.Datum(aws_pkg.MetricPendingCustomer, float64(s.Stats.PendingQueue), types.StandardUnitCount, dims),
		aws_pkg.Datum(aws_pkg.MetricRevenue, float64(s.Stats.Revenue), types.StandardUnitNone, dims),
	}
	return m.opts.Metrics.PutMetricBatch(ctx, data)
}

func (m *Monitor) recordCount(name string, n int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.opts.Metrics.RecordCount(ctx, name, n, m.dimensions()); err != nil {
		m.logger.Debug("metric failed", zap.String("metric", name), zap.Error(err))
	}
}

func (m *Monitor) dimensions() map[string]string {
	return map[string]string{"Service": "order-monitor", "Instance": m.opts.Instance}
}

func (m *Monitor) Snapshot() *engine.Snapshot {
	return m.engine.Snapshot()
}

func (m *Monitor) Health() Health {
	s := m.engine.Snapshot()
	state := m.manager.State()
	status := "OK"
	if !s.Connected {
		status = "DEGRADED"
	}
	return Health{
		Status:     status,
		Service:    "order-monitor",
		Instance:   m.opts.Instance,
		Transport:  m.transport,
		State:      state.String(),
		Connected:  s.Connected,
		Network:    m.networkView.Load(),
		Attempts:   m.manager.Attempts(),
		Dials:      m.manager.Dials(),
		Version:    s.Version,
		LastError:  s.LastError,
		Dispatcher: m.dispatcher.Stats(),
	}
}

// Reconnect drops transient customer state and restarts the connection with
// a fresh retry budget.
func (m *Monitor) Reconnect(ctx context.Context) error {
	return m.command(ctx, "reconnect", func() {
		m.engine.ClearPending()
		m.manager.Reconnect()
	})
}

// ClearOrders empties order state; the connection is left alone.
func (m *Monitor) ClearOrders(ctx context.Context) error {
	return m.command(ctx, "clear_orders", m.engine.ClearOrders)
}

// SetNetworkAvailable feeds the host's network signal. Losing the network
// marks the snapshot disconnected; regaining it connects unless already
// connected.
func (m *Monitor) SetNetworkAvailable(ctx context.Context, available bool) error {
	return m.command(ctx, "network", func() {
		prev := m.network
		m.network = available
		m.networkView.Store(available)
		switch {
		case prev && !available:
			m.engine.SetConnected(false, NetworkUnavailable)
		case !prev && available:
			switch m.manager.State() {
			case connection.Connected:
				m.engine.SetConnected(true, "")
			case connection.Disconnected:
				m.manager.Reconnect()
			default:
				m.manager.Connect()
			}
		}
	})
}

func (m *Monitor) command(ctx context.Context, name string, fn func()) error {
	if err := m.do(ctx, fn); err != nil {
		m.logger.Warn("command not applied", zap.String("command", name), zap.Error(err))
		return apperrors.New(http.StatusServiceUnavailable, "monitor is not running", err)
	}
	m.logger.Info("command applied", zap.String("command", name))
	return nil
}
