package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-monitor/clock"
	"order-monitor/connection"
	"order-monitor/dispatcher"
	"order-monitor/engine"
	apperrors "order-monitor/errors"
	aws_pkg "order-monitor/pkg/aws"
	"order-monitor/services"
	"order-monitor/transport"
)

var t0 = time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)

// --- Fakes ---

type fakeConn struct {
	msgs chan transport.Message
	once sync.Once
	mu   sync.Mutex
	err  error
}

func newFakeConn() *fakeConn { return &fakeConn{msgs: make(chan transport.Message, 16)} }

func (c *fakeConn) Subscribe(string) error              { return nil }
func (c *fakeConn) Messages() <-chan transport.Message { return c.msgs }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.drop(transport.ErrClosed)
	return nil
}

func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.msgs)
	})
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(context.Context) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if len(t.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := t.conns[0]
	t.conns = t.conns[1:]
	return c, nil
}

type fakeMirror struct {
	mu    sync.Mutex
	saved []uint64
}

func (m *fakeMirror) SaveSnapshot(_ context.Context, s *engine.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s.Version)
	return nil
}

func (m *fakeMirror) last() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return 0
	}
	return m.saved[len(m.saved)-1]
}

type fakeCloudWatch struct {
	mu    sync.Mutex
	calls []*cloudwatch.PutMetricDataInput
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// --- Helpers ---

type monitorHarness struct {
	mon    *services.Monitor
	tr     *fakeTransport
	clk    *clock.Fake
	mirror *fakeMirror
	cw     *fakeCloudWatch
	cancel context.CancelFunc
	done   chan struct{}
}

func startMonitor(t *testing.T, conns ...*fakeConn) *monitorHarness {
	t.Helper()
	h := &monitorHarness{
		tr:     &fakeTransport{conns: conns},
		clk:    clock.NewFake(t0),
		mirror: &fakeMirror{},
		cw:     &fakeCloudWatch{},
		done:   make(chan struct{}),
	}
	cfg := engine.DefaultConfig()
	cfg.Location = time.UTC
	h.mon = services.NewMonitor(h.tr, services.MonitorOptions{
		Engine:      cfg,
		Topics:      dispatcher.Topics(dispatcher.DefaultPrefix),
		MaxAttempts: 2,
		Delay:       3 * time.Second,
		Instance:    "test",
		Clock:       h.clk,
		Mirror:      h.mirror,
		Metrics:     aws_pkg.NewMetricsClientWithAPI(h.cw, "", true),
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		h.mon.Run(ctx)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *monitorHarness) stop() {
	h.cancel()
	<-h.done
}

func (h *monitorHarness) eventually(t *testing.T, cond func(*engine.Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.mon.Snapshot()) }, 2*time.Second, 5*time.Millisecond)
}

func send(c *fakeConn, topic, payload string) {
	c.msgs <- transport.Message{Topic: dispatcher.DefaultPrefix + topic, Payload: []byte(payload)}
}

const orderList = `[{"id": 1, "maHoaDon": "HD000001", "tenKhachHang": "Khách lẻ", "tongTienSauGiam": 100000, "trangThai": 0},
	{"id": 2, "maHoaDon": "HD000002", "tenKhachHang": "Khách lẻ", "tongTienSauGiam": 50000, "trangThai": 0}]`

// --- Tests ---

func TestMonitor_MessagesReachEngine(t *testing.T) {
	conn := newFakeConn()
	h := startMonitor(t, conn)
	h.eventually(t, func(s *engine.Snapshot) bool { return s.Connected })

	send(conn, dispatcher.TopicOrderList, orderList)
	send(conn, dispatcher.TopicCustomerUpdate, `{"khachHangId": 5, "ten": "Tran B", "soDienThoai": "0901111111"}`)
	send(conn, dispatcher.TopicOrderList, `not json`)

	h.eventually(t, func(s *engine.Snapshot) bool { return len(s.Customers) == 1 })
	require.Eventually(t, func() bool { return h.mon.Health().Dispatcher.Dropped == 1 }, 2*time.Second, 5*time.Millisecond)
	s := h.mon.Snapshot()
	assert.Len(t, s.Orders, 2)
	m, ok := s.ResolveCustomer(1)
	require.True(t, ok)
	assert.Equal(t, 5, m.Customer.ID)

	health := h.mon.Health()
	assert.Equal(t, "OK", health.Status)
	assert.Equal(t, "connected", health.State)
	assert.Equal(t, "fake", health.Transport)
	assert.Equal(t, int64(2), health.Dispatcher.Decoded)
	assert.Equal(t, int64(1), health.Dispatcher.Dropped)
}

func TestMonitor_DropShowsLostConnection(t *testing.T) {
	conn := newFakeConn()
	h := startMonitor(t, conn)
	h.eventually(t, func(s *engine.Snapshot) bool { return s.Connected })

	conn.drop(errors.New("heartbeat timeout"))
	h.eventually(t, func(s *engine.Snapshot) bool { return !s.Connected })

	s := h.mon.Snapshot()
	assert.Equal(t, connection.LostConnection, s.LastError)
	health := h.mon.Health()
	assert.Equal(t, "DEGRADED", health.Status)
	assert.Equal(t, "backoff", health.State)
	assert.Equal(t, 1, health.Attempts)
}

func TestMonitor_ReconnectClearsPendingAndRedials(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	h := startMonitor(t, first, second)
	h.eventually(t, func(s *engine.Snapshot) bool { return s.Connected })

	send(first, dispatcher.TopicCustomerUpdate, `{"khachHangId": 5, "ten": "Tran B", "soDienThoai": "0901111111"}`)
	h.eventually(t, func(s *engine.Snapshot) bool { return len(s.Pending) == 1 })

	require.NoError(t, h.mon.Reconnect(context.Background()))
	assert.Empty(t, h.mon.Snapshot().Pending)
	h.eventually(t, func(s *engine.Snapshot) bool { return s.Connected })
	assert.Equal(t, int64(2), h.mon.Health().Dials)
}

func TestMonitor_ClearOrdersKeepsConnection(t *testing.T) {
	conn := newFakeConn()
	h := startMonitor(t, conn)
	h.eventually(t, func(s *engine.Snapshot) bool { return s.Connected })
	send(conn, dispatcher.TopicOrderList, orderList)
	h.eventually(t, func(s *engine.Snapshot) bool { return len(s.Orders) == 2 })

	require.NoError(t, h.mon.ClearOrders(context.Background()))

	s := h.mon.Snapshot()
	assert.Empty(t, s.Orders)
	assert.True(t, s.Connected)
}

func TestMonitor_NetworkSignal(t *testing.T) {
	conn := newFakeConn()
	h := startMonitor(t, conn)
	h.eventually(t, func(s *engine.Snapshot) bool { return s.Connected })
	ctx := context.Background()

	require.NoError(t, h.mon.SetNetworkAvailable(ctx, false))
	s := h.mon.Snapshot()
	assert.False(t, s.Connected)
	assert.Equal(t, services.NetworkUnavailable, s.LastError)
	assert.False(t, h.mon.Health().Network)

	require.NoError(t, h.mon.SetNetworkAvailable(ctx, true))
	assert.True(t, h.mon.Snapshot().Connected)
	assert.Equal(t, int64(1), h.mon.Health().Dials)
}

func TestMonitor_NetworkReturnRedialsAfterGivingUp(t *testing.T) {
	conn := newFakeConn()
	h := startMonitor(t, conn)
	h.eventually(t, func(s *engine.Snapshot) bool { return s.Connected })
	ctx := context.Background()

	require.NoError(t, h.mon.SetNetworkAvailable(ctx, false))
	conn.drop(errors.New("eof"))
	for i := 1; i <= 2; i++ {
		require.Eventually(t, func() bool {
			return h.mon.Health().Attempts == i && h.clk.Pending() == 1
		}, 2*time.Second, 5*time.Millisecond)
		h.clk.Advance(3 * time.Second)
	}
	require.Eventually(t, func() bool { return h.mon.Health().State == "disconnected" }, 2*time.Second, 5*time.Millisecond)

	h.tr.mu.Lock()
	h.tr.conns = append(h.tr.conns, newFakeConn())
	h.tr.mu.Unlock()

	require.NoError(t, h.mon.SetNetworkAvailable(ctx, true))
	h.eventually(t, func(s *engine.Snapshot) bool { return s.Connected })
}

func TestMonitor_MirrorsLatestVersion(t *testing.T) {
	conn := newFakeConn()
	h := startMonitor(t, conn)
	send(conn, dispatcher.TopicOrderList, orderList)
	h.eventually(t, func(s *engine.Snapshot) bool { return len(s.Orders) == 2 })

	require.Eventually(t, func() bool {
		return h.mirror.last() == h.mon.Snapshot().Version
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMonitor_PushMetricsSendsDeltas(t *testing.T) {
	conn := newFakeConn()
	h := startMonitor(t, conn)
	send(conn, dispatcher.TopicOrderList, orderList)
	h.eventually(t, func(s *engine.Snapshot) bool { return len(s.Orders) == 2 })
	ctx := context.Background()

	require.NoError(t, h.mon.PushMetrics(ctx))
	require.NoError(t, h.mon.PushMetrics(ctx))

	h.cw.mu.Lock()
	defer h.cw.mu.Unlock()
	require.Len(t, h.cw.calls, 2)
	value := func(call int, name string) float64 {
		for _, d := range h.cw.calls[call].MetricData {
			if *d.MetricName == name {
				return *d.Value
			}
		}
		t.Fatalf("metric %s missing", name)
		return 0
	}
	assert.Equal(t, 1.0, value(0, aws_pkg.MetricMessagesDecoded))
	assert.Equal(t, 0.0, value(1, aws_pkg.MetricMessagesDecoded))
	assert.Equal(t, 2.0, value(1, aws_pkg.MetricOrdersTracked))
}

func TestMonitor_CommandsFailAfterStop(t *testing.T) {
	h := startMonitor(t, newFakeConn())
	h.stop()

	err := h.mon.ClearOrders(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAPI))
	assert.ErrorIs(t, err, services.ErrLoopStopped)
}
