package engine_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-monitor/clock"
	"order-monitor/engine"
	"order-monitor/models"
)

// --- Helpers ---

var t0 = time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*engine.Engine, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	cfg := engine.DefaultConfig()
	cfg.Location = time.UTC
	return engine.New(cfg, zap.NewNop(), engine.WithClock(clk)), clk
}

func guestOrder(id int) models.Order {
	return models.Order{ID: id, CustomerName: models.GuestName, CreatedAt: models.FormatTimestamp(t0)}
}

func tranB() models.Customer {
	return models.Customer{ID: 5, Name: "Tran B", Phone: "0901111111"}
}

func orderIDs(s *engine.Snapshot) []int {
	ids := make([]int, 0, len(s.Orders))
	for _, o := range s.Orders {
		ids = append(ids, o.ID)
	}
	return ids
}

func assertReferentialIntegrity(t *testing.T, s *engine.Snapshot) {
	t.Helper()
	for id := range s.Vouchers {
		_, ok := s.Order(id)
		assert.True(t, ok, "voucher for untracked order %d", id)
	}
	indexed := make(map[int]bool, len(s.Customers))
	for _, c := range s.Customers {
		indexed[c.ID] = true
	}
	for id, l := range s.Links {
		_, ok := s.Order(id)
		assert.True(t, ok, "link for untracked order %d", id)
		assert.True(t, indexed[l.CustomerID], "link %d to evicted customer %d", id, l.CustomerID)
	}
}

// --- Order batches ---

func TestEngine_OrderBatch_BoundedAndSorted(t *testing.T) {
	e, _ := newTestEngine(t)

	var batch []models.Order
	for i := 1; i <= 130; i++ {
		batch = append(batch, guestOrder(i))
	}
	e.ApplyOrderBatch(batch, false)

	s := e.Snapshot()
	require.Len(t, s.Orders, 100)
	assert.Equal(t, 130, s.Orders[0].ID)
	assert.Equal(t, 31, s.Orders[99].ID)
	for i := 1; i < len(s.Orders); i++ {
		assert.Greater(t, s.Orders[i-1].ID, s.Orders[i].ID)
	}
}

func TestEngine_OrderBatch_TruncationPrunesVouchersAndLinks(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{{ID: 1, CustomerID: 9, CustomerName: "Le C"}}, false)
	e.ApplyVoucherEvent(models.Voucher{Action: models.VoucherApplied, OrderID: 1, Code: "V1"})
	require.Contains(t, e.Snapshot().Vouchers, 1)
	require.Contains(t, e.Snapshot().Links, 1)

	var batch []models.Order
	for i := 2; i <= 101; i++ {
		batch = append(batch, guestOrder(i))
	}
	e.ApplyOrderBatch(batch, false)

	s := e.Snapshot()
	assert.Len(t, s.Orders, 100)
	assert.NotContains(t, s.Vouchers, 1)
	assert.NotContains(t, s.Links, 1)
	assertReferentialIntegrity(t, s)
}

func TestEngine_OrderBatch_ReplaceSwapsTable(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{guestOrder(1), guestOrder(2)}, false)
	e.ApplyVoucherEvent(models.Voucher{Action: models.VoucherApplied, OrderID: 2, Code: "V"})

	e.ApplyOrderBatch([]models.Order{guestOrder(3)}, true)

	s := e.Snapshot()
	assert.Equal(t, []int{3}, orderIDs(s))
	assert.Empty(t, s.Vouchers)
}

func TestEngine_OrderBatch_DropsNonPositiveIDs(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{{ID: 0}, {ID: -4}, guestOrder(7)}, false)
	assert.Equal(t, []int{7}, orderIDs(e.Snapshot()))

	before := e.Snapshot().Stats.Rejected
	e.ApplyOrderBatch([]models.Order{{ID: -1}}, false)
	assert.Equal(t, before+1, e.Snapshot().Stats.Rejected)
	assert.Equal(t, []int{7}, orderIDs(e.Snapshot()))
}

func TestEngine_OrderBatch_ClampsGrandTotal(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{{ID: 3, GrandTotal: -10}}, false)
	o, ok := e.Snapshot().Order(3)
	require.True(t, ok)
	assert.Equal(t, int64(0), o.GrandTotal)
	assert.Equal(t, "HD000003", o.Code)
}

func TestEngine_OrderBatch_Idempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyCustomerEvent(tranB())
	batch := []models.Order{
		guestOrder(100),
		{ID: 101, CustomerID: 8, CustomerName: "Pham D", CustomerPhone: "0902222222"},
		{ID: 102, CustomerName: models.GuestName, CustomerPhone: "0903333333"},
	}
	e.ApplyVoucherEvent(models.Voucher{Action: models.VoucherApplied, OrderID: 100})

	e.ApplyOrderBatch(batch, false)
	first := e.Snapshot()
	e.ApplyOrderBatch(batch, false)
	second := e.Snapshot()

	assert.Equal(t, first.Links, second.Links)
	assert.Equal(t, first.Vouchers, second.Vouchers)
	require.Equal(t, len(first.Orders), len(second.Orders))
	for i := range first.Orders {
		assert.Equal(t, first.Orders[i].Order, second.Orders[i].Order)
	}
}

// --- Customer resolution during batches ---

func TestEngine_TrustedRecordIdentity(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{{ID: 10, CustomerID: 8, CustomerName: "Pham D", CustomerPhone: "0902222222"}}, false)

	s := e.Snapshot()
	assert.Equal(t, models.Link{OrderID: 10, CustomerID: 8, Source: models.LinkExplicit}, s.Links[10])
	require.Len(t, s.Pending, 1)
	assert.Equal(t, 8, s.Pending[0].ID)

	m, ok := s.ResolveCustomer(10)
	require.True(t, ok)
	assert.Equal(t, "Pham D", m.Customer.Name)
	assert.Equal(t, "link", m.Strategy)
}

func TestEngine_PendingMatchedByPhone(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyCustomerEvent(tranB())
	e.ApplyOrderBatch([]models.Order{{ID: 11, CustomerName: models.GuestName, CustomerPhone: "0901111111"}}, false)

	o, ok := e.Snapshot().Order(11)
	require.True(t, ok)
	assert.Equal(t, "Tran B", o.CustomerName)
	assert.Equal(t, models.LinkInferred, e.Snapshot().Links[11].Source)
}

func TestEngine_PreservesStoredCustomerWhenNothingPending(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{{ID: 12, CustomerID: 8, CustomerName: "Pham D"}}, false)
	e.ApplyPaymentSuccess(999) // clears pending, order 12 untouched

	e.ApplyOrderBatch([]models.Order{guestOrder(12)}, false)
	o, _ := e.Snapshot().Order(12)
	assert.Equal(t, "Pham D", o.CustomerName)
	assert.Equal(t, 8, o.CustomerID)
}

func TestEngine_PreservesStoredCustomerForPartialRecords(t *testing.T) {
	tests := []struct {
		name string
		rec  models.Order
	}{
		{"id with placeholder name", models.Order{ID: 13, CustomerID: 9, CustomerName: models.GuestName}},
		{"unknown phone", models.Order{ID: 13, CustomerName: models.GuestName, CustomerPhone: "0907777777"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			e.ApplyOrderBatch([]models.Order{{ID: 13, CustomerID: 9, CustomerName: "Le E"}}, false)
			e.ApplyPaymentSuccess(999)

			e.ApplyOrderBatch([]models.Order{tt.rec}, false)

			s := e.Snapshot()
			o, ok := s.Order(13)
			require.True(t, ok)
			assert.Equal(t, 9, o.CustomerID)
			assert.Equal(t, "Le E", o.CustomerName)
			assert.Equal(t, models.Link{OrderID: 13, CustomerID: 9, Source: models.LinkExplicit}, s.Links[13])
		})
	}
}

func TestEngine_PartialRecordWithoutHistoryIsGuest(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{
		{ID: 14, CustomerID: 9, CustomerName: models.GuestName},
		{ID: 15, CustomerName: models.GuestName, CustomerPhone: "0907777777"},
	}, false)

	s := e.Snapshot()
	o, _ := s.Order(14)
	assert.Zero(t, o.CustomerID)
	assert.Equal(t, models.GuestName, o.CustomerName)
	o, _ = s.Order(15)
	assert.Zero(t, o.CustomerID)
	assert.Equal(t, "0907777777", o.CustomerPhone)
	assert.Empty(t, s.Links)
}

func TestEngine_CustomerTruncationPrunesLinks(t *testing.T) {
	e, _ := newTestEngine(t)
	var batch []models.Order
	for i := 1; i <= 70; i++ {
		batch = append(batch, models.Order{
			ID:            i,
			CustomerID:    1000 + i,
			CustomerName:  fmt.Sprintf("Khach %d", i),
			CustomerPhone: fmt.Sprintf("09%08d", i),
			CustomerEmail: fmt.Sprintf("k%d@example.com", i),
		})
	}
	e.ApplyOrderBatch(batch, false)

	s := e.Snapshot()
	require.Len(t, s.Orders, 70)
	assert.Len(t, s.Customers, 50)
	assert.Len(t, s.Links, 50)
	assertReferentialIntegrity(t, s)
}

// --- Customer events ---

func TestEngine_CustomerThenGuestOrderResolvesToCustomer(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyCustomerEvent(tranB())
	e.ApplyOrderBatch([]models.Order{{ID: 100, CustomerName: models.GuestName}}, false)

	m, ok := e.Snapshot().ResolveCustomer(100)
	require.True(t, ok)
	assert.Equal(t, 5, m.Customer.ID)

	live, ok := e.ResolveCustomerForOrder(models.Order{ID: 100, CustomerName: models.GuestName})
	require.True(t, ok)
	assert.Equal(t, 5, live.Customer.ID)
}

func TestEngine_GuestOrderWithoutCustomersResolvesToNone(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{{ID: 200, CustomerName: models.GuestName}}, false)

	_, ok := e.Snapshot().ResolveCustomer(200)
	assert.False(t, ok)
	o, _ := e.Snapshot().Order(200)
	assert.Equal(t, models.GuestName, o.CustomerName)
}

func TestEngine_CustomerEventBindsEveryOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{guestOrder(1), guestOrder(2)}, false)
	e.ApplyCustomerEvent(tranB())

	s := e.Snapshot()
	for _, o := range s.Orders {
		assert.Equal(t, "Tran B", o.CustomerName)
		assert.Equal(t, models.LinkSession, s.Links[o.ID].Source)
	}
	require.NotNil(t, s.Session.Customer)
	assert.Equal(t, 5, s.Session.Customer.ID)
}

func TestEngine_ResetSignalClearsSession(t *testing.T) {
	for _, reset := range []models.Customer{
		{ID: 0, Name: "anything"},
		{ID: -1},
		{ID: 12, Name: "khách vãng lai"},
	} {
		t.Run(fmt.Sprintf("%d/%s", reset.ID, reset.Name), func(t *testing.T) {
			e, _ := newTestEngine(t)
			e.ApplyCustomerEvent(tranB())
			e.ApplyOrderBatch([]models.Order{guestOrder(1), guestOrder(2)}, false)
			sessionID := e.Snapshot().Session.ID

			e.ApplyCustomerEvent(reset)

			s := e.Snapshot()
			for _, o := range s.Orders {
				assert.Equal(t, models.GuestName, o.CustomerName)
				assert.Zero(t, o.CustomerID)
				assert.Empty(t, o.CustomerPhone)
			}
			assert.Empty(t, s.Links)
			assert.Empty(t, s.Pending)
			assert.Nil(t, s.Session.Customer)
			assert.NotEqual(t, sessionID, s.Session.ID)
		})
	}
}

func TestEngine_InvalidCustomerIgnored(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{guestOrder(1)}, false)
	before := e.Snapshot()

	e.ApplyCustomerEvent(models.Customer{ID: 4}) // no name, no phone

	after := e.Snapshot()
	assert.Equal(t, before.Orders[0].Order, after.Orders[0].Order)
	assert.Empty(t, after.Customers)
	assert.Equal(t, before.Stats.Rejected+1, after.Stats.Rejected)
}

func TestEngine_CustomerIndexTruncation(t *testing.T) {
	e, clk := newTestEngine(t)
	// three keys per customer; 67 customers exceed the 200-key cap
	for i := 1; i <= 67; i++ {
		clk.Advance(time.Second)
		e.ApplyCustomerEvent(models.Customer{
			ID:    i,
			Name:  fmt.Sprintf("Customer %d", i),
			Phone: fmt.Sprintf("09%08d", i),
			Email: fmt.Sprintf("c%d@example.com", i),
		})
	}
	s := e.Snapshot()
	assert.Len(t, s.Customers, 50)
	assert.Equal(t, 67, s.Customers[0].ID)
	assert.Equal(t, 18, s.Customers[49].ID)
	assert.LessOrEqual(t, len(s.Pending), 5)
}

// --- Vouchers ---

func TestEngine_VoucherAppliedThenRemoved(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{guestOrder(100)}, false)
	e.ApplyVoucherEvent(models.Voucher{Action: models.VoucherApplied, OrderID: 100, Code: "SALE", Active: true})

	v, ok := e.Snapshot().Voucher(100)
	require.True(t, ok)
	assert.Equal(t, "SALE", v.Code)
	assert.Equal(t, 1, e.Snapshot().Stats.ActiveVouchers)

	e.ApplyVoucherEvent(models.Voucher{Action: models.VoucherRemoved, OrderID: 100})
	_, ok = e.Snapshot().Voucher(100)
	assert.False(t, ok)
	o, _ := e.Snapshot().Order(100)
	assert.Nil(t, o.Voucher)
}

func TestEngine_VoucherForUnknownOrderPruned(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyVoucherEvent(models.Voucher{Action: models.VoucherApplied, OrderID: 55})
	assert.Empty(t, e.Snapshot().Vouchers)
}

func TestEngine_VoucherUnknownActionIgnored(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{guestOrder(1)}, false)
	e.ApplyVoucherEvent(models.Voucher{Action: "expired", OrderID: 1})
	assert.Empty(t, e.Snapshot().Vouchers)
}

func TestEngine_CartUpdatedAppliesOrderAndVoucher(t *testing.T) {
	e, _ := newTestEngine(t)
	v := models.Voucher{Action: models.VoucherApplied, Code: "CART5", Active: true}
	e.Apply(models.CartUpdatedEvent{
		Order:   models.Order{ID: 300, CustomerName: models.GuestName, GrandTotal: 100},
		Voucher: &v,
	})

	s := e.Snapshot()
	_, ok := s.Order(300)
	require.True(t, ok)
	got, ok := s.Voucher(300)
	require.True(t, ok)
	assert.Equal(t, "CART5", got.Code)
	assert.Equal(t, 300, got.OrderID)
}

// --- Payment and cancellation ---

func TestEngine_PaymentSuccessRemovesOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyCustomerEvent(tranB())
	e.ApplyOrderBatch([]models.Order{guestOrder(100), guestOrder(101)}, false)
	e.ApplyVoucherEvent(models.Voucher{Action: models.VoucherApplied, OrderID: 100})

	e.ApplyPaymentSuccess(100)

	s := e.Snapshot()
	_, ok := s.Order(100)
	assert.False(t, ok)
	assert.NotContains(t, s.Vouchers, 100)
	assert.NotContains(t, s.Links, 100)
	_, ok = s.ResolveCustomer(100)
	assert.False(t, ok)
	assert.Empty(t, s.Pending)
	assert.Nil(t, s.Session.Customer)
	_, ok = s.Order(101)
	assert.True(t, ok)
}

func TestEngine_OrderCancelledDropsLinkedPending(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{
		{ID: 1, CustomerID: 8, CustomerName: "Pham D"},
		{ID: 2, CustomerID: 9, CustomerName: "Vo E"},
	}, false)
	e.ApplyVoucherEvent(models.Voucher{Action: models.VoucherApplied, OrderID: 1})
	require.Len(t, e.Snapshot().Pending, 2)

	e.ApplyOrderCancelled(1)

	s := e.Snapshot()
	assert.Equal(t, []int{2}, orderIDs(s))
	assert.Empty(t, s.Vouchers)
	require.Len(t, s.Pending, 1)
	assert.Equal(t, 9, s.Pending[0].ID)
}

// --- Commands and snapshot ---

func TestEngine_ClearOrders(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetConnected(true, "")
	e.ApplyOrderBatch([]models.Order{guestOrder(1)}, false)
	e.ClearOrders()

	s := e.Snapshot()
	assert.Empty(t, s.Orders)
	assert.Empty(t, s.Vouchers)
	assert.True(t, s.Connected)
}

func TestEngine_SetConnectedTracksLastError(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetConnected(false, "lost connection to server")
	assert.Equal(t, "lost connection to server", e.Snapshot().LastError)
	e.SetConnected(true, "")
	assert.Empty(t, e.Snapshot().LastError)
	assert.True(t, e.Snapshot().Connected)
}

func TestEngine_SnapshotIsImmutable(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{{ID: 1, Items: []models.LineItem{{ProductName: "A"}}}}, false)
	old := e.Snapshot()

	e.ApplyOrderBatch([]models.Order{{ID: 1, Items: []models.LineItem{{ProductName: "B"}}}}, false)
	e.ApplyOrderBatch([]models.Order{guestOrder(2)}, false)

	assert.Equal(t, "A", old.Orders[0].Items[0].ProductName)
	assert.Len(t, old.Orders, 1)
	assert.Greater(t, e.Snapshot().Version, old.Version)
}

func TestEngine_Stats(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ApplyOrderBatch([]models.Order{
		{ID: 1, Status: models.StatusCompleted, GrandTotal: 500, Discount: 50},
		{ID: 2, Status: models.StatusCompleted, GrandTotal: 300},
		{ID: 3, Status: models.StatusPending},
		{ID: 4, Status: models.StatusCancelled, Discount: 10},
	}, false)

	st := e.Snapshot().Stats
	assert.Equal(t, 4, st.Orders)
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Cancelled)
	assert.Equal(t, int64(800), st.Revenue)
	assert.Equal(t, int64(60), st.TotalDiscount)
}

type bogusEvent struct{}

func (bogusEvent) Type() models.EventType { return "bogus" }

func TestEngine_UnsupportedEventIsRejectedNotFatal(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.NotPanics(t, func() { e.Apply(bogusEvent{}) })
	assert.Equal(t, int64(1), e.Snapshot().Stats.Rejected)
}

func TestEngine_PanickingStrategyIsContained(t *testing.T) {
	clk := clock.NewFake(t0)
	m := engine.NewMatcher(engine.Strategy{Name: "boom", Match: func(models.Order, *engine.Candidates) (int, bool) {
		panic("boom")
	}})
	e := engine.New(engine.DefaultConfig(), zap.NewNop(), engine.WithClock(clk), engine.WithMatcher(m))

	assert.NotPanics(t, func() { e.ApplyOrderBatch([]models.Order{guestOrder(1)}, false) })
}
