package engine

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"order-monitor/clock"
	apperrors "order-monitor/errors"
	"order-monitor/models"
)

// Config bounds engine state and tunes customer matching.
type Config struct {
	MaxOrders          int
	MaxCustomerKeys    int
	CustomerKeep       int
	PendingCapacity    int
	TemporalWindow     time.Duration
	RecentCustomerScan int
	FuzzyThreshold     float64
	Location           *time.Location
}

// DefaultConfig returns the limits and matching thresholds used in production.
func DefaultConfig() Config {
	return Config{
		MaxOrders:          100,
		MaxCustomerKeys:    200,
		CustomerKeep:       50,
		PendingCapacity:    5,
		TemporalWindow:     5 * time.Minute,
		RecentCustomerScan: 3,
		FuzzyThreshold:     0.7,
		Location:           time.Local,
	}
}

// Engine owns all order, customer, voucher and link state. Its Apply* methods
// must only be called from a single goroutine; Snapshot is safe anywhere.
type Engine struct {
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
	matcher *Matcher

	orders    map[int]models.Order
	customers *customerIndex
	links     map[int]models.Link
	vouchers  map[int]models.Voucher
	pending   *pendingQueue
	session   Session

	connected bool
	lastError string
	applied   int64
	rejected  int64
	version   uint64

	snap atomic.Pointer[Snapshot]
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMatcher replaces the default strategy list.
func WithMatcher(m *Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithClock sets the time source for arrival times and session windows.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New builds an empty engine; zero Config fields take DefaultConfig values.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.MaxOrders <= 0 {
		cfg.MaxOrders = def.MaxOrders
	}
	if cfg.MaxCustomerKeys <= 0 {
		cfg.MaxCustomerKeys = def.MaxCustomerKeys
	}
	if cfg.CustomerKeep <= 0 {
		cfg.CustomerKeep = def.CustomerKeep
	}
	if cfg.PendingCapacity <= 0 {
		cfg.PendingCapacity = def.PendingCapacity
	}
	if cfg.TemporalWindow <= 0 {
		cfg.TemporalWindow = def.TemporalWindow
	}
	if cfg.RecentCustomerScan <= 0 {
		cfg.RecentCustomerScan = def.RecentCustomerScan
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = def.FuzzyThreshold
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:       cfg,
		clock:     clock.Real{},
		logger:    logger,
		orders:    make(map[int]models.Order),
		customers: newCustomerIndex(),
		links:     make(map[int]models.Link),
		vouchers:  make(map[int]models.Voucher),
		pending:   newPendingQueue(cfg.PendingCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.matcher == nil {
		e.matcher = NewMatcher(DefaultStrategies(cfg.TemporalWindow, cfg.RecentCustomerScan, cfg.FuzzyThreshold)...)
	}
	e.session = newSession(e.clock.Now())
	e.snap.Store(emptySnapshot(e.clock.Now()))
	return e
}

// Snapshot returns the most recently published immutable state.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Apply routes a decoded event to its operation. It never panics and always
// republishes the snapshot.
func (e *Engine) Apply(ev models.Event) {
	e.mutate(string(ev.Type()), func() error {
		switch ev := ev.(type) {
		case models.OrderBatchEvent:
			return e.applyOrderBatch(ev.Records, ev.Replace)
		case models.CartUpdatedEvent:
			return e.applyCartUpdated(ev)
		case models.CustomerEvent:
			return e.applyCustomerEvent(ev)
		case models.VoucherEvent:
			return e.applyVoucherEvent(ev.Voucher)
		case models.PaymentSuccessEvent:
			return e.applyPaymentSuccess(ev.OrderID)
		case models.OrderCancelledEvent:
			return e.applyOrderCancelled(ev.OrderID)
		}
		return apperrors.Data(fmt.Sprintf("unsupported event %T", ev))
	})
}

// ApplyOrderBatch upserts records, or swaps the whole table when replace is set.
func (e *Engine) ApplyOrderBatch(records []models.Order, replace bool) {
	e.Apply(models.OrderBatchEvent{Records: records, Replace: replace})
}

// ApplyCustomerEvent binds an identity to the session, or resets it for the guest sentinel.
func (e *Engine) ApplyCustomerEvent(c models.Customer) {
	e.Apply(models.CustomerEvent{Customer: c})
}

// ApplyVoucherEvent records or removes the voucher of one order.
func (e *Engine) ApplyVoucherEvent(v models.Voucher) {
	e.Apply(models.VoucherEvent{Voucher: v})
}

// ApplyPaymentSuccess forgets a paid order and ends the session.
func (e *Engine) ApplyPaymentSuccess(orderID int) {
	e.Apply(models.PaymentSuccessEvent{OrderID: orderID})
}

// ApplyOrderCancelled forgets a cancelled order and its pending customer.
func (e *Engine) ApplyOrderCancelled(orderID int) {
	e.Apply(models.OrderCancelledEvent{OrderID: orderID})
}

// ClearOrders empties orders, vouchers and links. Connection state is untouched.
func (e *Engine) ClearOrders() {
	e.mutate("clear_orders", func() error {
		e.orders = make(map[int]models.Order)
		e.vouchers = make(map[int]models.Voucher)
		e.links = make(map[int]models.Link)
		return nil
	})
}

// ClearPending drops transient customer state ahead of a manual reconnect.
func (e *Engine) ClearPending() {
	e.mutate("clear_pending", func() error {
		e.pending.clear()
		return nil
	})
}

// SetConnected records the connection state shown in the snapshot.
func (e *Engine) SetConnected(connected bool, reason string) {
	e.mutate("connection", func() error {
		e.connected = connected
		if connected {
			e.lastError = ""
		} else if reason != "" {
			e.lastError = reason
		}
		return nil
	})
}

// ResolveCustomerForOrder runs the matcher against live state.
func (e *Engine) ResolveCustomerForOrder(o models.Order) (Match, bool) {
	return e.resolve(o, e.candidates(e.clock.Now()))
}

func (e *Engine) resolve(o models.Order, c *Candidates) (m Match, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("customer matcher panicked", zap.Int("order_id", o.ID), zap.Any("panic", r))
			m, ok = Match{}, false
		}
	}()
	return e.matcher.Resolve(o, c)
}

func (e *Engine) mutate(op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.rejected++
			e.logger.Error("engine operation panicked", zap.String("op", op), zap.Any("panic", r))
		}
		e.publish()
	}()

	if err := fn(); err != nil {
		e.rejected++
		e.logger.Warn("event rejected", zap.String("op", op), zap.Error(err))
		return
	}
	e.applied++
}

func (e *Engine) applyOrderBatch(records []models.Order, replace bool) error {
	valid := make([]models.Order, 0, len(records))
	for _, rec := range records {
		if rec.ID <= 0 {
			e.logger.Debug("dropping order record", zap.Error(apperrors.ErrInvalidOrderID), zap.Int("order_id", rec.ID))
			continue
		}
		rec = rec.Clone()
		rec.Normalize()
		valid = append(valid, rec)
	}
	if len(valid) == 0 && len(records) > 0 {
		return apperrors.ErrInvalidOrderID
	}

	// Trusted identities are enqueued before anything else in the batch is
	// resolved, so replaying the same batch resolves the same way.
	for _, rec := range valid {
		if trustedIdentity(rec) {
			e.adoptTrusted(rec)
		}
	}

	next := e.orders
	if replace {
		next = make(map[int]models.Order, len(valid))
	}
	for _, rec := range valid {
		if !trustedIdentity(rec) {
			prev, hadPrev := e.orders[rec.ID]
			e.resolveRecordCustomer(&rec, prev, hadPrev)
		}
		next[rec.ID] = rec
	}

	e.orders = next
	e.truncateOrders()
	e.customers.truncate(e.cfg.MaxCustomerKeys, e.cfg.CustomerKeep)
	e.prune()
	return nil
}

// trustedIdentity reports whether a record names its customer outright.
func trustedIdentity(rec models.Order) bool {
	return rec.CustomerID > 0 && !models.IsPlaceholderName(rec.CustomerName)
}

func (e *Engine) adoptTrusted(rec models.Order) {
	c := models.Customer{ID: rec.CustomerID, Name: rec.CustomerName, Phone: rec.CustomerPhone, Email: rec.CustomerEmail}
	e.links[rec.ID] = models.Link{OrderID: rec.ID, CustomerID: c.ID, Source: models.LinkExplicit}
	e.customers.put(c, e.clock.Now())
	e.pending.push(c)
}

// resolveRecordCustomer fills the customer fields of a record that does not
// name its customer: a pending customer by id, by phone, or (for records with
// no customer info at all) the latest one; then what was stored for this
// order before, link included; then the guest placeholder.
func (e *Engine) resolveRecordCustomer(rec *models.Order, prev models.Order, hadPrev bool) {
	if rec.CustomerID > 0 {
		if c, ok := e.pending.byID(rec.CustomerID); ok {
			rec.SetCustomer(c)
			e.links[rec.ID] = models.Link{OrderID: rec.ID, CustomerID: c.ID, Source: models.LinkExplicit}
			return
		}
	}
	if rec.CustomerPhone != "" {
		if c, ok := e.pending.byPhone(rec.CustomerPhone); ok {
			rec.SetCustomer(c)
			e.links[rec.ID] = models.Link{OrderID: rec.ID, CustomerID: c.ID, Source: models.LinkInferred}
			return
		}
	}
	if !rec.HasCustomerInfo() {
		if c, ok := e.pending.latest(); ok {
			rec.SetCustomer(c)
			e.links[rec.ID] = models.Link{OrderID: rec.ID, CustomerID: c.ID, Source: models.LinkInferred}
			return
		}
	}
	if hadPrev {
		rec.CustomerID = prev.CustomerID
		rec.CustomerName = prev.CustomerName
		rec.CustomerPhone = prev.CustomerPhone
		rec.CustomerEmail = prev.CustomerEmail
		return
	}

	// guest: contact details the record carries stay for lookups, a
	// customer id without a usable name does not
	delete(e.links, rec.ID)
	if !rec.HasCustomerInfo() {
		rec.ClearCustomer()
		return
	}
	rec.CustomerID = 0
	rec.CustomerName = models.GuestName
}

func (e *Engine) applyCartUpdated(ev models.CartUpdatedEvent) error {
	if err := e.applyOrderBatch([]models.Order{ev.Order}, false); err != nil {
		return err
	}
	if ev.Voucher != nil {
		v := *ev.Voucher
		v.OrderID = ev.Order.ID
		return e.applyVoucherEvent(v)
	}
	return nil
}

func (e *Engine) applyCustomerEvent(ev models.CustomerEvent) error {
	now := e.clock.Now()
	if ev.IsReset() {
		e.resetSession(now)
		e.logger.Info("customer session reset", zap.Int("customer_id", ev.Customer.ID), zap.String("action", ev.Action))
		return nil
	}
	c := ev.Customer
	if !c.ValidForDisplay() {
		return apperrors.ErrInvalidCustomer
	}

	e.customers.put(c, now)
	for id, o := range e.orders {
		o.SetCustomer(c)
		e.orders[id] = o
		e.links[id] = models.Link{OrderID: id, CustomerID: c.ID, Source: models.LinkSession}
	}
	e.session.bind(c, now)
	e.pending.push(c)

	if evicted := e.customers.truncate(e.cfg.MaxCustomerKeys, e.cfg.CustomerKeep); len(evicted) > 0 {
		e.logger.Debug("customer index truncated", zap.Ints("evicted", evicted))
		e.prune()
	}
	return nil
}

func (e *Engine) resetSession(now time.Time) {
	for id, o := range e.orders {
		o.ClearCustomer()
		e.orders[id] = o
	}
	e.links = make(map[int]models.Link)
	e.pending.clear()
	e.session = newSession(now)
}

func (e *Engine) applyVoucherEvent(v models.Voucher) error {
	if v.OrderID <= 0 {
		return apperrors.ErrInvalidOrderID
	}
	switch v.Action {
	case models.VoucherApplied:
		e.vouchers[v.OrderID] = v
	case models.VoucherRemoved:
		delete(e.vouchers, v.OrderID)
	default:
		return apperrors.ErrUnknownAction
	}
	e.prune()
	return nil
}

func (e *Engine) applyPaymentSuccess(orderID int) error {
	if orderID <= 0 {
		return apperrors.ErrInvalidOrderID
	}
	delete(e.orders, orderID)
	delete(e.vouchers, orderID)
	delete(e.links, orderID)
	e.pending.clear()
	e.session = newSession(e.clock.Now())
	return nil
}

func (e *Engine) applyOrderCancelled(orderID int) error {
	if orderID <= 0 {
		return apperrors.ErrInvalidOrderID
	}
	customerID := 0
	if l, ok := e.links[orderID]; ok {
		customerID = l.CustomerID
	} else if o, ok := e.orders[orderID]; ok {
		customerID = o.CustomerID
	}
	delete(e.orders, orderID)
	delete(e.vouchers, orderID)
	delete(e.links, orderID)
	if customerID > 0 {
		e.pending.removeID(customerID)
	}
	return nil
}

// truncateOrders keeps the MaxOrders highest ids.
func (e *Engine) truncateOrders() {
	if len(e.orders) <= e.cfg.MaxOrders {
		return
	}
	ids := e.sortedIDs()
	for _, id := range ids[e.cfg.MaxOrders:] {
		delete(e.orders, id)
	}
}

// prune drops vouchers for orders no longer tracked, links whose order or
// customer is gone, and pending
// customers that are neither indexed nor linked to a live order.
func (e *Engine) prune() {
	for id := range e.vouchers {
		if _, ok := e.orders[id]; !ok {
			delete(e.vouchers, id)
		}
	}
	linked := make(map[int]bool, len(e.links))
	for id, l := range e.links {
		if _, ok := e.orders[id]; !ok || !e.customers.has(l.CustomerID) {
			delete(e.links, id)
			continue
		}
		linked[l.CustomerID] = true
	}
	e.pending.retain(func(c models.Customer) bool {
		return e.customers.has(c.ID) || linked[c.ID]
	})
}

func (e *Engine) sortedIDs() []int {
	ids := make([]int, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	return ids
}

func (e *Engine) candidates(now time.Time) *Candidates {
	return &Candidates{
		Links:    e.links,
		Recent:   e.customers.recent(),
		Now:      now,
		Location: e.cfg.Location,
		byKey:    e.customers.lookup,
	}
}

func (e *Engine) publish() {
	now := e.clock.Now()
	e.version++

	cand := e.candidates(now)
	ids := e.sortedIDs()
	s := &Snapshot{
		Version:     e.version,
		Orders:      make([]OrderView, 0, len(ids)),
		Links:       make(map[int]models.Link, len(e.links)),
		Vouchers:    make(map[int]models.Voucher, len(e.vouchers)),
		Customers:   make([]models.Customer, 0, len(cand.Recent)),
		Pending:     e.pending.list(),
		Session:     e.session,
		Connected:   e.connected,
		LastError:   e.lastError,
		LastUpdated: now,
		byID:        make(map[int]int, len(ids)),
	}
	if e.session.Customer != nil {
		c := *e.session.Customer
		s.Session.Customer = &c
	}
	for id, l := range e.links {
		s.Links[id] = l
	}
	for id, v := range e.vouchers {
		s.Vouchers[id] = v
	}
	for _, c := range cand.Recent {
		s.Customers = append(s.Customers, c.Customer)
	}

	st := Stats{
		Orders:          len(ids),
		UniqueCustomers: len(cand.Recent),
		PendingQueue:    e.pending.size(),
		Applied:         e.applied,
		Rejected:        e.rejected,
	}
	for _, id := range ids {
		o := e.orders[id]
		view := OrderView{Order: o.Clone()}
		if m, ok := e.resolve(o, cand); ok {
			view.Customer = &m
		}
		if v, ok := e.vouchers[id]; ok {
			view.Voucher = &v
			if v.Active {
				st.ActiveVouchers++
			}
		}
		switch o.Status {
		case models.StatusCompleted:
			st.Completed++
			st.Revenue += o.GrandTotal
		case models.StatusPending:
			st.Pending++
		case models.StatusCancelled:
			st.Cancelled++
		}
		st.TotalDiscount += o.Discount
		s.byID[id] = len(s.Orders)
		s.Orders = append(s.Orders, view)
	}
	s.Stats = st
	e.snap.Store(s)
}
