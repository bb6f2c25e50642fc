// Package dispatcher turns raw (topic, payload) pairs into typed engine
// events. Every topic has one rule: try the structured shape, then the legacy
// shape, else drop the message.
package dispatcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"order-monitor/clock"
	apperrors "order-monitor/errors"
	"order-monitor/logger"
	"order-monitor/models"
	"order-monitor/transport"
)

// EventSink receives exactly one event per decoded message.
type EventSink interface {
	Apply(ev models.Event)
}

// Shape records which payload shape produced an event.
type Shape string

const (
	ShapeStructured Shape = "structured"
	ShapeLegacy     Shape = "legacy"
)

// decodeFunc returns nil, nil when the payload parsed but carried nothing
// usable for the topic.
type decodeFunc func(d *Dispatcher, payload []byte) (models.Event, error)

type rule struct {
	structured decodeFunc
	legacy     decodeFunc
}

var rules = map[string]rule{
	TopicOrderList:       {decodeOrderList, decodeLegacyOrderList},
	TopicOrderCreated:    {decodeOrder, decodeLegacyOrder},
	TopicOrderUpdated:    {decodeOrder, decodeLegacyOrder},
	TopicOrderDetail:     {decodeOrder, decodeLegacyOrder},
	TopicCartUpdate:      {decodeCart, decodeLegacyCart},
	TopicPaymentSuccess:  {decodePayment, decodeLegacyPayment},
	TopicOrderCancelled:  {decodeCancelled, decodeLegacyCancelled},
	TopicCustomerUpdate:  {decodeCustomer, decodeLegacyCustomer},
	TopicVoucherOrderUpd: {decodeVoucher, decodeLegacyVoucher},
}

// TopicStats counts outcomes for one topic.
type TopicStats struct {
	Structured int64 `json:"structured"`
	Legacy     int64 `json:"legacy"`
	Dropped    int64 `json:"dropped"`
}

// Decoded is the number of messages forwarded to the sink.
func (s TopicStats) Decoded() int64 { return s.Structured + s.Legacy }

// Stats is a point-in-time copy of the dispatcher counters keyed by bare topic.
type Stats struct {
	Topics  map[string]TopicStats `json:"topics"`
	Decoded int64                 `json:"decoded"`
	Dropped int64                 `json:"dropped"`
}

// Dispatcher decodes messages and forwards them to an EventSink. Dispatch is
// meant to run on the single dispatch goroutine; Stats may be read anywhere.
type Dispatcher struct {
	sink   EventSink
	clock  clock.Clock
	loc    *time.Location
	logger *zap.Logger

	mu    sync.Mutex
	stats map[string]*TopicStats
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLocation sets the zone used to stamp cart-derived orders.
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) { d.loc = loc }
}

func New(sink EventSink, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		sink:   sink,
		clock:  clock.Real{},
		loc:    time.Local,
		logger: logger,
		stats:  make(map[string]*TopicStats),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch decodes msg and forwards the resulting event. A non-nil error
// means the message was dropped; it never affects later messages.
func (d *Dispatcher) Dispatch(msg transport.Message) error {
	topic := bareTopic(msg.Topic)
	ev, shape, err := d.Decode(topic, msg.Payload)
	if err != nil {
		d.count(topic, "")
		d.logger.Warn("dropping message",
			zap.String("topic", msg.Topic),
			zap.Error(err),
			logger.Payload(msg.Payload),
		)
		return err
	}

	d.count(topic, shape)
	d.logger.Debug("message decoded",
		zap.String("topic", topic),
		zap.String("shape", string(shape)),
		zap.String("event", string(ev.Type())),
	)
	if d.sink != nil {
		d.sink.Apply(ev)
	}
	return nil
}

// Decode runs the topic's rule without forwarding or counting.
func (d *Dispatcher) Decode(topic string, payload []byte) (models.Event, Shape, error) {
	topic = bareTopic(topic)
	r, ok := rules[topic]
	if !ok {
		return nil, "", apperrors.Decode(topic, apperrors.ErrUnknownTopic)
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, "", apperrors.Decode(topic, fmt.Errorf("empty payload"))
	}

	ev, structuredErr := r.structured(d, payload)
	if structuredErr == nil && ev != nil {
		return ev, ShapeStructured, nil
	}
	ev, legacyErr := r.legacy(d, payload)
	if legacyErr == nil && ev != nil {
		return ev, ShapeLegacy, nil
	}

	cause := legacyErr
	if cause == nil {
		cause = structuredErr
	}
	if cause == nil {
		cause = fmt.Errorf("no usable %s event in payload", topic)
	}
	return nil, "", apperrors.Decode(topic, cause)
}

func (d *Dispatcher) count(topic string, shape Shape) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stats[topic]
	if !ok {
		s = &TopicStats{}
		d.stats[topic] = s
	}
	switch shape {
	case ShapeStructured:
		s.Structured++
	case ShapeLegacy:
		s.Legacy++
	default:
		s.Dropped++
	}
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := Stats{Topics: make(map[string]TopicStats, len(d.stats))}
	for topic, s := range d.stats {
		out.Topics[topic] = *s
		out.Decoded += s.Decoded()
		out.Dropped += s.Dropped
	}
	return out
}

// TopicsSeen lists topics with at least one counted message, sorted.
func (s Stats) TopicsSeen() []string {
	out := make([]string, 0, len(s.Topics))
	for t := range s.Topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) now() string {
	return models.FormatTimestamp(d.clock.Now().In(d.loc))
}

// --- Orders ---

func decodeOrderList(_ *Dispatcher, payload []byte) (models.Event, error) {
	var list []orderWire
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, err
	}
	if list == nil {
		// null is not an empty snapshot
		return nil, nil
	}
	records := make([]models.Order, 0, len(list))
	for _, w := range list {
		records = append(records, w.toModel())
	}
	return models.OrderBatchEvent{Records: records, Replace: true}, nil
}

func decodeLegacyOrderList(_ *Dispatcher, payload []byte) (models.Event, error) {
	var list []legacyOrder
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &list); err != nil {
			return nil, err
		}
	} else {
		var env legacyOrderList
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		switch {
		case env.Content != nil:
			list = env.Content
		case env.Data != nil:
			list = env.Data
		case env.Orders != nil:
			list = env.Orders
		case env.HoaDons != nil:
			list = env.HoaDons
		default:
			return nil, nil
		}
	}
	records := make([]models.Order, 0, len(list))
	for _, w := range list {
		records = append(records, w.toModel())
	}
	return models.OrderBatchEvent{Records: records, Replace: true}, nil
}

func decodeOrder(_ *Dispatcher, payload []byte) (models.Event, error) {
	var w orderWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	if w.ID <= 0 {
		return nil, nil
	}
	return models.OrderBatchEvent{Records: []models.Order{w.toModel()}}, nil
}

func decodeLegacyOrder(_ *Dispatcher, payload []byte) (models.Event, error) {
	var w legacySingleOrder
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	o := w.legacyOrder
	if o.id() <= 0 && w.HoaDon != nil {
		o = *w.HoaDon
	}
	if o.id() <= 0 {
		return nil, nil
	}
	return models.OrderBatchEvent{Records: []models.Order{o.toModel()}}, nil
}

// --- Cart ---

func cartEvent(d *Dispatcher, u models.CartUpdate) models.Event {
	ev := models.CartUpdatedEvent{Order: u.ToOrder(d.now()), Cart: u.Cart}
	if v, ok := u.Voucher(); ok {
		ev.Voucher = &v
	}
	return ev
}

func decodeCart(d *Dispatcher, payload []byte) (models.Event, error) {
	var w cartUpdateWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	if w.HoaDonID <= 0 || w.GioHang == nil {
		return nil, nil
	}
	return cartEvent(d, w.toModel()), nil
}

func decodeLegacyCart(d *Dispatcher, payload []byte) (models.Event, error) {
	var w legacyCartUpdate
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	u := w.toModel()
	if u.OrderID <= 0 {
		return nil, nil
	}
	return cartEvent(d, u), nil
}

// --- Payment and cancellation ---

func decodePayment(_ *Dispatcher, payload []byte) (models.Event, error) {
	var w paymentSuccessWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	if w.HoaDon == nil || w.HoaDon.ID <= 0 {
		return nil, nil
	}
	o := w.HoaDon.toModel()
	return models.PaymentSuccessEvent{OrderID: o.ID, Order: &o}, nil
}

func decodeLegacyPayment(_ *Dispatcher, payload []byte) (models.Event, error) {
	var w legacyOrderRef
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	id := w.orderID()
	if id <= 0 {
		return nil, nil
	}
	ev := models.PaymentSuccessEvent{OrderID: id}
	if w.HoaDon != nil {
		o := w.HoaDon.toModel()
		o.ID = id
		ev.Order = &o
	}
	return ev, nil
}

func decodeCancelled(_ *Dispatcher, payload []byte) (models.Event, error) {
	var w orderCancelledWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	if w.HoaDonID <= 0 {
		return nil, nil
	}
	return models.OrderCancelledEvent{OrderID: w.HoaDonID, Reason: w.LyDo}, nil
}

func decodeLegacyCancelled(_ *Dispatcher, payload []byte) (models.Event, error) {
	var w legacyOrderRef
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	id := w.orderID()
	if id <= 0 {
		return nil, nil
	}
	return models.OrderCancelledEvent{OrderID: id, Reason: string(w.LyDo)}, nil
}

// --- Customer ---

var resetActions = map[string]bool{
	"CUSTOMER_CLEARED": true,
	"CUSTOMER_RESET":   true,
}

// customerEvent applies the usability rule shared by both shapes: forward a
// customer that is valid for display, or any reset signal.
func customerEvent(c models.Customer, action string, idPresent bool) models.Event {
	action = strings.ToUpper(strings.TrimSpace(action))
	reset := resetActions[action] ||
		(idPresent && c.ID <= 0) ||
		(strings.TrimSpace(c.Name) != "" && models.IsPlaceholderName(c.Name))
	if !reset && !c.ValidForDisplay() {
		return nil
	}
	return models.CustomerEvent{Customer: c, Reset: reset, Action: action}
}

func decodeCustomer(_ *Dispatcher, payload []byte) (models.Event, error) {
	var w customerUpdateWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	c := models.Customer{
		ID:    deref(w.KhachHangID),
		Name:  strings.TrimSpace(w.Ten),
		Phone: strings.TrimSpace(deref(w.SoDienThoai)),
		Email: strings.TrimSpace(deref(w.Email)),
	}
	return customerEvent(c, w.Action, w.KhachHangID != nil), nil
}

func decodeLegacyCustomer(_ *Dispatcher, payload []byte) (models.Event, error) {
	var w legacyCustomer
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	_, present := w.customerID()
	return customerEvent(w.toModel(), string(w.Action), present), nil
}

// --- Voucher ---

func decodeVoucher(_ *Dispatcher, payload []byte) (models.Event, error) {
	var w voucherUpdateWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	action, ok := models.ParseVoucherAction(w.Action)
	if !ok || w.HoaDonID <= 0 {
		return nil, nil
	}
	return models.VoucherEvent{Voucher: w.toModel(action)}, nil
}

func decodeLegacyVoucher(_ *Dispatcher, payload []byte) (models.Event, error) {
	var w legacyVoucherUpdate
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	action, ok := models.ParseVoucherAction(string(w.Action))
	if !ok {
		return nil, fmt.Errorf("%w %q", apperrors.ErrUnknownAction, string(w.Action))
	}
	if w.HoaDonID <= 0 {
		return nil, nil
	}
	return models.VoucherEvent{Voucher: w.toModel(action)}, nil
}
