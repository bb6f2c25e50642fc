package models

// EventType names the engine operation an event feeds.
type EventType string

const (
	EventOrderBatch     EventType = "order_batch"
	EventCartUpdated    EventType = "cart_updated"
	EventCustomer       EventType = "customer"
	EventVoucher        EventType = "voucher"
	EventPaymentSuccess EventType = "payment_success"
	EventOrderCancelled EventType = "order_cancelled"
)

// Event is one decoded domain event. Each decoded message yields exactly one.
type Event interface {
	Type() EventType
}

// OrderBatchEvent upserts records; Replace swaps the whole table.
type OrderBatchEvent struct {
	Records []Order
	Replace bool
}

type CartUpdatedEvent struct {
	Order   Order
	Cart    Cart
	Voucher *Voucher
}

// CustomerEvent announces the session's customer. Reset marks an explicit
// backend request to clear the session even if Customer looks valid.
type CustomerEvent struct {
	Customer Customer
	Reset    bool
	Action   string
}

type VoucherEvent struct {
	Voucher Voucher
}

type PaymentSuccessEvent struct {
	OrderID int
	Order   *Order
}

type OrderCancelledEvent struct {
	OrderID int
	Reason  string
}

func (OrderBatchEvent) Type() EventType     { return EventOrderBatch }
func (CartUpdatedEvent) Type() EventType    { return EventCartUpdated }
func (CustomerEvent) Type() EventType       { return EventCustomer }
func (VoucherEvent) Type() EventType        { return EventVoucher }
func (PaymentSuccessEvent) Type() EventType { return EventPaymentSuccess }
func (OrderCancelledEvent) Type() EventType { return EventOrderCancelled }

// IsReset reports whether the event should clear the session.
func (e CustomerEvent) IsReset() bool {
	return e.Reset || e.Customer.IsGuest()
}
