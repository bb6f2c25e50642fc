package engine

import (
	"encoding/json"
	"time"

	"order-monitor/models"
)

// OrderView is an order together with what the engine resolved for it.
type OrderView struct {
	models.Order
	Customer *Match          `json:"resolved_customer,omitempty"`
	Voucher  *models.Voucher `json:"voucher,omitempty"`
}

// Stats are aggregate figures over the current order table.
type Stats struct {
	Orders          int   `json:"orders"`
	Completed       int   `json:"completed"`
	Pending         int   `json:"pending"`
	Cancelled       int   `json:"cancelled"`
	Revenue         int64 `json:"revenue"`
	TotalDiscount   int64 `json:"total_discount"`
	UniqueCustomers int   `json:"unique_customers"`
	ActiveVouchers  int   `json:"active_vouchers"`
	PendingQueue    int   `json:"pending_customers"`
	Applied         int64 `json:"events_applied"`
	Rejected        int64 `json:"events_rejected"`
}

// Snapshot is an immutable view of engine state. Nothing reachable from a
// published Snapshot is mutated afterwards.
type Snapshot struct {
	Version     uint64                 `json:"version"`
	Orders      []OrderView            `json:"orders"`
	Links       map[int]models.Link    `json:"links"`
	Vouchers    map[int]models.Voucher `json:"vouchers"`
	Customers   []models.Customer      `json:"customers"`
	Pending     []models.Customer      `json:"pending_customers"`
	Session     Session                `json:"session"`
	Connected   bool                   `json:"connected"`
	LastError   string                 `json:"last_error,omitempty"`
	LastUpdated time.Time              `json:"last_updated"`
	Stats       Stats                  `json:"stats"`

	byID map[int]int
}

// Order returns the order with id, if tracked.
func (s *Snapshot) Order(id int) (OrderView, bool) {
	i, ok := s.byID[id]
	if !ok {
		return OrderView{}, false
	}
	return s.Orders[i], true
}

// ResolveCustomer returns the customer resolved for order id at publish time.
func (s *Snapshot) ResolveCustomer(id int) (Match, bool) {
	o, ok := s.Order(id)
	if !ok || o.Customer == nil {
		return Match{}, false
	}
	return *o.Customer, true
}

// Voucher returns the latest voucher applied to order id.
func (s *Snapshot) Voucher(id int) (models.Voucher, bool) {
	v, ok := s.Vouchers[id]
	return v, ok
}

func emptySnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		Orders:      []OrderView{},
		Links:       map[int]models.Link{},
		Vouchers:    map[int]models.Voucher{},
		Customers:   []models.Customer{},
		Pending:     []models.Customer{},
		LastUpdated: now,
		byID:        map[int]int{},
	}
}

// UnmarshalJSON restores a snapshot read back from a mirror, including the
// order index used by Order and ResolveCustomer.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	type plain Snapshot
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = Snapshot(p)
	s.byID = make(map[int]int, len(s.Orders))
	for i, o := range s.Orders {
		s.byID[o.ID] = i
	}
	return nil
}
