package engine

import (
	"time"

	"github.com/google/uuid"

	"order-monitor/models"
)

// Session is the single active checkout context: the customer the backend
// most recently announced for in-flight orders. It ends on a reset signal or
// a payment success.
type Session struct {
	ID        string           `json:"id"`
	Customer  *models.Customer `json:"customer,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func newSession(now time.Time) Session {
	return Session{ID: uuid.NewString(), StartedAt: now, UpdatedAt: now}
}

// bind attaches c to the session.
func (s *Session) bind(c models.Customer, now time.Time) {
	s.Customer = &c
	s.UpdatedAt = now
}

// Active reports whether a customer is bound.
func (s Session) Active() bool {
	return s.Customer != nil
}

// pendingQueue is a small bounded list of recently seen identities not yet
// certainly tied to an order. The most recent entry is last.
type pendingQueue struct {
	items []models.Customer
	cap   int
}

func newPendingQueue(capacity int) *pendingQueue {
	return &pendingQueue{cap: capacity}
}

// push moves c to the back, replacing an older entry with the same id.
func (q *pendingQueue) push(c models.Customer) {
	q.removeID(c.ID)
	q.items = append(q.items, c)
	if over := len(q.items) - q.cap; over > 0 {
		q.items = append([]models.Customer(nil), q.items[over:]...)
	}
}

func (q *pendingQueue) removeID(id int) {
	kept := q.items[:0]
	for _, c := range q.items {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	q.items = kept
}

func (q *pendingQueue) byID(id int) (models.Customer, bool) {
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i].ID == id {
			return q.items[i], true
		}
	}
	return models.Customer{}, false
}

func (q *pendingQueue) byPhone(phone string) (models.Customer, bool) {
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i].Phone != "" && q.items[i].Phone == phone {
			return q.items[i], true
		}
	}
	return models.Customer{}, false
}

func (q *pendingQueue) latest() (models.Customer, bool) {
	if len(q.items) == 0 {
		return models.Customer{}, false
	}
	return q.items[len(q.items)-1], true
}

// retain drops entries keep rejects.
func (q *pendingQueue) retain(keep func(models.Customer) bool) {
	kept := q.items[:0]
	for _, c := range q.items {
		if keep(c) {
			kept = append(kept, c)
		}
	}
	q.items = kept
}

func (q *pendingQueue) clear() { q.items = nil }

func (q *pendingQueue) size() int { return len(q.items) }

func (q *pendingQueue) list() []models.Customer {
	return append([]models.Customer(nil), q.items...)
}
