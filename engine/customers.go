package engine

import (
	"sort"
	"time"

	"order-monitor/models"
)

// CustomerEntry is a customer plus when the engine last saw its identity.
type CustomerEntry struct {
	Customer models.Customer
	SeenAt   time.Time
	seq      uint64
}

// customerIndex stores each customer once and maps every lookup key
// (id:<n>, phone:<p>, email:<e>) to its id.
type customerIndex struct {
	byID map[int]CustomerEntry
	keys map[string]int
	seq  uint64
}

func newCustomerIndex() *customerIndex {
	return &customerIndex{
		byID: make(map[int]CustomerEntry),
		keys: make(map[string]int),
	}
}

func (ix *customerIndex) put(c models.Customer, seen time.Time) {
	ix.remove(c.ID)
	ix.seq++
	ix.byID[c.ID] = CustomerEntry{Customer: c, SeenAt: seen, seq: ix.seq}
	// a phone or email shared with an older customer moves to this one
	for _, k := range c.Keys() {
		ix.keys[k] = c.ID
	}
}

func (ix *customerIndex) remove(id int) {
	e, ok := ix.byID[id]
	if !ok {
		return
	}
	for _, k := range e.Customer.Keys() {
		if ix.keys[k] == id {
			delete(ix.keys, k)
		}
	}
	delete(ix.byID, id)
}

func (ix *customerIndex) lookup(key string) (CustomerEntry, bool) {
	id, ok := ix.keys[key]
	if !ok {
		return CustomerEntry{}, false
	}
	e, ok := ix.byID[id]
	return e, ok
}

func (ix *customerIndex) get(id int) (CustomerEntry, bool) {
	e, ok := ix.byID[id]
	return e, ok
}

func (ix *customerIndex) has(id int) bool {
	_, ok := ix.byID[id]
	return ok
}

func (ix *customerIndex) keyCount() int { return len(ix.keys) }

// recent returns every customer, most recently seen first.
func (ix *customerIndex) recent() []CustomerEntry {
	out := make([]CustomerEntry, 0, len(ix.byID))
	for _, e := range ix.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	return out
}

// truncate keeps the keep most recently identified customers once the key
// count exceeds maxKeys. It returns the ids it evicted.
func (ix *customerIndex) truncate(maxKeys, keep int) []int {
	if len(ix.keys) <= maxKeys {
		return nil
	}
	all := ix.recent()
	if len(all) <= keep {
		return nil
	}
	var evicted []int
	for _, e := range all[keep:] {
		ix.remove(e.Customer.ID)
		evicted = append(evicted, e.Customer.ID)
	}
	return evicted
}
