package oms

import "fmt"

// DuplicateOrderError is returned when a client order id is already tracked.
type DuplicateOrderError struct {
	ClOrdID string
	State   SubsetState
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("duplicate order id %s (existing record is %s)", e.ClOrdID, e.State)
}

// OrderMap is the registry of outstanding orders keyed by client order id.
// It is not safe for concurrent use; only the provider's consumer goroutine
// (or recovery, before the queue opens) may touch it.
type OrderMap struct {
	orders map[string]*OrderRecord
}

func NewOrderMap() *OrderMap {
	return &OrderMap{orders: make(map[string]*OrderRecord)}
}

// AddNewOrder registers a locally accepted order in the NotSent bucket.
func (m *OrderMap) AddNewOrder(id string, order Order) (*OrderRecord, error) {
	return m.add(id, order, NotSent)
}

// AddLiveOrder registers an order already known to the exchange.
func (m *OrderMap) AddLiveOrder(id string, order Order) (*OrderRecord, error) {
	return m.add(id, order, Live)
}

func (m *OrderMap) add(id string, order Order, state SubsetState) (*OrderRecord, error) {
	if existing, ok := m.orders[id]; ok {
		return nil, &DuplicateOrderError{ClOrdID: id, State: existing.State}
	}
	rec := newOrderRecord(order, state)
	m.orders[id] = rec
	return rec, nil
}

func (m *OrderMap) TryGetOrder(id string) (*OrderRecord, bool) {
	rec, ok := m.orders[id]
	return rec, ok
}

func (m *OrderMap) OrderExists(id string) bool {
	_, ok := m.orders[id]
	return ok
}

// RemoveNoSend moves a NotSent record to Live in place. It reports whether a
// transition happened.
func (m *OrderMap) RemoveNoSend(id string) bool {
	rec, ok := m.orders[id]
	if !ok || rec.State != NotSent {
		return false
	}
	rec.State = Live
	return true
}

// RemoveDone marks the record Done and deletes it.
func (m *OrderMap) RemoveDone(id string) {
	if rec, ok := m.orders[id]; ok {
		rec.State = Done
		delete(m.orders, id)
	}
}

// GetNoSend lists records that have not been acknowledged by the exchange.
func (m *OrderMap) GetNoSend() []*OrderRecord {
	var out []*OrderRecord
	for _, rec := range m.orders {
		if rec.State == NotSent {
			out = append(out, rec)
		}
	}
	return out
}

// Range calls fn for every record until fn returns false. Iteration order is
// unspecified.
func (m *OrderMap) Range(fn func(id string, rec *OrderRecord) bool) {
	for id, rec := range m.orders {
		if !fn(id, rec) {
			return
		}
	}
}

func (m *OrderMap) Len() int { return len(m.orders) }
