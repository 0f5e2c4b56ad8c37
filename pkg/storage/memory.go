package storage

import (
	"sort"
	"sync"

	"github.com/uhyunpark/ordergate/pkg/oms"
)

// InMemoryStore is a Store without durability, for tests and dry runs.
type InMemoryStore struct {
	mu      sync.Mutex
	orders  map[string]map[string]oms.HistoricalOrder
	returns map[string][]oms.ReturnField
	trades  map[string][]oms.TradeField
	marks   map[string]map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orders:  make(map[string]map[string]oms.HistoricalOrder),
		returns: make(map[string][]oms.ReturnField),
		trades:  make(map[string][]oms.TradeField),
		marks:   make(map[string]map[string]struct{}),
	}
}

func (s *InMemoryStore) SaveOrder(connID string, ho oms.HistoricalOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.orders[connID]
	if !ok {
		m = make(map[string]oms.HistoricalOrder)
		s.orders[connID] = m
	}
	m[ho.Order.ClOrdID] = ho
	return nil
}

func (s *InMemoryStore) LoadOrder(connID, clOrdID string) (oms.HistoricalOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ho, ok := s.orders[connID][clOrdID]
	return ho, ok, nil
}

func (s *InMemoryStore) DeleteOrder(connID, clOrdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders[connID], clOrdID)
	return nil
}

// Orders returns orders sorted by client order id, matching PebbleStore.
func (s *InMemoryStore) Orders(connID string) ([]oms.HistoricalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]oms.HistoricalOrder, 0, len(s.orders[connID]))
	for _, ho := range s.orders[connID] {
		out = append(out, ho)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order.ClOrdID < out[j].Order.ClOrdID })
	return out, nil
}

func (s *InMemoryStore) BufferReturn(connID string, f oms.ReturnField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.returns[connID] = append(s.returns[connID], f)
	return nil
}

func (s *InMemoryStore) BufferTrade(connID string, f oms.TradeField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[connID] = append(s.trades[connID], f)
	return nil
}

func (s *InMemoryStore) Returns(connID string) ([]oms.ReturnField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]oms.ReturnField(nil), s.returns[connID]...), nil
}

func (s *InMemoryStore) Trades(connID string) ([]oms.TradeField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]oms.TradeField(nil), s.trades[connID]...), nil
}

func (s *InMemoryStore) ClearReturns(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.returns, connID)
	return nil
}

func (s *InMemoryStore) ClearTrades(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trades, connID)
	return nil
}

func (s *InMemoryStore) MarkTradeProcessed(connID, tradeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.marks[connID]
	if !ok {
		m = make(map[string]struct{})
		s.marks[connID] = m
	}
	m[tradeKey] = struct{}{}
	return nil
}

func (s *InMemoryStore) ProcessedTrades(connID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.marks[connID]))
	for k := range s.marks[connID] {
		out[k] = struct{}{}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

var _ Store = (*InMemoryStore)(nil)
