package storage

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/ordergate/pkg/oms"
)

// PebbleStore persists order history, the missed-event buffers and the set
// of processed trade keys for every connection of the gateway.
type PebbleStore struct {
	db  *pebble.DB
	seq atomic.Uint64
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(32 << 20), // 32MB cache
		MemTableSize: 16 << 20,
		MaxOpenFiles: 500,
		BytesPerSync: 512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	s := &PebbleStore{db: db}
	// Buffered events are keyed by this sequence; seeding from the wall clock
	// keeps keys increasing across restarts.
	s.seq.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// SaveOrder upserts the persisted state of one order.
func (s *PebbleStore) SaveOrder(connID string, ho oms.HistoricalOrder) error {
	data, err := encodeJSON(ho)
	if err != nil {
		return err
	}
	if err := s.db.Set(orderKey(connID, ho.Order.ClOrdID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order %s: %w", ho.Order.ClOrdID, err)
	}
	return nil
}

// LoadOrder returns the persisted order, or ok=false if unknown.
func (s *PebbleStore) LoadOrder(connID, clOrdID string) (oms.HistoricalOrder, bool, error) {
	var ho oms.HistoricalOrder
	data, closer, err := s.db.Get(orderKey(connID, clOrdID))
	if err == pebble.ErrNotFound {
		return ho, false, nil
	}
	if err != nil {
		return ho, false, fmt.Errorf("failed to get order %s: %w", clOrdID, err)
	}
	defer closer.Close()
	if err := decodeJSON(data, &ho); err != nil {
		return ho, false, err
	}
	return ho, true, nil
}

func (s *PebbleStore) DeleteOrder(connID, clOrdID string) error {
	if err := s.db.Delete(orderKey(connID, clOrdID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete order %s: %w", clOrdID, err)
	}
	return nil
}

// Orders lists every persisted order of the connection, done or not.
func (s *PebbleStore) Orders(connID string) ([]oms.HistoricalOrder, error) {
	var out []oms.HistoricalOrder
	err := s.scan(orderPrefix(connID), func(v []byte) error {
		var ho oms.HistoricalOrder
		if err := decodeJSON(v, &ho); err != nil {
			return err
		}
		out = append(out, ho)
		return nil
	})
	return out, err
}

func (s *PebbleStore) BufferReturn(connID string, f oms.ReturnField) error {
	data, err := encodeJSON(f)
	if err != nil {
		return err
	}
	return s.db.Set(missedReturnKey(connID, s.seq.Add(1)), data, pebble.Sync)
}

func (s *PebbleStore) BufferTrade(connID string, f oms.TradeField) error {
	data, err := encodeJSON(f)
	if err != nil {
		return err
	}
	return s.db.Set(missedTradeKey(connID, s.seq.Add(1)), data, pebble.Sync)
}

// Returns lists buffered returns in arrival order.
func (s *PebbleStore) Returns(connID string) ([]oms.ReturnField, error) {
	var out []oms.ReturnField
	err := s.scan(missedReturnPrefix(connID), func(v []byte) error {
		var f oms.ReturnField
		if err := decodeJSON(v, &f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

// Trades lists buffered trades in arrival order.
func (s *PebbleStore) Trades(connID string) ([]oms.TradeField, error) {
	var out []oms.TradeField
	err := s.scan(missedTradePrefix(connID), func(v []byte) error {
		var f oms.TradeField
		if err := decodeJSON(v, &f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

func (s *PebbleStore) ClearReturns(connID string) error {
	return s.clear(missedReturnPrefix(connID))
}

func (s *PebbleStore) ClearTrades(connID string) error {
	return s.clear(missedTradePrefix(connID))
}

func (s *PebbleStore) MarkTradeProcessed(connID, tradeKey string) error {
	return s.db.Set(tradeMarkerKey(connID, tradeKey), nil, pebble.NoSync)
}

// ProcessedTrades returns the trade keys recorded for the connection.
func (s *PebbleStore) ProcessedTrades(connID string) (map[string]struct{}, error) {
	prefix := tradeMarkerPrefix(connID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[string]struct{})
	for iter.First(); iter.Valid(); iter.Next() {
		out[strings.TrimPrefix(string(iter.Key()), string(prefix))] = struct{}{}
	}
	return out, iter.Error()
}

func (s *PebbleStore) scan(prefix []byte, fn func(v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) clear(prefix []byte) error {
	if err := s.db.DeleteRange(prefix, keyUpperBound(prefix), pebble.Sync); err != nil {
		return fmt.Errorf("failed to clear %s: %w", prefix, err)
	}
	return nil
}

var (
	_ oms.OrderHistory     = (*PebbleStore)(nil)
	_ oms.MissedEventStore = (*PebbleStore)(nil)
	_ Store                = (*PebbleStore)(nil)
)
