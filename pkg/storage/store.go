package storage

import "github.com/uhyunpark/ordergate/pkg/oms"

// Store is the persistence surface the gateway needs: order history and
// missed-event buffers for recovery, plus processed trade keys.
type Store interface {
	oms.OrderHistory
	oms.MissedEventStore

	SaveOrder(connID string, ho oms.HistoricalOrder) error
	LoadOrder(connID, clOrdID string) (oms.HistoricalOrder, bool, error)
	DeleteOrder(connID, clOrdID string) error

	BufferReturn(connID string, f oms.ReturnField) error
	BufferTrade(connID string, f oms.TradeField) error

	MarkTradeProcessed(connID, tradeKey string) error
	ProcessedTrades(connID string) (map[string]struct{}, error)

	Close() error
}
