package oms

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Connection is the outbound trading session to the exchange. Its own
// thread-safety is its concern; the provider calls it from one goroutine.
type Connection interface {
	SendOrder(ctx context.Context, req OrderRequest) error
	// CancelOrder returns nil when the request was accepted for delivery.
	// A non-nil error's text becomes the reason on a locally generated
	// cancel reject.
	CancelOrder(ctx context.Context, req CancelRequest) error
}

// SymbolResolver maps an instrument to its exchange-native codes.
type SymbolResolver interface {
	GetSymbolInfo(symbol string) (symbolCode, exchangeCode string, err error)
}

// CommissionLookup computes commission for a fill the exchange did not price.
type CommissionLookup interface {
	GetCommission(report ExecutionReport) decimal.Decimal
}

// Sink receives normalized execution reports and per-event provider errors.
type Sink interface {
	OnMessage(report ExecutionReport)
	OnProviderError(code int, msg string)
}

// HistoricalOrder is an order as last persisted by a previous session.
type HistoricalOrder struct {
	Order            Order           `json:"order"`
	CumQty           int64           `json:"cum_qty"`
	AvgPx            decimal.Decimal `json:"avg_px"`
	Done             bool            `json:"done"`
	LastTransactTime time.Time       `json:"last_transact_time"`
}

// OrderHistory enumerates previously known orders of a connection.
type OrderHistory interface {
	Orders(connID string) ([]HistoricalOrder, error)
}

// MissedEventStore holds exchange events buffered while the session was offline.
type MissedEventStore interface {
	Returns(connID string) ([]ReturnField, error)
	Trades(connID string) ([]TradeField, error)
	ClearReturns(connID string) error
	ClearTrades(connID string) error
}

type passthroughSymbols struct{}

func (passthroughSymbols) GetSymbolInfo(symbol string) (string, string, error) {
	return symbol, "", nil
}

type zeroCommission struct{}

func (zeroCommission) GetCommission(ExecutionReport) decimal.Decimal { return decimal.Zero }
