package oms

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrdStatus is the normalized order status carried on execution reports.
type OrdStatus int8

const (
	StatusPendingNew OrdStatus = iota
	StatusNew
	StatusPartiallyFilled
	StatusFilled
	StatusPendingCancel
	StatusCanceled
	StatusRejected
)

func (s OrdStatus) String() string {
	switch s {
	case StatusPendingNew:
		return "pending_new"
	case StatusNew:
		return "new"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusPendingCancel:
		return "pending_cancel"
	case StatusCanceled:
		return "canceled"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events can change the order.
func (s OrdStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// ExecType classifies the event an execution report describes.
type ExecType int8

const (
	ExecNew ExecType = iota
	ExecCanceled
	ExecRejected
	ExecPendingCancel
	ExecCancelRejected
	ExecTrade
)

func (e ExecType) String() string {
	switch e {
	case ExecNew:
		return "new"
	case ExecCanceled:
		return "canceled"
	case ExecRejected:
		return "rejected"
	case ExecPendingCancel:
		return "pending_cancel"
	case ExecCancelRejected:
		return "cancel_rejected"
	case ExecTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// Order is the locally held order reference.
type Order struct {
	ClOrdID         string // client order id, key of the order map
	LocalID         string // id assigned by the exchange session, optional
	ProviderOrderID string // exchange-assigned id, empty until acknowledged
	Account         string
	Symbol          string
	Exchange        string
	Side            Side
	Type            OrderType
	Price           decimal.Decimal
	Qty             int64
	TransactTime    time.Time
}

// OrderRequest is what gets submitted to the exchange connection.
type OrderRequest struct {
	ClOrdID      string
	Account      string
	SymbolCode   string
	ExchangeCode string
	Side         Side
	Type         OrderType
	Price        decimal.Decimal
	Qty          int64
}

type CancelRequest struct {
	ClOrdID         string
	ProviderOrderID string
	SymbolCode      string
	ExchangeCode    string
}

// ReturnCode is the exchange-native order-return event type.
type ReturnCode uint8

const (
	ReturnNew           ReturnCode = '0'
	ReturnCancelled     ReturnCode = '4'
	ReturnRejected      ReturnCode = '8'
	ReturnPendingCancel ReturnCode = '6'
	ReturnCancelReject  ReturnCode = '9'
	// ReturnTrade is delivered on the order-return channel when an order
	// fills. It carries no fill data; the fill itself arrives as a TradeField.
	ReturnTrade ReturnCode = 'F'
)

// ReturnField is an exchange order-return (order status update) payload.
type ReturnField struct {
	Code            ReturnCode `json:"code"`
	ClOrdID         string     `json:"cl_ord_id"`
	ProviderOrderID string     `json:"provider_order_id,omitempty"`
	Text            string     `json:"text,omitempty"`
	ErrorCode       int        `json:"error_code,omitempty"`
	RawErrorCode    int        `json:"raw_error_code,omitempty"`
	Time            time.Time  `json:"time"`
}

// TradeField is an exchange fill payload. ClOrdID may be empty, in which
// case the order is resolved through its ProviderOrderID.
type TradeField struct {
	ClOrdID         string          `json:"cl_ord_id,omitempty"`
	ProviderOrderID string          `json:"provider_order_id"`
	TradeID         string          `json:"trade_id"`
	Side            Side            `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Qty             int64           `json:"qty"`
	Commission      decimal.Decimal `json:"commission"`
	Time            time.Time       `json:"time"`
}

// Key identifies a fill across replays: trade ids are only unique per side.
func (t TradeField) Key() string {
	return TradeKey(t.TradeID, t.Side)
}

func TradeKey(tradeID string, side Side) string {
	return tradeID + ":" + string(side)
}

// ExecutionReport is the normalized outward event describing an order after
// some event.
type ExecutionReport struct {
	ReportID     string          `json:"report_id"`
	ClOrdID      string          `json:"cl_ord_id"`
	OrderID      string          `json:"order_id,omitempty"`
	Account      string          `json:"account,omitempty"`
	Symbol       string          `json:"symbol"`
	Exchange     string          `json:"exchange,omitempty"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Qty          int64           `json:"qty"`
	ExecType     ExecType        `json:"exec_type"`
	OrdStatus    OrdStatus       `json:"ord_status"`
	CumQty       int64           `json:"cum_qty"`
	LeavesQty    int64           `json:"leaves_qty"`
	AvgPx        decimal.Decimal `json:"avg_px"`
	LastPx       decimal.Decimal `json:"last_px"`
	LastQty      int64           `json:"last_qty"`
	TradeID      string          `json:"trade_id,omitempty"`
	TransactTime time.Time       `json:"transact_time"`
	Commission   decimal.Decimal `json:"commission"`
	Text         string          `json:"text,omitempty"`
	ErrorCode    int             `json:"error_code,omitempty"`
	RawErrorCode int             `json:"raw_error_code,omitempty"`
}
