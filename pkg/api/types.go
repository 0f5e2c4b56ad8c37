package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/ordergate/pkg/oms"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest is the body of POST /api/v1/orders.
type SubmitOrderRequest struct {
	ClOrdID  string          `json:"clOrdId,omitempty"` // generated when empty
	Account  string          `json:"account"`
	Symbol   string          `json:"symbol"`   // e.g. "IF2604"
	Exchange string          `json:"exchange"` // optional, resolver may supply it
	Side     string          `json:"side"`     // "buy" or "sell"
	Type     string          `json:"type"`     // "limit" (default) or "market"
	Price    decimal.Decimal `json:"price"`
	Qty      int64           `json:"qty"`
}

// CancelOrderRequest is the body of POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	ClOrdID string `json:"clOrdId"`
}

// ==============================
// REST Response Types
// ==============================

// SubmitOrderResponse is returned once the command is queued, not when the
// exchange has acknowledged it. Progress arrives on the "reports" channel.
type SubmitOrderResponse struct {
	Status  string `json:"status"`
	ClOrdID string `json:"clOrdId"`
}

// OrderInfo is one tracked order as held by the gateway.
type OrderInfo struct {
	ClOrdID         string          `json:"clOrdId"`
	ProviderOrderID string          `json:"providerOrderId,omitempty"`
	Account         string          `json:"account,omitempty"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Qty             int64           `json:"qty"`
	CumQty          int64           `json:"cumQty"`
	LeavesQty       int64           `json:"leavesQty"`
	AvgPx           decimal.Decimal `json:"avgPx"`
	Status          string          `json:"status"`
	State           string          `json:"state"` // "not_sent", "live" or "done"
}

func orderInfo(rec oms.OrderRecord) OrderInfo {
	return OrderInfo{
		ClOrdID:         rec.Order.ClOrdID,
		ProviderOrderID: rec.Order.ProviderOrderID,
		Account:         rec.Order.Account,
		Symbol:          rec.Order.Symbol,
		Side:            string(rec.Order.Side),
		Price:           rec.Order.Price,
		Qty:             rec.Order.Qty,
		CumQty:          rec.CumQty,
		LeavesQty:       rec.LeavesQty,
		AvgPx:           rec.AvgPx,
		Status:          rec.Status.String(),
		State:           rec.State.String(),
	}
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WebSocket channels
const (
	ChannelReports = "reports" // every execution report
	ChannelErrors  = "errors"  // provider errors
)

// WSSubscribeRequest represents a subscription request
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "reports", "errors" or "orders:<symbol>"
}

// ReportUpdate wraps an execution report pushed to subscribers
type ReportUpdate struct {
	Type      string              `json:"type"` // "report"
	Report    oms.ExecutionReport `json:"report"`
	Timestamp int64               `json:"timestamp"` // Unix milliseconds
}

// ProviderErrorUpdate is pushed on the "errors" channel
type ProviderErrorUpdate struct {
	Type      string `json:"type"` // "error"
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func nowMillis() int64 { return time.Now().UnixMilli() }
