package oms

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrOverfill = errors.New("fill exceeds leaves quantity")

// SubsetState is the lifecycle bucket of a record inside the OrderMap.
type SubsetState int8

const (
	NotSent SubsetState = iota // accepted locally, no exchange acknowledgment yet
	Live
	Done
)

func (s SubsetState) String() string {
	switch s {
	case NotSent:
		return "not_sent"
	case Live:
		return "live"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// OrderRecord is one order's mutable fill and status state.
// Invariant: LeavesQty == Order.Qty - CumQty >= 0.
type OrderRecord struct {
	Order     Order
	CumQty    int64
	LeavesQty int64
	AvgPx     decimal.Decimal
	Status    OrdStatus
	State     SubsetState
}

func newOrderRecord(order Order, state SubsetState) *OrderRecord {
	return &OrderRecord{
		Order:     order,
		LeavesQty: order.Qty,
		AvgPx:     decimal.Zero,
		Status:    StatusPendingNew,
		State:     state,
	}
}

// ApplyFill adds a fill of qty at px and recomputes the volume-weighted
// average price. The record is unchanged when an error is returned.
func (r *OrderRecord) ApplyFill(qty int64, px decimal.Decimal) error {
	if qty <= 0 {
		return fmt.Errorf("fill qty must be positive: %d", qty)
	}
	if qty > r.LeavesQty {
		return fmt.Errorf("%w: order %s fill=%d leaves=%d", ErrOverfill, r.Order.ClOrdID, qty, r.LeavesQty)
	}

	prevCum := decimal.NewFromInt(r.CumQty)
	newCum := r.CumQty + qty
	notional := r.AvgPx.Mul(prevCum).Add(px.Mul(decimal.NewFromInt(qty)))

	r.AvgPx = notional.Div(decimal.NewFromInt(newCum))
	r.CumQty = newCum
	r.LeavesQty -= qty
	r.Status = r.fillStatus()
	return nil
}

// fillStatus derives the status implied by the fill quantities alone.
func (r *OrderRecord) fillStatus() OrdStatus {
	switch {
	case r.CumQty > 0 && r.LeavesQty == 0:
		return StatusFilled
	case r.CumQty > 0:
		return StatusPartiallyFilled
	case r.Order.ProviderOrderID == "":
		return StatusPendingNew
	default:
		return StatusNew
	}
}
