package oms

import (
	"context"
	"fmt"
)

// ReasonOrderNotFound is the text of a cancel reject for an untracked order.
const ReasonOrderNotFound = "order not found"

func (p *Provider) processSend(ctx context.Context, order Order) error {
	p.log.Infow("order_send",
		"cl_ord_id", order.ClOrdID,
		"symbol", order.Symbol,
		"side", order.Side,
		"price", order.Price.String(),
		"qty", order.Qty)

	rec, err := p.orders.AddNewOrder(order.ClOrdID, order)
	if err != nil {
		return err
	}
	p.observeID(order.ClOrdID)
	return p.submit(ctx, rec)
}

// submit sends the record's order to the exchange. A failed submit leaves
// the record where it was, so NotSent orders stay eligible for resend.
func (p *Provider) submit(ctx context.Context, rec *OrderRecord) error {
	o := rec.Order
	symbolCode, exchangeCode, err := p.symbols.GetSymbolInfo(o.Symbol)
	if err != nil {
		return &providerError{code: ErrCodeSendFailed, err: fmt.Errorf("resolve symbol %s for %s: %w", o.Symbol, o.ClOrdID, err)}
	}
	if exchangeCode == "" {
		exchangeCode = o.Exchange
	}
	req := OrderRequest{
		ClOrdID:      o.ClOrdID,
		Account:      o.Account,
		SymbolCode:   symbolCode,
		ExchangeCode: exchangeCode,
		Side:         o.Side,
		Type:         o.Type,
		Price:        o.Price,
		Qty:          o.Qty,
	}
	if err := p.conn.SendOrder(ctx, req); err != nil {
		return &providerError{code: ErrCodeSendFailed, err: fmt.Errorf("send order %s: %w", o.ClOrdID, err)}
	}
	return nil
}

// processCancel forwards a cancel for a tracked order. Cancels for orders
// the map does not hold never reach the exchange; they are answered with a
// local cancel reject instead.
func (p *Provider) processCancel(ctx context.Context, order Order) error {
	rec, ok := p.orders.TryGetOrder(order.ClOrdID)
	if !ok {
		p.log.Infow("cancel_unknown_order", "cl_ord_id", order.ClOrdID)
		placeholder := newOrderRecord(order, Done)
		placeholder.LeavesQty = 0
		placeholder.Status = StatusRejected
		r := p.newReport(placeholder, ExecCancelRejected, p.clock.Now())
		r.Text = ReasonOrderNotFound
		p.emit(r)
		return nil
	}

	p.log.Infow("order_cancel", "cl_ord_id", order.ClOrdID, "provider_order_id", rec.Order.ProviderOrderID)

	symbolCode, exchangeCode, err := p.symbols.GetSymbolInfo(rec.Order.Symbol)
	if err != nil {
		symbolCode, exchangeCode = rec.Order.Symbol, rec.Order.Exchange
	}
	req := CancelRequest{
		ClOrdID:         rec.Order.ClOrdID,
		ProviderOrderID: rec.Order.ProviderOrderID,
		SymbolCode:      symbolCode,
		ExchangeCode:    exchangeCode,
	}
	if err := p.conn.CancelOrder(ctx, req); err != nil {
		p.log.Warnw("cancel_refused", "cl_ord_id", order.ClOrdID, "err", err)
		r := p.newReport(rec, ExecCancelRejected, p.clock.Now())
		r.Text = err.Error()
		p.emit(r)
	}
	return nil
}
