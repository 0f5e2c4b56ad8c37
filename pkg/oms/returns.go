package oms

import (
	"time"

	"github.com/google/uuid"
)

// lookupReturn resolves the record a return payload refers to. Unknown ids
// belong to orders already reconciled away or to another session and are
// dropped without a report.
func (p *Provider) lookupReturn(f ReturnField) (string, *OrderRecord, bool) {
	id := p.resolveID(f.ClOrdID, f.ProviderOrderID)
	rec, ok := p.orders.TryGetOrder(id)
	if !ok {
		p.log.Debugw("return_unknown_order", "code", string(rune(f.Code)), "cl_ord_id", f.ClOrdID, "provider_order_id", f.ProviderOrderID)
		return "", nil, false
	}
	return id, rec, true
}

// onNewAck absorbs the first acknowledgment carrying a provider order id.
// Repeated acks for the same order change nothing and emit nothing.
func (p *Provider) onNewAck(f ReturnField) {
	id, rec, ok := p.lookupReturn(f)
	if !ok {
		return
	}
	if f.ProviderOrderID == "" || rec.Order.ProviderOrderID != "" {
		p.log.Debugw("new_ack_ignored", "cl_ord_id", id, "provider_order_id", f.ProviderOrderID, "known", rec.Order.ProviderOrderID)
		return
	}

	rec.Order.ProviderOrderID = f.ProviderOrderID
	p.providerIDs[f.ProviderOrderID] = id
	p.orders.RemoveNoSend(id)
	rec.Status = rec.fillStatus()

	r := p.newReport(rec, ExecNew, f.Time)
	r.Text = f.Text
	p.emit(r)
}

func (p *Provider) onCancelled(f ReturnField) {
	id, rec, ok := p.lookupReturn(f)
	if !ok {
		return
	}
	rec.Status = StatusCanceled
	r := p.newReport(rec, ExecCanceled, f.Time)
	r.Text = f.Text
	p.emit(r)
	p.orders.RemoveDone(id)
}

func (p *Provider) onRejected(f ReturnField) {
	id, rec, ok := p.lookupReturn(f)
	if !ok {
		return
	}
	rec.Status = StatusRejected
	r := p.newReport(rec, ExecRejected, f.Time)
	r.Text = f.Text
	r.ErrorCode = f.ErrorCode
	r.RawErrorCode = f.RawErrorCode
	p.emit(r)
	p.orders.RemoveDone(id)
}

func (p *Provider) onPendingCancel(f ReturnField) {
	_, rec, ok := p.lookupReturn(f)
	if !ok {
		return
	}
	rec.Status = StatusPendingCancel
	r := p.newReport(rec, ExecPendingCancel, f.Time)
	r.Text = f.Text
	p.emit(r)
}

// onCancelReject reports from the tracked record, so cumulative and leaves
// quantities reflect every fill applied so far.
func (p *Provider) onCancelReject(f ReturnField) {
	_, rec, ok := p.lookupReturn(f)
	if !ok {
		return
	}
	rec.Status = rec.fillStatus()
	r := p.newReport(rec, ExecCancelRejected, f.Time)
	r.Text = f.Text
	r.ErrorCode = f.ErrorCode
	r.RawErrorCode = f.RawErrorCode
	p.emit(r)
}

func (p *Provider) newReport(rec *OrderRecord, execType ExecType, at time.Time) ExecutionReport {
	if at.IsZero() {
		at = p.clock.Now()
	}
	o := rec.Order
	return ExecutionReport{
		ReportID:     uuid.NewString(),
		ClOrdID:      o.ClOrdID,
		OrderID:      o.ProviderOrderID,
		Account:      o.Account,
		Symbol:       o.Symbol,
		Exchange:     o.Exchange,
		Side:         o.Side,
		Price:        o.Price,
		Qty:          o.Qty,
		ExecType:     execType,
		OrdStatus:    rec.Status,
		CumQty:       rec.CumQty,
		LeavesQty:    rec.LeavesQty,
		AvgPx:        rec.AvgPx,
		TransactTime: at,
	}
}
