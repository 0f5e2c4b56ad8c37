package oms

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/ordergate/pkg/util"
)

var commissionEpsilon = decimal.New(1, -9)

// onTrade applies one fill. Fills for unknown orders are dropped, fills
// already applied (same trade id and side) are ignored.
func (p *Provider) onTrade(f TradeField) error {
	_, err := p.applyTrade(f)
	return err
}

// applyTrade reports whether the fill changed the order.
func (p *Provider) applyTrade(f TradeField) (bool, error) {
	key := f.Key()
	if f.TradeID != "" {
		if _, dup := p.tradeKeys[key]; dup {
			p.log.Infow("trade_duplicate_ignored", "trade_id", f.TradeID, "side", f.Side)
			return false, nil
		}
	}

	id := p.resolveID(f.ClOrdID, f.ProviderOrderID)
	rec, ok := p.orders.TryGetOrder(id)
	if !ok {
		p.log.Debugw("trade_unknown_order", "trade_id", f.TradeID, "cl_ord_id", f.ClOrdID, "provider_order_id", f.ProviderOrderID)
		return false, nil
	}

	if err := rec.ApplyFill(f.Qty, f.Price); err != nil {
		return false, err
	}
	if f.TradeID != "" {
		p.tradeKeys[key] = struct{}{}
	}
	// a fill proves the exchange holds the order, so it must not be resent
	if p.orders.RemoveNoSend(id) {
		p.log.Infow("trade_before_ack", "cl_ord_id", id, "trade_id", f.TradeID)
	}

	r := p.newReport(rec, ExecTrade, p.anchorTransactTime(f.Time))
	r.LastPx = f.Price
	r.LastQty = f.Qty
	r.TradeID = f.TradeID
	if f.Commission.Abs().LessThan(commissionEpsilon) {
		r.Commission = p.commission.GetCommission(r)
	} else {
		r.Commission = f.Commission
	}
	p.emit(r)

	if rec.Status == StatusFilled {
		p.orders.RemoveDone(id)
	}
	return true, nil
}

// anchorTransactTime keeps the exchange time-of-day but moves it onto the
// trading-session date when the exchange stamped a different calendar date,
// which happens for night-session fills after midnight.
func (p *Provider) anchorTransactTime(t time.Time) time.Time {
	if t.IsZero() {
		return p.clock.Now()
	}
	day := p.currentTradingDay()
	if util.SameDate(t, day) {
		return t
	}
	return util.AnchorToDate(t, day)
}
