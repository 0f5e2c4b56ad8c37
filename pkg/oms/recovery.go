package oms

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// RecoveryInput carries what LoadUndoneOrders reconciles against.
type RecoveryInput struct {
	History OrderHistory
	Missed  MissedEventStore
	// ProcessedTrades holds TradeKey values of fills already reflected
	// downstream. Keys applied during recovery are added to it.
	ProcessedTrades map[string]struct{}
	// SessionStart excludes history older than the current trading session.
	SessionStart time.Time
}

// LoadUndoneOrders rebuilds the order map after a restart or reconnect:
// it loads undone orders from history, replays buffered exchange events,
// and resubmits acknowledged orders. It runs on the caller's goroutine and
// must finish before Open.
func (p *Provider) LoadUndoneOrders(ctx context.Context, in RecoveryInput) (err error) {
	if p.queue.IsOpen() {
		return ErrRecoveryAfterOpen
	}
	defer func() {
		if err != nil {
			p.log.Errorw("recovery_failed", "conn", p.connID, "err", err)
			p.sink.OnProviderError(ErrCodeRecovery, err.Error())
		}
	}()

	if in.History != nil {
		if err := p.loadHistory(in.History, in.SessionStart); err != nil {
			return err
		}
	}
	if in.ProcessedTrades == nil {
		in.ProcessedTrades = make(map[string]struct{})
	}
	for k := range in.ProcessedTrades {
		p.tradeKeys[k] = struct{}{}
	}
	if in.Missed != nil {
		if err := p.replayMissedReturns(in.Missed); err != nil {
			return err
		}
		if err := p.replayMissedTrades(in.Missed, in.ProcessedTrades); err != nil {
			return err
		}
	}
	p.resendLive(ctx)

	p.log.Infow("recovery_complete", "conn", p.connID, "orders", p.orders.Len(), "next_seq", p.seq.Load()+1)
	return nil
}

func (p *Provider) loadHistory(h OrderHistory, sessionStart time.Time) error {
	hist, err := h.Orders(p.connID)
	if err != nil {
		return fmt.Errorf("load order history for %s: %w", p.connID, err)
	}

	loaded := 0
	for _, ho := range hist {
		if ho.Done || !ho.LastTransactTime.After(sessionStart) || ho.Order.ClOrdID == "" {
			continue
		}
		rec, err := p.orders.AddLiveOrder(ho.Order.ClOrdID, ho.Order)
		if err != nil {
			p.log.Warnw("recovery_duplicate_order", "cl_ord_id", ho.Order.ClOrdID, "err", err)
			continue
		}
		if ho.CumQty > 0 && ho.CumQty <= ho.Order.Qty {
			rec.CumQty = ho.CumQty
			rec.LeavesQty = ho.Order.Qty - ho.CumQty
			rec.AvgPx = ho.AvgPx
		}
		rec.Status = rec.fillStatus()
		if pid := ho.Order.ProviderOrderID; pid != "" {
			p.providerIDs[pid] = ho.Order.ClOrdID
		}
		p.observeID(ho.Order.ClOrdID)
		loaded++
	}
	p.log.Infow("recovery_history_loaded", "conn", p.connID, "candidates", len(hist), "loaded", loaded)
	return nil
}

// replayMissedReturns learns provider ids from buffered returns before
// applying them, so buffered trades can be matched to local orders.
func (p *Provider) replayMissedReturns(store MissedEventStore) error {
	returns, err := store.Returns(p.connID)
	if err != nil {
		return fmt.Errorf("read missed returns for %s: %w", p.connID, err)
	}
	for _, f := range returns {
		p.safely("missed_return", func() error {
			if pid := f.ProviderOrderID; pid != "" {
				if _, seen := p.providerIDs[pid]; !seen {
					if f.ClOrdID != "" {
						p.providerIDs[pid] = f.ClOrdID
					}
					if f.Code == ReturnTrade {
						p.onNewAck(f)
					}
				}
			}
			p.table.Dispatch(f)
			return nil
		})
	}
	if err := store.ClearReturns(p.connID); err != nil {
		return fmt.Errorf("clear missed returns for %s: %w", p.connID, err)
	}
	p.log.Infow("recovery_returns_replayed", "conn", p.connID, "count", len(returns))
	return nil
}

func (p *Provider) replayMissedTrades(store MissedEventStore, processed map[string]struct{}) error {
	trades, err := store.Trades(p.connID)
	if err != nil {
		return fmt.Errorf("read missed trades for %s: %w", p.connID, err)
	}
	applied := 0
	for _, f := range trades {
		key := f.Key()
		// fills without a trade id cannot be told apart, so each one is applied
		if f.TradeID != "" {
			if _, done := processed[key]; done {
				continue
			}
		}
		if id, ok := p.providerIDs[f.ProviderOrderID]; ok {
			f.ClOrdID = id
		}
		var ok bool
		p.safely("missed_trade", func() error {
			var err error
			ok, err = p.applyTrade(f)
			return err
		})
		if !ok {
			continue
		}
		if f.TradeID != "" {
			processed[key] = struct{}{}
		}
		applied++
	}
	if err := store.ClearTrades(p.connID); err != nil {
		return fmt.Errorf("clear missed trades for %s: %w", p.connID, err)
	}
	p.log.Infow("recovery_trades_replayed", "conn", p.connID, "buffered", len(trades), "applied", applied)
	return nil
}

// resendLive resubmits every tracked order the exchange has acknowledged so
// the exchange side and the local book are re-synced after reconnect.
func (p *Provider) resendLive(ctx context.Context) {
	var recs []*OrderRecord
	p.orders.Range(func(_ string, rec *OrderRecord) bool {
		if rec.Order.ProviderOrderID != "" {
			recs = append(recs, rec)
		}
		return true
	})
	sortByID(recs)
	for _, rec := range recs {
		p.safely("recovery_resend", func() error {
			return p.submit(ctx, rec)
		})
	}
}

// ProcessNoSendOrders resubmits orders never acknowledged by the exchange,
// in ascending id order, and advances the local id sequence past them.
// Once the provider is open the work is queued onto the consumer.
func (p *Provider) ProcessNoSendOrders(ctx context.Context) error {
	if p.queue.IsOpen() {
		return p.queue.Post(resendEvent{})
	}
	p.resendNoSend(ctx)
	return nil
}

func (p *Provider) resendNoSend(ctx context.Context) {
	recs := p.orders.GetNoSend()
	sortByID(recs)
	for _, rec := range recs {
		p.observeID(rec.Order.ClOrdID)
		p.log.Infow("order_resend", "cl_ord_id", rec.Order.ClOrdID)
		p.safely("resend", func() error {
			return p.submit(ctx, rec)
		})
	}
}

func sortByID(recs []*OrderRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Order.ClOrdID < recs[j].Order.ClOrdID
	})
}
