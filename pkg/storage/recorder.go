package storage

import (
	"go.uber.org/zap"

	"github.com/uhyunpark/ordergate/pkg/oms"
	"github.com/uhyunpark/ordergate/pkg/util"
)

// HistoryRecorder is a report sink that keeps the persisted order history
// and processed trade keys current, so the next session's recovery sees
// what this session saw.
type HistoryRecorder struct {
	store  Store
	connID string
	log    *zap.SugaredLogger
}

func NewHistoryRecorder(store Store, connID string, logger *zap.SugaredLogger) *HistoryRecorder {
	return &HistoryRecorder{store: store, connID: connID, log: util.OrNop(logger)}
}

func (r *HistoryRecorder) OnMessage(rep oms.ExecutionReport) {
	// local rejects of cancels for untracked orders describe no real order
	if rep.ExecType == oms.ExecCancelRejected && rep.OrdStatus == oms.StatusRejected {
		return
	}

	ho, _, err := r.store.LoadOrder(r.connID, rep.ClOrdID)
	if err != nil {
		r.log.Errorw("history_load_failed", "cl_ord_id", rep.ClOrdID, "err", err)
	}
	ho.Order.ClOrdID = rep.ClOrdID
	if rep.OrderID != "" {
		ho.Order.ProviderOrderID = rep.OrderID
	}
	ho.Order.Account = rep.Account
	ho.Order.Symbol = rep.Symbol
	ho.Order.Exchange = rep.Exchange
	ho.Order.Side = rep.Side
	ho.Order.Price = rep.Price
	ho.Order.Qty = rep.Qty
	ho.CumQty = rep.CumQty
	ho.AvgPx = rep.AvgPx
	ho.Done = rep.OrdStatus.Terminal()
	ho.LastTransactTime = rep.TransactTime

	if err := r.store.SaveOrder(r.connID, ho); err != nil {
		r.log.Errorw("history_save_failed", "cl_ord_id", rep.ClOrdID, "err", err)
	}

	if rep.ExecType == oms.ExecTrade && rep.TradeID != "" {
		if err := r.store.MarkTradeProcessed(r.connID, oms.TradeKey(rep.TradeID, rep.Side)); err != nil {
			r.log.Errorw("trade_mark_failed", "trade_id", rep.TradeID, "err", err)
		}
	}
}

func (r *HistoryRecorder) OnProviderError(int, string) {}

var _ oms.Sink = (*HistoryRecorder)(nil)
