package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/ordergate/pkg/oms"
	"github.com/uhyunpark/ordergate/pkg/queue"
	"github.com/uhyunpark/ordergate/pkg/util"
)

// Reject codes carried on simulated ReturnRejected events.
const (
	RejectInvalidPrice = 15
	RejectInvalidQty   = 16
)

var (
	ErrSessionClosed   = errors.New("exchange session closed")
	ErrNotAcknowledged = errors.New("order not acknowledged by exchange")
)

// EventPoster receives exchange callbacks. *oms.Provider satisfies it.
type EventPoster interface {
	PostReturn(f oms.ReturnField) error
	PostTrade(f oms.TradeField) error
}

// MissedBuffer keeps callbacks the poster refused, for replay after restart.
type MissedBuffer interface {
	BufferReturn(connID string, f oms.ReturnField) error
	BufferTrade(connID string, f oms.TradeField) error
}

type Config struct {
	ConnectionID string
	// FillChunks splits each order into this many fills. 0 leaves orders
	// resting until cancelled.
	FillChunks int
	// Latency delays every simulated exchange action.
	Latency time.Duration
	// OpenWait bounds how long callbacks are retried while the poster is
	// attached but not yet consuming. Zero buffers them immediately.
	OpenWait time.Duration

	Missed MissedBuffer
	Clock  util.Clock
	Logger *zap.SugaredLogger
}

type restingOrder struct {
	req        oms.OrderRequest
	providerID string
	leaves     int64
}

// Exchange is an in-process stand-in for an exchange trading session. It
// acknowledges every valid order, fills it in chunks at the limit price and
// honours cancels for whatever is still resting. All exchange-side work runs
// on one goroutine, so callbacks for an order arrive in exchange order.
type Exchange struct {
	cfg   Config
	log   *zap.SugaredLogger
	clock util.Clock
	jobs  *queue.Queue[func()]

	mu      sync.Mutex
	poster  EventPoster
	resting map[string]*restingOrder // provider order id -> order
}

func NewExchange(cfg Config) *Exchange {
	e := &Exchange{
		cfg:     cfg,
		log:     util.OrNop(cfg.Logger),
		clock:   cfg.Clock,
		resting: make(map[string]*restingOrder),
	}
	if e.clock == nil {
		e.clock = util.RealClock{}
	}
	e.jobs = queue.New(func(job func()) {
		if e.cfg.Latency > 0 {
			time.Sleep(e.cfg.Latency)
		}
		job()
	})
	return e
}

// Attach sets where callbacks go. Until then, or while the poster refuses
// them, callbacks are buffered.
func (e *Exchange) Attach(p EventPoster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.poster = p
}

func (e *Exchange) Open() error {
	if err := e.jobs.Open(); err != nil {
		return err
	}
	e.log.Infow("sim_exchange_opened", "conn", e.cfg.ConnectionID, "fill_chunks", e.cfg.FillChunks)
	return nil
}

// Close finishes queued exchange work and stops.
func (e *Exchange) Close() {
	e.jobs.Close()
	e.log.Infow("sim_exchange_closed", "conn", e.cfg.ConnectionID, "resting", e.Resting())
}

// Resting returns the number of orders with open quantity.
func (e *Exchange) Resting() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.resting)
}

func (e *Exchange) SendOrder(_ context.Context, req oms.OrderRequest) error {
	if err := e.jobs.Post(func() { e.accept(req) }); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return nil
}

func (e *Exchange) CancelOrder(_ context.Context, req oms.CancelRequest) error {
	if req.ProviderOrderID == "" {
		return ErrNotAcknowledged
	}
	if err := e.jobs.Post(func() { e.cancel(req) }); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return nil
}

func (e *Exchange) accept(req oms.OrderRequest) {
	now := e.clock.Now()
	switch {
	case req.Qty <= 0:
		e.reject(req, RejectInvalidQty, "quantity must be positive", now)
		return
	case !req.Price.IsPositive():
		e.reject(req, RejectInvalidPrice, "price must be positive", now)
		return
	}

	ro := &restingOrder{req: req, providerID: uuid.NewString(), leaves: req.Qty}
	e.mu.Lock()
	e.resting[ro.providerID] = ro
	e.mu.Unlock()

	e.log.Debugw("sim_order_accepted", "cl_ord_id", req.ClOrdID, "provider_order_id", ro.providerID)
	e.deliverReturn(oms.ReturnField{
		Code:            oms.ReturnNew,
		ClOrdID:         req.ClOrdID,
		ProviderOrderID: ro.providerID,
		Time:            now,
	})

	for _, qty := range chunks(req.Qty, e.cfg.FillChunks) {
		qty := qty // per-iteration copy; module targets go 1.21 loop semantics
		if err := e.jobs.Post(func() { e.fill(ro.providerID, qty) }); err != nil {
			// session closing; the rest of the order stays resting
			e.log.Debugw("sim_fill_unscheduled", "cl_ord_id", req.ClOrdID, "err", err)
			break
		}
	}
}

func (e *Exchange) reject(req oms.OrderRequest, code int, text string, at time.Time) {
	e.log.Infow("sim_order_rejected", "cl_ord_id", req.ClOrdID, "code", code, "text", text)
	e.deliverReturn(oms.ReturnField{
		Code:         oms.ReturnRejected,
		ClOrdID:      req.ClOrdID,
		Text:         text,
		ErrorCode:    code,
		RawErrorCode: code,
		Time:         at,
	})
}

func (e *Exchange) fill(providerID string, qty int64) {
	e.mu.Lock()
	ro, ok := e.resting[providerID]
	if !ok {
		e.mu.Unlock()
		return
	}
	qty = min(qty, ro.leaves)
	ro.leaves -= qty
	if ro.leaves == 0 {
		delete(e.resting, providerID)
	}
	e.mu.Unlock()

	now := e.clock.Now()
	// the return channel announces the fill; the trade channel carries it
	e.deliverReturn(oms.ReturnField{
		Code:            oms.ReturnTrade,
		ClOrdID:         ro.req.ClOrdID,
		ProviderOrderID: providerID,
		Time:            now,
	})
	e.deliverTrade(oms.TradeField{
		ProviderOrderID: providerID,
		TradeID:         uuid.NewString(),
		Side:            ro.req.Side,
		Price:           ro.req.Price,
		Qty:             qty,
		Time:            now,
	})
}

func (e *Exchange) cancel(req oms.CancelRequest) {
	now := e.clock.Now()
	e.mu.Lock()
	_, ok := e.resting[req.ProviderOrderID]
	delete(e.resting, req.ProviderOrderID)
	e.mu.Unlock()

	if !ok {
		e.deliverReturn(oms.ReturnField{
			Code:            oms.ReturnCancelReject,
			ClOrdID:         req.ClOrdID,
			ProviderOrderID: req.ProviderOrderID,
			Text:            "order already closed",
			Time:            now,
		})
		return
	}
	e.deliverReturn(oms.ReturnField{Code: oms.ReturnPendingCancel, ClOrdID: req.ClOrdID, ProviderOrderID: req.ProviderOrderID, Time: now})
	e.deliverReturn(oms.ReturnField{Code: oms.ReturnCancelled, ClOrdID: req.ClOrdID, ProviderOrderID: req.ProviderOrderID, Time: now})
}

func (e *Exchange) currentPoster() EventPoster {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poster
}

// post hands one callback to the poster, waiting up to OpenWait for a
// poster that has not opened yet. It reports whether the callback landed.
func (e *Exchange) post(fn func(EventPoster) error) bool {
	p := e.currentPoster()
	if p == nil {
		return false
	}
	deadline := time.Now().Add(e.cfg.OpenWait)
	for {
		err := fn(p)
		if err == nil {
			return true
		}
		if !errors.Is(err, queue.ErrNotOpen) || time.Now().After(deadline) {
			return false
		}
		time.Sleep(openRetryInterval)
	}
}

const openRetryInterval = 10 * time.Millisecond

func (e *Exchange) deliverReturn(f oms.ReturnField) {
	if e.post(func(p EventPoster) error { return p.PostReturn(f) }) {
		return
	}
	if e.cfg.Missed == nil {
		e.log.Warnw("sim_return_lost", "cl_ord_id", f.ClOrdID, "code", string(rune(f.Code)))
		return
	}
	if err := e.cfg.Missed.BufferReturn(e.cfg.ConnectionID, f); err != nil {
		e.log.Errorw("sim_buffer_return_failed", "cl_ord_id", f.ClOrdID, "err", err)
		return
	}
	e.log.Infow("sim_return_buffered", "cl_ord_id", f.ClOrdID, "code", string(rune(f.Code)))
}

func (e *Exchange) deliverTrade(f oms.TradeField) {
	if e.post(func(p EventPoster) error { return p.PostTrade(f) }) {
		return
	}
	if e.cfg.Missed == nil {
		e.log.Warnw("sim_trade_lost", "trade_id", f.TradeID)
		return
	}
	if err := e.cfg.Missed.BufferTrade(e.cfg.ConnectionID, f); err != nil {
		e.log.Errorw("sim_buffer_trade_failed", "trade_id", f.TradeID, "err", err)
		return
	}
	e.log.Infow("sim_trade_buffered", "trade_id", f.TradeID, "provider_order_id", f.ProviderOrderID)
}

// chunks splits qty into n near-equal positive parts, larger parts first.
func chunks(qty int64, n int) []int64 {
	if n <= 0 || qty <= 0 {
		return nil
	}
	if int64(n) > qty {
		n = int(qty)
	}
	out := make([]int64, n)
	base, rem := qty/int64(n), qty%int64(n)
	for i := range out {
		out[i] = base
		if int64(i) < rem {
			out[i]++
		}
	}
	return out
}

var _ oms.Connection = (*Exchange)(nil)
