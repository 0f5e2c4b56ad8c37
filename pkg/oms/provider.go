package oms

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/ordergate/pkg/queue"
	"github.com/uhyunpark/ordergate/pkg/util"
)

// Provider error codes passed to Sink.OnProviderError.
const (
	ErrCodeHandlerFailure = 1000 + iota
	ErrCodeDuplicateOrder
	ErrCodeSendFailed
	ErrCodeRecovery
)

var ErrRecoveryAfterOpen = errors.New("recovery must run before the event queue is opened")

// providerError tags an error with the code reported to the sink.
type providerError struct {
	code int
	err  error
}

func (e *providerError) Error() string { return e.err.Error() }
func (e *providerError) Unwrap() error { return e.err }

func errorCode(err error) int {
	var pe *providerError
	if errors.As(err, &pe) {
		return pe.code
	}
	var dup *DuplicateOrderError
	if errors.As(err, &dup) {
		return ErrCodeDuplicateOrder
	}
	return ErrCodeHandlerFailure
}

type Config struct {
	// ConnectionID selects this session's rows in order history and the
	// missed-event store.
	ConnectionID string
	// OrderPrefix is used by NextClOrdID.
	OrderPrefix string

	Connection Connection
	Symbols    SymbolResolver
	Commission CommissionLookup
	Sink       Sink
	Clock      util.Clock
	Logger     *zap.SugaredLogger
}

// Provider serializes every command and exchange event for one connection
// through a single consumer goroutine. All order state is owned by that
// goroutine, so none of it is locked.
type Provider struct {
	connID string
	prefix string

	conn       Connection
	symbols    SymbolResolver
	commission CommissionLookup
	sink       Sink
	clock      util.Clock
	log        *zap.SugaredLogger

	orders      *OrderMap
	table       *DispatchTable
	queue       *queue.Queue[Event]
	providerIDs map[string]string   // provider order id -> client order id
	tradeKeys   map[string]struct{} // fills already applied

	seq atomic.Uint64

	dayMu      sync.RWMutex
	tradingDay time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func NewProvider(cfg Config) *Provider {
	p := &Provider{
		connID:      cfg.ConnectionID,
		prefix:      cfg.OrderPrefix,
		conn:        cfg.Connection,
		symbols:     cfg.Symbols,
		commission:  cfg.Commission,
		sink:        cfg.Sink,
		clock:       cfg.Clock,
		log:         util.OrNop(cfg.Logger),
		orders:      NewOrderMap(),
		providerIDs: make(map[string]string),
		tradeKeys:   make(map[string]struct{}),
		ctx:         context.Background(),
		cancel:      func() {},
	}
	if p.symbols == nil {
		p.symbols = passthroughSymbols{}
	}
	if p.commission == nil {
		p.commission = zeroCommission{}
	}
	if p.sink == nil {
		p.sink = NopSink{}
	}
	if p.clock == nil {
		p.clock = util.RealClock{}
	}
	p.table = NewDispatchTable(map[ReturnCode]ReturnHandler{
		ReturnNew:           p.onNewAck,
		ReturnCancelled:     p.onCancelled,
		ReturnRejected:      p.onRejected,
		ReturnPendingCancel: p.onPendingCancel,
		ReturnCancelReject:  p.onCancelReject,
	})
	p.queue = queue.New(p.dispatch)
	return p
}

// Open starts the consumer. Recovery must already have run.
func (p *Provider) Open() error {
	if p.queue.IsOpen() {
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	if err := p.queue.Open(); err != nil {
		p.cancel()
		return err
	}
	p.log.Infow("provider_opened", "conn", p.connID, "orders", p.orders.Len())
	return nil
}

// Close rejects further posts and blocks until queued events are handled.
func (p *Provider) Close() {
	p.queue.Close()
	p.cancel()
	p.log.Infow("provider_closed", "conn", p.connID)
}

func (p *Provider) PostSend(order Order) error {
	if order.ClOrdID == "" {
		return errors.New("send: empty client order id")
	}
	if order.Qty <= 0 {
		return fmt.Errorf("send %s: quantity must be positive: %d", order.ClOrdID, order.Qty)
	}
	// advance before queueing so NextClOrdID cannot hand out this id meanwhile
	p.observeID(order.ClOrdID)
	return p.queue.Post(SendEvent{Order: order})
}

func (p *Provider) PostCancel(order Order) error {
	if order.ClOrdID == "" {
		return errors.New("cancel: empty client order id")
	}
	return p.queue.Post(CancelEvent{Order: order})
}

func (p *Provider) PostReturn(f ReturnField) error {
	return p.queue.Post(ReturnEvent{Field: f})
}

func (p *Provider) PostTrade(f TradeField) error {
	return p.queue.Post(TradeEvent{Field: f})
}

// Snapshot returns copies of every tracked record, taken on the consumer.
func (p *Provider) Snapshot(ctx context.Context) ([]OrderRecord, error) {
	reply := make(chan []OrderRecord, 1)
	err := p.queue.Post(snapshotEvent{reply: reply})
	if errors.Is(err, queue.ErrNotOpen) {
		return p.copyBook(), nil
	}
	if err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NextClOrdID issues a fresh client order id past every id seen so far.
func (p *Provider) NextClOrdID() string {
	return p.prefix + strconv.FormatUint(p.seq.Add(1), 10)
}

// SetTradingDay pins the trading-session date used to anchor fill times.
func (p *Provider) SetTradingDay(day time.Time) {
	p.dayMu.Lock()
	defer p.dayMu.Unlock()
	p.tradingDay = util.Midnight(day)
}

func (p *Provider) currentTradingDay() time.Time {
	p.dayMu.RLock()
	defer p.dayMu.RUnlock()
	if p.tradingDay.IsZero() {
		return util.Midnight(p.clock.Now())
	}
	return p.tradingDay
}

func (p *Provider) dispatch(ev Event) {
	p.safely(ev.Kind().String(), func() error {
		return p.handle(p.ctx, ev)
	})
}

// safely runs fn and turns errors and panics into a provider error report.
// One bad event never stops the consumer.
func (p *Provider) safely(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%s: panic: %v", what, r)
			p.log.Errorw("event_handler_panic", "event", what, "panic", r)
			p.sink.OnProviderError(ErrCodeHandlerFailure, msg)
		}
	}()
	if err := fn(); err != nil {
		code := errorCode(err)
		p.log.Errorw("event_handler_failed", "event", what, "code", code, "err", err)
		p.sink.OnProviderError(code, fmt.Sprintf("%s: %v", what, err))
	}
}

func (p *Provider) handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case SendEvent:
		return p.processSend(ctx, e.Order)
	case CancelEvent:
		return p.processCancel(ctx, e.Order)
	case ReturnEvent:
		p.table.Dispatch(e.Field)
		return nil
	case TradeEvent:
		return p.onTrade(e.Field)
	case resendEvent:
		p.resendNoSend(ctx)
		return nil
	case snapshotEvent:
		e.reply <- p.copyBook()
		return nil
	default:
		return fmt.Errorf("unhandled event kind %s", ev.Kind())
	}
}

func (p *Provider) copyBook() []OrderRecord {
	out := make([]OrderRecord, 0, p.orders.Len())
	p.orders.Range(func(_ string, rec *OrderRecord) bool {
		out = append(out, *rec)
		return true
	})
	return out
}

// resolveID finds the client order id for an exchange payload.
func (p *Provider) resolveID(clOrdID, providerOrderID string) string {
	if clOrdID != "" {
		return clOrdID
	}
	if providerOrderID != "" {
		return p.providerIDs[providerOrderID]
	}
	return ""
}

// observeID advances the local sequence past the numeric suffix of id.
func (p *Provider) observeID(id string) {
	n, ok := numericSuffix(id)
	if !ok {
		return
	}
	for {
		cur := p.seq.Load()
		if n <= cur || p.seq.CompareAndSwap(cur, n) {
			return
		}
	}
}

func numericSuffix(id string) (uint64, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return 0, false
	}
	n, err := strconv.ParseUint(id[i:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (p *Provider) emit(r ExecutionReport) {
	p.log.Debugw("execution_report",
		"cl_ord_id", r.ClOrdID,
		"exec_type", r.ExecType.String(),
		"status", r.OrdStatus.String(),
		"cum_qty", r.CumQty,
		"leaves_qty", r.LeavesQty,
		"avg_px", r.AvgPx.String())
	p.sink.OnMessage(r)
}
