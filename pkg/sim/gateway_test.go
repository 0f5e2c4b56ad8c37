package sim

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/ordergate/pkg/oms"
	"github.com/uhyunpark/ordergate/pkg/storage"
	"github.com/uhyunpark/ordergate/pkg/util"
)

// reportStream forwards provider output to channels.
type reportStream struct {
	reports chan oms.ExecutionReport
	errs    chan string
}

func newReportStream() *reportStream {
	return &reportStream{reports: make(chan oms.ExecutionReport, 64), errs: make(chan string, 16)}
}

func (s *reportStream) sink() oms.Sink {
	return oms.SinkFuncs{
		Message: func(r oms.ExecutionReport) { s.reports <- r },
		Error:   func(_ int, msg string) { s.errs <- msg },
	}
}

func (s *reportStream) until(t *testing.T, done func(oms.ExecutionReport) bool) []oms.ExecutionReport {
	t.Helper()
	var out []oms.ExecutionReport
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r := <-s.reports:
			out = append(out, r)
			if done(r) {
				return out
			}
		case msg := <-s.errs:
			t.Fatalf("provider error: %s", msg)
		case <-timeout:
			t.Fatalf("timed out; reports so far: %+v", out)
		}
	}
}

func newGateway(t *testing.T, ex *Exchange, store storage.Store, stream *reportStream) *oms.Provider {
	t.Helper()
	p := oms.NewProvider(oms.Config{
		ConnectionID: "sim-1",
		OrderPrefix:  "C",
		Connection:   ex,
		Symbols:      SymbolTable{"IF2604": "CFFEX"},
		Commission:   BpsCommission{Bps: 2},
		Sink:         oms.MultiSink{storage.NewHistoryRecorder(store, "sim-1", nil), stream.sink()},
		Clock:        util.FixedClock{T: simNow},
	})
	p.SetTradingDay(simNow)
	return p
}

func TestGateway_OrderFillsThroughSimulatedExchange(t *testing.T) {
	store := storage.NewInMemoryStore()
	stream := newReportStream()
	ex := NewExchange(Config{ConnectionID: "sim-1", FillChunks: 2, Missed: store, Clock: util.FixedClock{T: simNow}})
	p := newGateway(t, ex, store, stream)
	ex.Attach(p)

	if err := p.Open(); err != nil {
		t.Fatal(err)
	}
	if err := ex.Open(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		ex.Close()
		p.Close()
	}()

	order := oms.Order{ClOrdID: p.NextClOrdID(), Symbol: "IF2604", Side: oms.SideSell, Type: oms.OrderTypeLimit, Price: decimal.RequireFromString("3801.2"), Qty: 5}
	if err := p.PostSend(order); err != nil {
		t.Fatal(err)
	}

	reports := stream.until(t, func(r oms.ExecutionReport) bool { return r.OrdStatus == oms.StatusFilled })
	if len(reports) != 3 || reports[0].ExecType != oms.ExecNew {
		t.Fatalf("reports = %+v, want new + 2 trades", reports)
	}
	last := reports[2]
	if last.ClOrdID != "C1" || last.CumQty != 5 || last.LeavesQty != 0 || !last.AvgPx.Equal(decimal.RequireFromString("3801.2")) {
		t.Errorf("final report = %+v", last)
	}
	// 2 bps of 2 x 3801.2
	if want := decimal.RequireFromString("1.52048"); !last.Commission.Equal(want) {
		t.Errorf("commission = %s, want %s", last.Commission, want)
	}

	ho, ok, _ := store.LoadOrder("sim-1", "C1")
	if !ok || !ho.Done || ho.CumQty != 5 {
		t.Errorf("persisted = %+v, %v", ho, ok)
	}
	keys, _ := store.ProcessedTrades("sim-1")
	if len(keys) != 2 {
		t.Errorf("processed trade keys = %d, want 2", len(keys))
	}
}

func TestGateway_CancelRestingOrder(t *testing.T) {
	store := storage.NewInMemoryStore()
	stream := newReportStream()
	ex := NewExchange(Config{ConnectionID: "sim-1", Clock: util.FixedClock{T: simNow}})
	p := newGateway(t, ex, store, stream)
	ex.Attach(p)
	if err := p.Open(); err != nil {
		t.Fatal(err)
	}
	if err := ex.Open(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		ex.Close()
		p.Close()
	}()

	order := oms.Order{ClOrdID: "C1", Symbol: "IF2604", Side: oms.SideBuy, Price: decimal.NewFromInt(3800), Qty: 3}
	if err := p.PostSend(order); err != nil {
		t.Fatal(err)
	}
	stream.until(t, func(r oms.ExecutionReport) bool { return r.ExecType == oms.ExecNew })

	if err := p.PostCancel(oms.Order{ClOrdID: "C1"}); err != nil {
		t.Fatal(err)
	}
	reports := stream.until(t, func(r oms.ExecutionReport) bool { return r.ExecType == oms.ExecCanceled })
	if len(reports) != 2 || reports[0].ExecType != oms.ExecPendingCancel {
		t.Errorf("cancel reports = %+v", reports)
	}
	if n := ex.Resting(); n != 0 {
		t.Errorf("resting = %d after cancel", n)
	}
}

// The exchange keeps running while the gateway is down; everything it sends
// is buffered and reconciled by the next session's recovery.
func TestGateway_RecoversEventsMissedWhileDown(t *testing.T) {
	store := storage.NewInMemoryStore()
	order := oms.Order{ClOrdID: "C4", Symbol: "IF2604", Side: oms.SideBuy, Price: decimal.NewFromInt(3800), Qty: 5}
	if err := store.SaveOrder("sim-1", oms.HistoricalOrder{Order: order, LastTransactTime: simNow.Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}

	// previous session: order reached the exchange, then the gateway died
	down := NewExchange(Config{ConnectionID: "sim-1", FillChunks: 2, Missed: store, Clock: util.FixedClock{T: simNow}})
	if err := down.Open(); err != nil {
		t.Fatal(err)
	}
	req := oms.OrderRequest{ClOrdID: "C4", SymbolCode: "IF2604", Side: oms.SideBuy, Price: order.Price, Qty: 5}
	if err := down.SendOrder(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		trades, _ := store.Trades("sim-1")
		return len(trades) == 2
	})
	down.Close()

	stream := newReportStream()
	ex := NewExchange(Config{ConnectionID: "sim-1", Missed: store})
	p := newGateway(t, ex, store, stream)

	processed, err := store.ProcessedTrades("sim-1")
	if err != nil {
		t.Fatal(err)
	}
	err = p.LoadUndoneOrders(context.Background(), oms.RecoveryInput{
		History:         store,
		Missed:          store,
		ProcessedTrades: processed,
		SessionStart:    simNow.Add(-12 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	reports := stream.until(t, func(r oms.ExecutionReport) bool { return r.OrdStatus == oms.StatusFilled })
	if len(reports) != 3 {
		t.Fatalf("recovery reports = %+v", reports)
	}
	if last := reports[2]; last.ClOrdID != "C4" || last.CumQty != 5 || last.OrderID == "" {
		t.Errorf("final report = %+v", last)
	}

	returns, _ := store.Returns("sim-1")
	trades, _ := store.Trades("sim-1")
	if len(returns) != 0 || len(trades) != 0 {
		t.Errorf("buffers not cleared: %d returns, %d trades", len(returns), len(trades))
	}
	if ho, _, _ := store.LoadOrder("sim-1", "C4"); !ho.Done {
		t.Errorf("recovered order not persisted as done: %+v", ho)
	}
	if got := p.NextClOrdID(); got != "C5" {
		t.Errorf("next id = %s, want C5", got)
	}
}
