package oms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// Scenario: ack then two partial fills that complete the order.
func TestProvider_FillLifecycle(t *testing.T) {
	env := newTestEnv(t)

	env.run(SendEvent{Order: testOrder("C1", 10)})
	env.run(ack("C1", "P1"))
	env.run(fill("C1", "T1", 4, "100"))
	env.run(fill("C1", "T2", 6, "102"))

	reports := env.sink.all()
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3 (new + 2 trades)", len(reports))
	}
	if reports[0].ExecType != ExecNew || reports[0].OrderID != "P1" || reports[0].OrdStatus != StatusNew {
		t.Errorf("ack report = %+v", reports[0])
	}

	first, second := reports[1], reports[2]
	if first.ExecType != ExecTrade || first.OrdStatus != StatusPartiallyFilled ||
		first.CumQty != 4 || first.LeavesQty != 6 || !first.AvgPx.Equal(px("100")) {
		t.Errorf("first fill report = %+v", first)
	}
	if second.OrdStatus != StatusFilled || second.CumQty != 10 || second.LeavesQty != 0 ||
		!second.AvgPx.Equal(px("101.2")) || second.LastQty != 6 || !second.LastPx.Equal(px("102")) || second.TradeID != "T2" {
		t.Errorf("second fill report = %+v", second)
	}
	if env.p.orders.OrderExists("C1") {
		t.Error("filled order still in the map")
	}
	if errs := env.sink.providerErrors(); len(errs) != 0 {
		t.Errorf("unexpected provider errors: %v", errs)
	}
}

func TestProvider_NewAckIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.run(SendEvent{Order: testOrder("C1", 10)})

	env.run(ack("C1", "P1"))
	env.run(ack("C1", "P1"))
	env.run(ack("C1", "P9"))

	if n := len(env.sink.all()); n != 1 {
		t.Fatalf("got %d reports for repeated acks, want 1", n)
	}
	rec, _ := env.p.orders.TryGetOrder("C1")
	if rec.State != Live || rec.Order.ProviderOrderID != "P1" {
		t.Errorf("record after acks: state=%s provider=%s", rec.State, rec.Order.ProviderOrderID)
	}
	if len(env.p.orders.GetNoSend()) != 0 {
		t.Error("acked order still listed as not sent")
	}
}

func TestProvider_AckWithoutProviderIDKeepsNotSent(t *testing.T) {
	env := newTestEnv(t)
	env.run(SendEvent{Order: testOrder("C1", 10)})
	env.run(ack("C1", ""))

	if n := len(env.sink.all()); n != 0 {
		t.Errorf("got %d reports, want 0", n)
	}
	if rec, _ := env.p.orders.TryGetOrder("C1"); rec.State != NotSent {
		t.Errorf("state = %s, want not_sent", rec.State)
	}
}

func TestProvider_UnknownOrderEventsAreDropped(t *testing.T) {
	env := newTestEnv(t)
	env.run(SendEvent{Order: testOrder("C1", 10)})
	env.run(ack("C1", "P1"))
	before := len(env.sink.all())

	events := []Event{
		ack("X", "PX"),
		ReturnEvent{Field: ReturnField{Code: ReturnCancelled, ClOrdID: "X"}},
		ReturnEvent{Field: ReturnField{Code: ReturnRejected, ClOrdID: "X", ErrorCode: 1}},
		ReturnEvent{Field: ReturnField{Code: ReturnPendingCancel, ClOrdID: "X"}},
		ReturnEvent{Field: ReturnField{Code: ReturnCancelReject, ClOrdID: "X"}},
		ReturnEvent{Field: ReturnField{Code: ReturnCancelled, ProviderOrderID: "unknown"}},
		fill("X", "T1", 1, "100"),
		TradeEvent{Field: TradeField{ProviderOrderID: "unknown", TradeID: "T2", Side: SideBuy, Qty: 1, Price: px("1")}},
	}
	for _, ev := range events {
		env.run(ev)
	}

	if got := len(env.sink.all()); got != before {
		t.Errorf("unknown-order events produced %d reports", got-before)
	}
	if len(env.p.tradeKeys) != 0 {
		t.Errorf("trade keys recorded for unknown orders: %v", env.p.tradeKeys)
	}
	rec, _ := env.p.orders.TryGetOrder("C1")
	if env.p.orders.Len() != 1 || rec.CumQty != 0 || rec.Status != StatusNew {
		t.Errorf("tracked order mutated: %+v", rec)
	}
	if len(env.sink.providerErrors()) != 0 {
		t.Errorf("unknown ids should not be errors: %v", env.sink.providerErrors())
	}
}

func TestProvider_UnknownReturnCodeIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.run(SendEvent{Order: testOrder("C1", 10)})
	env.run(ReturnEvent{Field: ReturnField{Code: ReturnCode(0xEE), ClOrdID: "C1", ProviderOrderID: "P1"}})
	env.run(ReturnEvent{Field: ReturnField{Code: ReturnTrade, ClOrdID: "C1", ProviderOrderID: "P1"}})

	if len(env.sink.all()) != 0 || len(env.sink.providerErrors()) != 0 {
		t.Errorf("unrecognized codes produced output: %v %v", env.sink.all(), env.sink.providerErrors())
	}
}

func TestProvider_ResolvesTradesByProviderID(t *testing.T) {
	env := newTestEnv(t)
	env.run(SendEvent{Order: testOrder("C1", 10)})
	env.run(ack("C1", "P1"))
	env.run(TradeEvent{Field: TradeField{ProviderOrderID: "P1", TradeID: "T1", Side: SideBuy, Qty: 3, Price: px("99")}})

	rec, _ := env.p.orders.TryGetOrder("C1")
	if rec.CumQty != 3 {
		t.Errorf("cum = %d, want 3", rec.CumQty)
	}
}

func TestProvider_DuplicateTradeIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.run(SendEvent{Order: testOrder("C1", 10)})
	env.run(ack("C1", "P1"))
	env.run(fill("C1", "T1", 4, "100"))
	env.run(fill("C1", "T1", 4, "100"))

	rec, _ := env.p.orders.TryGetOrder("C1")
	if rec.CumQty != 4 {
		t.Errorf("duplicate fill applied: cum = %d", rec.CumQty)
	}
	if n := len(env.sink.all()); n != 2 {
		t.Errorf("got %d reports, want 2", n)
	}
}

func TestProvider_Commission(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		want     string
	}{
		{"zero uses lookup", "0", "0.5"},
		{"below epsilon uses lookup", "0.0000000001", "0.5"},
		{"reported is kept", "1.25", "1.25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.run(SendEvent{Order: testOrder("C1", 10)})
			env.run(ack("C1", "P1"))
			ev := fill("C1", "T1", 1, "100")
			ev.Field.Commission = px(tt.incoming)
			env.run(ev)

			reports := env.sink.all()
			got := reports[len(reports)-1].Commission
			if !got.Equal(px(tt.want)) {
				t.Errorf("commission = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProvider_TransactTimeAnchoring(t *testing.T) {
	tradingDay := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{
			name: "same date kept",
			at:   time.Date(2026, 3, 10, 14, 5, 1, 500, time.UTC),
			want: time.Date(2026, 3, 10, 14, 5, 1, 500, time.UTC),
		},
		{
			name: "night session after midnight re-anchored",
			at:   time.Date(2026, 3, 11, 1, 15, 0, 0, time.UTC),
			want: time.Date(2026, 3, 10, 1, 15, 0, 0, time.UTC),
		},
		{
			name: "previous evening re-anchored",
			at:   time.Date(2026, 3, 9, 21, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.p.SetTradingDay(tradingDay)
			env.run(SendEvent{Order: testOrder("C1", 10)})
			env.run(ack("C1", "P1"))
			ev := fill("C1", "T1", 1, "100")
			ev.Field.Time = tt.at
			env.run(ev)

			reports := env.sink.all()
			if got := reports[len(reports)-1].TransactTime; !got.Equal(tt.want) {
				t.Errorf("transact time = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProvider_CancelUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	env.run(CancelEvent{Order: testOrder("C3", 5)})

	if n := len(env.conn.cancelled()); n != 0 {
		t.Fatalf("connection received %d cancels for an unknown order", n)
	}
	reports := env.sink.all()
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]
	if r.ExecType != ExecCancelRejected || r.ClOrdID != "C3" || r.Text != ReasonOrderNotFound {
		t.Errorf("cancel reject = %+v", r)
	}
	if env.p.orders.OrderExists("C3") {
		t.Error("cancel of unknown order created a record")
	}
}

func TestProvider_CancelRefusedByConnectionUsesTrackedRecord(t *testing.T) {
	env := newTestEnv(t)
	env.run(SendEvent{Order: testOrder("C1", 10)})
	env.run(ack("C1", "P1"))
	env.run(fill("C1", "T1", 4, "100"))

	env.conn.cancelErr = errors.New("market closed")
	env.run(CancelEvent{Order: Order{ClOrdID: "C1"}})

	reports := env.sink.all()
	r := reports[len(reports)-1]
	if r.ExecType != ExecCancelRejected || r.Text != "market closed" {
		t.Fatalf("report = %+v", r)
	}
	if r.CumQty != 4 || r.LeavesQty != 6 || r.OrdStatus != StatusPartiallyFilled || r.OrderID != "P1" {
		t.Errorf("cancel reject lost tracked state: %+v", r)
	}
	if c := env.conn.cancelled(); len(c) != 1 || c[0].ProviderOrderID != "P1" {
		t.Errorf("cancel requests = %+v", c)
	}
}

func TestProvider_CancelConfirmed(t *testing.T) {
	env := newTestEnv(t)
	env.run(SendEvent{Order: testOrder("C1", 10)})
	env.run(ack("C1", "P1"))
	env.run(CancelEvent{Order: Order{ClOrdID: "C1"}})

	if n := len(env.sink.all()); n != 1 {
		t.Fatalf("accepted cancel should not report until the exchange answers, got %d reports", n)
	}

	env.run(ReturnEvent{Field: ReturnField{Code: ReturnPendingCancel, ClOrdID: "C1"}})
	env.run(ReturnEvent{Field: ReturnField{Code: ReturnCancelled, ClOrdID: "C1", Text: "user cancel"}})

	reports := env.sink.all()
	if reports[1].ExecType != ExecPendingCancel || reports[1].OrdStatus != StatusPendingCancel {
		t.Errorf("pending cancel report = %+v", reports[1])
	}
	last := reports[2]
	if last.ExecType != ExecCanceled || last.OrdStatus != StatusCanceled || last.LeavesQty != 10 || last.Text != "user cancel" {
		t.Errorf("cancel report = %+v", last)
	}
	if env.p.orders.OrderExists("C1") {
		t.Error("cancelled order still tracked")
	}
}

func TestProvider_CancelRejectFromExchangeRestoresStatus(t *testing.T) {
	env := newTestEnv(t)
	env.run(SendEvent{Order: testOrder("C1", 10)})
	env.run(ack("C1", "P1"))
	env.run(fill("C1", "T1", 2, "100"))
	env.run(ReturnEvent{Field: ReturnField{Code: ReturnPendingCancel, ClOrdID: "C1"}})
	env.run(ReturnEvent{Field: ReturnField{Code: ReturnCancelReject, ClOrdID: "C1", Text: "too late", ErrorCode: 26}})

	reports := env.sink.all()
	r := reports[len(reports)-1]
	if r.ExecType != ExecCancelRejected || r.OrdStatus != StatusPartiallyFilled || r.CumQty != 2 || r.ErrorCode != 26 {
		t.Errorf("cancel reject = %+v", r)
	}
	if !env.p.orders.OrderExists("C1") {
		t.Error("cancel reject removed the order")
	}
}

func TestProvider_RejectCarriesErrorCodes(t *testing.T) {
	env := newTestEnv(t)
	env.run(SendEvent{Order: testOrder("C1", 10)})
	env.run(ReturnEvent{Field: ReturnField{Code: ReturnRejected, ClOrdID: "C1", Text: "insufficient margin", ErrorCode: 31, RawErrorCode: -2031}})

	reports := env.sink.all()
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]
	if r.ExecType != ExecRejected || r.OrdStatus != StatusRejected || r.ErrorCode != 31 || r.RawErrorCode != -2031 || r.Text != "insufficient margin" {
		t.Errorf("reject report = %+v", r)
	}
	if env.p.orders.OrderExists("C1") {
		t.Error("rejected order still tracked")
	}
}

func TestProvider_DuplicateSendRejected(t *testing.T) {
	env := newTestEnv(t)
	env.run(SendEvent{Order: testOrder("C1", 10)})
	env.run(SendEvent{Order: testOrder("C1", 20)})

	if n := len(env.conn.sent()); n != 1 {
		t.Errorf("connection received %d sends, want 1", n)
	}
	errs := env.sink.providerErrors()
	if len(errs) != 1 || errs[0].code != ErrCodeDuplicateOrder {
		t.Fatalf("provider errors = %v, want one duplicate-order error", errs)
	}
	rec, _ := env.p.orders.TryGetOrder("C1")
	if rec.Order.Qty != 10 {
		t.Errorf("duplicate send overwrote record: qty=%d", rec.Order.Qty)
	}
}

func TestProvider_SendUsesSymbolResolver(t *testing.T) {
	env := newTestEnv(t)
	env.p.symbols = mapSymbols{"IF2604": {"IF2604", "CFFEX"}}

	env.run(SendEvent{Order: testOrder("C1", 10)})
	sent := env.conn.sent()
	if len(sent) != 1 || sent[0].SymbolCode != "IF2604" || sent[0].ExchangeCode != "CFFEX" || sent[0].Qty != 10 {
		t.Errorf("order request = %+v", sent)
	}

	unknown := testOrder("C2", 1)
	unknown.Symbol = "ZZZ"
	env.run(SendEvent{Order: unknown})
	errs := env.sink.providerErrors()
	if len(errs) != 1 || errs[0].code != ErrCodeSendFailed {
		t.Errorf("provider errors = %v, want one send failure", errs)
	}
	if rec, ok := env.p.orders.TryGetOrder("C2"); !ok || rec.State != NotSent {
		t.Error("order with unresolvable symbol should stay not-sent")
	}
}

func TestProvider_SendFailureKeepsOrderNotSent(t *testing.T) {
	env := newTestEnv(t)
	env.conn.sendErr = errors.New("link down")
	env.run(SendEvent{Order: testOrder("C1", 10)})

	errs := env.sink.providerErrors()
	if len(errs) != 1 || errs[0].code != ErrCodeSendFailed {
		t.Fatalf("provider errors = %v", errs)
	}
	if len(env.p.orders.GetNoSend()) != 1 {
		t.Error("failed send should remain in the not-sent set")
	}
}

type panicConn struct{ fakeConn }

func (c *panicConn) SendOrder(context.Context, OrderRequest) error { panic("boom") }

func TestProvider_HandlerPanicDoesNotStopConsumer(t *testing.T) {
	sink := &captureSink{}
	p := NewProvider(Config{Connection: &panicConn{}, Sink: sink})
	if err := p.Open(); err != nil {
		t.Fatal(err)
	}
	if err := p.PostSend(testOrder("C1", 1)); err != nil {
		t.Fatal(err)
	}
	if err := p.PostCancel(Order{ClOrdID: "C9"}); err != nil {
		t.Fatal(err)
	}
	p.Close()

	errs := sink.providerErrors()
	if len(errs) != 1 || errs[0].code != ErrCodeHandlerFailure {
		t.Errorf("provider errors = %v, want one handler failure", errs)
	}
	if reports := sink.all(); len(reports) != 1 || reports[0].ExecType != ExecCancelRejected {
		t.Errorf("event after the panic was not handled: %v", reports)
	}
}

func TestProvider_PostLifecycle(t *testing.T) {
	env := newTestEnv(t)
	if err := env.p.PostSend(testOrder("C1", 1)); err == nil {
		t.Error("post before open should fail")
	}
	if err := env.p.PostSend(Order{Qty: 1}); err == nil {
		t.Error("post with empty id should fail")
	}
	if err := env.p.Open(); err != nil {
		t.Fatal(err)
	}
	if err := env.p.PostSend(testOrder("C1", 0)); err == nil {
		t.Error("post with zero quantity should fail")
	}
	env.p.Close()
	env.p.Close()
	if err := env.p.PostTrade(TradeField{}); err == nil {
		t.Error("post after close should fail")
	}
}

func TestProvider_QueuedScenario(t *testing.T) {
	env := newTestEnv(t)
	if err := env.p.Open(); err != nil {
		t.Fatal(err)
	}

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(env.p.PostSend(testOrder("C1", 10)))
	must(env.p.PostReturn(ack("C1", "P1").Field))
	must(env.p.PostTrade(fill("C1", "T1", 4, "100").Field))

	book, err := env.p.Snapshot(context.Background())
	must(err)
	if len(book) != 1 || book[0].CumQty != 4 || book[0].State != Live {
		t.Errorf("snapshot = %+v", book)
	}

	must(env.p.PostTrade(fill("C1", "T2", 6, "102").Field))
	env.p.Close()

	reports := env.sink.all()
	if len(reports) != 3 || reports[2].OrdStatus != StatusFilled || !reports[2].AvgPx.Equal(px("101.2")) {
		t.Errorf("reports = %+v", reports)
	}
	if _, err := env.p.Snapshot(context.Background()); err == nil {
		t.Error("snapshot after close should fail")
	}
}

func TestProvider_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	env := newTestEnv(t)
	if err := env.p.Open(); err != nil {
		t.Fatal(err)
	}

	const producers, perProducer = 6, 40
	var wg sync.WaitGroup
	for g := 0; g < producers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 1; i <= perProducer; i++ {
				id := fmt.Sprintf("G%d-%03d", g, i)
				if err := env.p.PostSend(testOrder(id, 1)); err != nil {
					t.Errorf("post: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	env.p.Close()

	sent := env.conn.sent()
	if len(sent) != producers*perProducer {
		t.Fatalf("sent %d orders, want %d", len(sent), producers*perProducer)
	}
	last := map[byte]string{}
	for _, req := range sent {
		g := req.ClOrdID[1]
		if req.ClOrdID <= last[g] {
			t.Fatalf("producer %c out of order: %s after %s", g, req.ClOrdID, last[g])
		}
		last[g] = req.ClOrdID
	}
}

func TestProvider_NextClOrdIDSkipsObservedIDs(t *testing.T) {
	env := newTestEnv(t)
	if got := env.p.NextClOrdID(); got != "C1" {
		t.Errorf("first id = %s, want C1", got)
	}
	env.run(SendEvent{Order: testOrder("C41", 1)})
	if got := env.p.NextClOrdID(); got != "C42" {
		t.Errorf("id after C41 = %s, want C42", got)
	}
	env.run(SendEvent{Order: testOrder("C7", 1)})
	if got := env.p.NextClOrdID(); got != "C43" {
		t.Errorf("lower suffix moved the sequence back: %s", got)
	}
}

func TestProvider_PostSendReservesClientID(t *testing.T) {
	env := newTestEnv(t)
	if err := env.p.Open(); err != nil {
		t.Fatal(err)
	}
	defer env.p.Close()

	if err := env.p.PostSend(testOrder("C41", 1)); err != nil {
		t.Fatal(err)
	}
	// the consumer may not have handled C41 yet
	if got := env.p.NextClOrdID(); got != "C42" {
		t.Errorf("id issued after posting C41 = %s, want C42", got)
	}
}

func TestNumericSuffix(t *testing.T) {
	tests := []struct {
		id   string
		want uint64
		ok   bool
	}{
		{"C2", 2, true},
		{"ORD-000123", 123, true},
		{"42", 42, true},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := numericSuffix(tt.id)
		if got != tt.want || ok != tt.ok {
			t.Errorf("numericSuffix(%q) = %d,%v want %d,%v", tt.id, got, ok, tt.want, tt.ok)
		}
	}
}
