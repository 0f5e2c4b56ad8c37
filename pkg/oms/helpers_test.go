package oms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/ordergate/pkg/util"
)

var testNow = time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)

type fakeConn struct {
	mu        sync.Mutex
	sends     []OrderRequest
	cancels   []CancelRequest
	sendErr   error
	cancelErr error
}

func (c *fakeConn) SendOrder(_ context.Context, req OrderRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sends = append(c.sends, req)
	return nil
}

func (c *fakeConn) CancelOrder(_ context.Context, req CancelRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, req)
	return c.cancelErr
}

func (c *fakeConn) sent() []OrderRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OrderRequest(nil), c.sends...)
}

func (c *fakeConn) cancelled() []CancelRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CancelRequest(nil), c.cancels...)
}

type providerErr struct {
	code int
	msg  string
}

type captureSink struct {
	mu      sync.Mutex
	reports []ExecutionReport
	errs    []providerErr
}

func (s *captureSink) OnMessage(r ExecutionReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

func (s *captureSink) OnProviderError(code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, providerErr{code, msg})
}

func (s *captureSink) all() []ExecutionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExecutionReport(nil), s.reports...)
}

func (s *captureSink) providerErrors() []providerErr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]providerErr(nil), s.errs...)
}

type fixedCommission decimal.Decimal

func (c fixedCommission) GetCommission(ExecutionReport) decimal.Decimal { return decimal.Decimal(c) }

type mapSymbols map[string][2]string

func (m mapSymbols) GetSymbolInfo(symbol string) (string, string, error) {
	v, ok := m[symbol]
	if !ok {
		return "", "", errors.New("unknown symbol")
	}
	return v[0], v[1], nil
}

type testEnv struct {
	p    *Provider
	conn *fakeConn
	sink *captureSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := &fakeConn{}
	sink := &captureSink{}
	p := NewProvider(Config{
		ConnectionID: "conn-1",
		OrderPrefix:  "C",
		Connection:   conn,
		Sink:         sink,
		Commission:   fixedCommission(decimal.RequireFromString("0.5")),
		Clock:        util.FixedClock{T: testNow},
	})
	return &testEnv{p: p, conn: conn, sink: sink}
}

// run handles ev synchronously the way the consumer goroutine would.
func (e *testEnv) run(ev Event) {
	e.p.dispatch(ev)
}

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testOrder(id string, qty int64) Order {
	return Order{
		ClOrdID: id,
		Account: "acct-1",
		Symbol:  "IF2604",
		Side:    SideBuy,
		Type:    OrderTypeLimit,
		Price:   px("100"),
		Qty:     qty,
	}
}

func ack(id, providerID string) ReturnEvent {
	return ReturnEvent{Field: ReturnField{Code: ReturnNew, ClOrdID: id, ProviderOrderID: providerID, Time: testNow}}
}

func fill(id, tradeID string, qty int64, price string) TradeEvent {
	return TradeEvent{Field: TradeField{ClOrdID: id, TradeID: tradeID, Side: SideBuy, Qty: qty, Price: px(price), Time: testNow}}
}
