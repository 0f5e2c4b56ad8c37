package sim

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/ordergate/pkg/oms"
)

var ErrUnknownSymbol = errors.New("unknown symbol")

// SymbolTable maps an instrument to the exchange it trades on. The symbol
// code sent to the exchange is the instrument itself.
type SymbolTable map[string]string

func (t SymbolTable) GetSymbolInfo(symbol string) (string, string, error) {
	exch, ok := t[symbol]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return symbol, exch, nil
}

// BpsCommission charges a flat rate in basis points of fill notional.
type BpsCommission struct {
	Bps int64
}

func (c BpsCommission) GetCommission(rep oms.ExecutionReport) decimal.Decimal {
	notional := rep.LastPx.Mul(decimal.NewFromInt(rep.LastQty))
	return notional.Mul(decimal.New(c.Bps, -4))
}

var (
	_ oms.SymbolResolver   = SymbolTable(nil)
	_ oms.CommissionLookup = BpsCommission{}
)
