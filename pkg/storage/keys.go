package storage

import "fmt"

// Key schema, all scoped by connection id:
//
//   ord:<conn>:<clOrdID>   → HistoricalOrder
//   mr:<conn>:<seq>        → buffered ReturnField
//   mt:<conn>:<seq>        → buffered TradeField
//   tk:<conn>:<tradeKey>   → processed trade marker
//
// seq is zero-padded (20 digits) so iteration order is arrival order.
const (
	prefixOrder       = "ord:"
	prefixMissedRet   = "mr:"
	prefixMissedTrade = "mt:"
	prefixTradeKey    = "tk:"
)

func orderKey(conn, clOrdID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, conn, clOrdID))
}

func orderPrefix(conn string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, conn))
}

func missedReturnKey(conn string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixMissedRet, conn, seq))
}

func missedReturnPrefix(conn string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixMissedRet, conn))
}

func missedTradeKey(conn string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixMissedTrade, conn, seq))
}

func missedTradePrefix(conn string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixMissedTrade, conn))
}

func tradeMarkerKey(conn, tradeKey string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixTradeKey, conn, tradeKey))
}

func tradeMarkerPrefix(conn string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTradeKey, conn))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
