package oms

// EventKind discriminates the variants carried by the provider's queue.
type EventKind uint8

const (
	KindSend EventKind = iota
	KindCancel
	KindReturn
	KindTrade
	KindResend
	KindSnapshot
)

func (k EventKind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindCancel:
		return "cancel"
	case KindReturn:
		return "return"
	case KindTrade:
		return "trade"
	case KindResend:
		return "resend"
	case KindSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Event is a sealed tagged variant; each implementation carries exactly one
// payload. Order-side variants come from local commands, exchange-side
// variants from the exchange callback layer.
type Event interface {
	Kind() EventKind
	isEvent()
}

type SendEvent struct{ Order Order }
type CancelEvent struct{ Order Order }
type ReturnEvent struct{ Field ReturnField }
type TradeEvent struct{ Field TradeField }

type resendEvent struct{}

type snapshotEvent struct {
	reply chan []OrderRecord
}

func (SendEvent) Kind() EventKind     { return KindSend }
func (CancelEvent) Kind() EventKind   { return KindCancel }
func (ReturnEvent) Kind() EventKind   { return KindReturn }
func (TradeEvent) Kind() EventKind    { return KindTrade }
func (resendEvent) Kind() EventKind   { return KindResend }
func (snapshotEvent) Kind() EventKind { return KindSnapshot }

func (SendEvent) isEvent()     {}
func (CancelEvent) isEvent()   {}
func (ReturnEvent) isEvent()   {}
func (TradeEvent) isEvent()    {}
func (resendEvent) isEvent()   {}
func (snapshotEvent) isEvent() {}
