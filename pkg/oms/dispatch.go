package oms

// ReturnHandler processes one exchange order-return payload.
type ReturnHandler func(ReturnField)

// DispatchTable maps every ReturnCode to a handler. Codes without a
// registered handler resolve to a no-op so that event types added to the
// exchange protocol later pass through without failing the pipeline.
type DispatchTable struct {
	handlers map[ReturnCode]ReturnHandler
	fallback ReturnHandler
}

// NewDispatchTable builds the table once; it is read-only afterwards.
func NewDispatchTable(handlers map[ReturnCode]ReturnHandler) *DispatchTable {
	t := &DispatchTable{
		handlers: make(map[ReturnCode]ReturnHandler, len(handlers)),
		fallback: func(ReturnField) {},
	}
	for code, h := range handlers {
		if h != nil {
			t.handlers[code] = h
		}
	}
	return t
}

// Lookup never returns nil.
func (t *DispatchTable) Lookup(code ReturnCode) ReturnHandler {
	if h, ok := t.handlers[code]; ok {
		return h
	}
	return t.fallback
}

// Known reports whether code has a registered handler.
func (t *DispatchTable) Known(code ReturnCode) bool {
	_, ok := t.handlers[code]
	return ok
}

func (t *DispatchTable) Dispatch(f ReturnField) {
	t.Lookup(f.Code)(f)
}
