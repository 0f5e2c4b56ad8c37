package oms

// MultiSink fans every report and error out to each sink in order.
type MultiSink []Sink

func (m MultiSink) OnMessage(report ExecutionReport) {
	for _, s := range m {
		s.OnMessage(report)
	}
}

func (m MultiSink) OnProviderError(code int, msg string) {
	for _, s := range m {
		s.OnProviderError(code, msg)
	}
}

type NopSink struct{}

func (NopSink) OnMessage(ExecutionReport)   {}
func (NopSink) OnProviderError(int, string) {}

// SinkFuncs adapts plain functions to a Sink. Nil fields are ignored.
type SinkFuncs struct {
	Message func(ExecutionReport)
	Error   func(code int, msg string)
}

func (f SinkFuncs) OnMessage(report ExecutionReport) {
	if f.Message != nil {
		f.Message(report)
	}
}

func (f SinkFuncs) OnProviderError(code int, msg string) {
	if f.Error != nil {
		f.Error(code, msg)
	}
}
