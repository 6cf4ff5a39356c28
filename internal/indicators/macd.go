package indicators

// macdState computes the MACD line (fast EMA − slow EMA), its signal line
// (EMA of the MACD line) and per-candle crossover flags.
type macdState struct {
	fast   *emaState
	slow   *emaState
	signal *emaState

	prevLine   float64
	prevSignal float64
	prevReady  bool

	crossUp   bool
	crossDown bool
}

func newMACDState(fast, slow, signal int) *macdState {
	return &macdState{
		fast:   newEMAState(fast),
		slow:   newEMAState(slow),
		signal: newEMAState(signal),
	}
}

func (s *macdState) update(close float64) {
	s.fast.update(close)
	s.slow.update(close)
	s.crossUp, s.crossDown = false, false

	if !s.slow.ready() {
		return
	}
	line := s.fast.value - s.slow.value
	s.signal.update(line)
	if !s.signal.ready() {
		return
	}

	sig := s.signal.value
	if s.prevReady {
		if s.prevLine <= s.prevSignal && line > sig {
			s.crossUp = true
		}
		if s.prevLine >= s.prevSignal && line < sig {
			s.crossDown = true
		}
	}
	s.prevLine, s.prevSignal, s.prevReady = line, sig, true
}

func (s *macdState) ready() bool {
	return s.signal.ready()
}

func (s *macdState) value() MACDValue {
	line := s.fast.value - s.slow.value
	return MACDValue{
		Line:        line,
		Signal:      s.signal.value,
		Histogram:   line - s.signal.value,
		CrossedUp:   s.crossUp,
		CrossedDown: s.crossDown,
	}
}
