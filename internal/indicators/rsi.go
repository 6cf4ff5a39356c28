package indicators

// rsiState computes RSI with Wilder smoothing: the first average gain/loss is
// the simple mean over the first period deltas, every later one is
// (prev*(period-1)+current)/period.
type rsiState struct {
	period    int
	seen      int // closes consumed
	prevClose float64
	avgGain   float64
	avgLoss   float64
}

func newRSIState(period int) *rsiState {
	return &rsiState{period: period}
}

func (s *rsiState) update(close float64) {
	s.seen++
	if s.seen == 1 {
		s.prevClose = close
		return
	}

	change := close - s.prevClose
	s.prevClose = close
	var gain, loss float64
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	deltas := s.seen - 1
	switch {
	case deltas < s.period:
		s.avgGain += gain
		s.avgLoss += loss
	case deltas == s.period:
		s.avgGain = (s.avgGain + gain) / float64(s.period)
		s.avgLoss = (s.avgLoss + loss) / float64(s.period)
	default:
		s.avgGain = (s.avgGain*float64(s.period-1) + gain) / float64(s.period)
		s.avgLoss = (s.avgLoss*float64(s.period-1) + loss) / float64(s.period)
	}
}

func (s *rsiState) ready() bool {
	return s.seen-1 >= s.period
}

func (s *rsiState) value() float64 {
	if s.avgLoss == 0 {
		if s.avgGain == 0 {
			return 50 // flat window, no direction
		}
		return 100
	}
	rs := s.avgGain / s.avgLoss
	return 100 - 100/(1+rs)
}
