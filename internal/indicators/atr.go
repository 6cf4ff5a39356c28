package indicators

import "math"

// atrState computes the Wilder-smoothed average true range.
type atrState struct {
	period    int
	seen      int // candles consumed
	prevClose float64
	sum       float64 // seed accumulator
	value     float64
}

func newATRState(period int) *atrState {
	return &atrState{period: period}
}

func (s *atrState) update(high, low, close float64) {
	s.seen++
	if s.seen == 1 {
		s.prevClose = close
		return
	}

	tr := trueRange(high, low, s.prevClose)
	s.prevClose = close

	n := s.seen - 1 // true ranges consumed
	switch {
	case n < s.period:
		s.sum += tr
	case n == s.period:
		s.value = (s.sum + tr) / float64(s.period)
	default:
		s.value = (s.value*float64(s.period-1) + tr) / float64(s.period)
	}
}

func (s *atrState) ready() bool {
	return s.seen-1 >= s.period
}

func trueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if d := math.Abs(high - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(low - prevClose); d > tr {
		tr = d
	}
	return tr
}
