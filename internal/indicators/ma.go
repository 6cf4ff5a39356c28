package indicators

// emaState computes an exponential moving average seeded with the simple
// average of the first period values, then smoothed with k = 2/(period+1).
type emaState struct {
	period int
	seen   int
	sum    float64 // seed accumulator
	value  float64
}

func newEMAState(period int) *emaState {
	return &emaState{period: period}
}

func (s *emaState) update(v float64) {
	s.seen++
	if s.seen < s.period {
		s.sum += v
		return
	}
	if s.seen == s.period {
		s.value = (s.sum + v) / float64(s.period)
		return
	}
	k := 2.0 / float64(s.period+1)
	s.value += (v - s.value) * k
}

func (s *emaState) ready() bool {
	return s.seen >= s.period
}
