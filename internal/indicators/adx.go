package indicators

import "math"

// adxState computes the average directional index: Wilder-smoothed
// +DM/−DM/TR form the directional indicators, their spread forms DX, and ADX
// is the Wilder-smoothed DX. Ready after roughly two periods of candles.
type adxState struct {
	period int
	seen   int // candles consumed

	prevHigh  float64
	prevLow   float64
	prevClose float64

	smTR      float64
	smPlusDM  float64
	smMinusDM float64

	dxCount int
	dxSum   float64
	value   float64
}

func newADXState(period int) *adxState {
	return &adxState{period: period}
}

func (s *adxState) update(high, low, close float64) {
	s.seen++
	if s.seen == 1 {
		s.prevHigh, s.prevLow, s.prevClose = high, low, close
		return
	}

	upMove := high - s.prevHigh
	downMove := s.prevLow - low
	var plusDM, minusDM float64
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	tr := trueRange(high, low, s.prevClose)
	s.prevHigh, s.prevLow, s.prevClose = high, low, close

	n := s.seen - 1 // DM/TR samples consumed
	if n < s.period {
		s.smTR += tr
		s.smPlusDM += plusDM
		s.smMinusDM += minusDM
		return
	}
	if n == s.period {
		s.smTR += tr
		s.smPlusDM += plusDM
		s.smMinusDM += minusDM
	} else {
		s.smTR += tr - s.smTR/float64(s.period)
		s.smPlusDM += plusDM - s.smPlusDM/float64(s.period)
		s.smMinusDM += minusDM - s.smMinusDM/float64(s.period)
	}

	var plusDI, minusDI float64
	if s.smTR != 0 {
		plusDI = 100 * s.smPlusDM / s.smTR
		minusDI = 100 * s.smMinusDM / s.smTR
	}
	dx := 0.0
	if sum := plusDI + minusDI; sum != 0 {
		dx = 100 * math.Abs(plusDI-minusDI) / sum
	}

	s.dxCount++
	switch {
	case s.dxCount < s.period:
		s.dxSum += dx
	case s.dxCount == s.period:
		s.value = (s.dxSum + dx) / float64(s.period)
	default:
		s.value = (s.value*float64(s.period-1) + dx) / float64(s.period)
	}
}

func (s *adxState) ready() bool {
	return s.dxCount >= s.period
}
