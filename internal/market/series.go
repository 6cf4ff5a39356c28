package market

import (
	"errors"
	"fmt"
)

// ErrOutOfOrder is returned when a candle set is not strictly ascending by
// open time.
var ErrOutOfOrder = errors.New("candles out of order")

// Series is an ordered in-memory candle history traversed by offset, so a
// replay can be restarted without reloading.
type Series struct {
	pair    string
	candles []Candle
	offset  int
}

// NewSeries validates ordering and wraps the candles. The slice is retained,
// not copied.
func NewSeries(pair string, candles []Candle) (*Series, error) {
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime <= candles[i-1].OpenTime {
			return nil, fmt.Errorf("%w: index %d (%d after %d)",
				ErrOutOfOrder, i, candles[i].OpenTime, candles[i-1].OpenTime)
		}
	}
	return &Series{pair: pair, candles: candles}, nil
}

// Pair returns the trading pair the series belongs to.
func (s *Series) Pair() string { return s.pair }

// Len returns the total number of candles.
func (s *Series) Len() int { return len(s.candles) }

// Next returns the candle at the current offset and advances. The second
// return is false once the series is exhausted.
func (s *Series) Next() (Candle, bool) {
	if s.offset >= len(s.candles) {
		return Candle{}, false
	}
	c := s.candles[s.offset]
	s.offset++
	return c, true
}

// Reset rewinds the series to the beginning.
func (s *Series) Reset() { s.offset = 0 }
