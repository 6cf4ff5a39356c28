// Package market carries candle data types and the feeds that deliver them.
package market

import (
	"fmt"
	"strconv"
	"time"
)

// Candle is one OHLCV bar for a trading pair. OpenTime is milliseconds since
// the Unix epoch; candles for a pair arrive strictly ordered by OpenTime.
type Candle struct {
	Pair     string  `json:"pair"`
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Time returns the candle open time in UTC.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// ParseTimeframe converts a timeframe token such as "1m", "4h" or "1d" into
// its duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
}
