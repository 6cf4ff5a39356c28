package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// LoadCSV reads candles for one pair from a CSV file with columns
// time,open,high,low,close,volume. The time column accepts epoch seconds or
// milliseconds; a header row is skipped automatically.
func LoadCSV(path, pair string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candle file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	var candles []Candle
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s line %d: %w", path, line+1, err)
		}
		line++

		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			if line == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("parse time %q at line %d: %w", rec[0], line, err)
		}
		// Epoch seconds are promoted to milliseconds.
		if ts < 1e12 {
			ts *= 1000
		}

		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("parse field %d at line %d: %w", i+1, line, err)
			}
			vals[i] = v
		}

		candles = append(candles, Candle{
			Pair:     pair,
			OpenTime: ts,
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles in %s", path)
	}
	return candles, nil
}
