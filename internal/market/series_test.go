package market

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func makeCandles(n int) []Candle {
	candles := make([]Candle, n)
	for i := 0; i < n; i++ {
		candles[i] = Candle{
			Pair:     "BTCUSDT",
			OpenTime: int64(i+1) * 60_000,
			Open:     100,
			High:     101,
			Low:      99,
			Close:    100.5,
			Volume:   10,
		}
	}
	return candles
}

func TestSeriesTraversal(t *testing.T) {
	s, err := NewSeries("BTCUSDT", makeCandles(3))
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}

	var seen int
	for {
		c, ok := s.Next()
		if !ok {
			break
		}
		seen++
		if c.OpenTime != int64(seen)*60_000 {
			t.Fatalf("candle %d open time = %d", seen, c.OpenTime)
		}
	}
	if seen != 3 {
		t.Fatalf("consumed %d candles, want 3", seen)
	}

	s.Reset()
	c, ok := s.Next()
	if !ok || c.OpenTime != 60_000 {
		t.Fatalf("Next after Reset = (%d, %v), want the first candle again", c.OpenTime, ok)
	}
}

func TestSeriesRejectsDisorder(t *testing.T) {
	candles := makeCandles(3)
	candles[2].OpenTime = candles[1].OpenTime // duplicate timestamp

	if _, err := NewSeries("BTCUSDT", candles); err == nil {
		t.Fatal("expected ordering error")
	}
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1m", time.Minute, false},
		{"15m", 15 * time.Minute, false},
		{"4h", 4 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"", 0, true},
		{"h", 0, true},
		{"0m", 0, true},
		{"10x", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeframe(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTimeframe(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeframe(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseTimeframe(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "candles.csv")
	content := "time,open,high,low,close,volume\n" +
		"1700000000,100,105,95,102,10\n" +
		"1700000060,102,106,101,104,12\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	candles, err := LoadCSV(path, "ETHUSDT")
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("loaded %d candles, want 2", len(candles))
	}
	if candles[0].Pair != "ETHUSDT" {
		t.Fatalf("pair = %s", candles[0].Pair)
	}
	// Epoch seconds must be promoted to milliseconds.
	if candles[0].OpenTime != 1700000000_000 {
		t.Fatalf("open time = %d", candles[0].OpenTime)
	}
	if candles[1].Close != 104 {
		t.Fatalf("close = %v", candles[1].Close)
	}
}

func TestLoadCSVRejectsBadRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	content := "1700000000,100,105,95,not-a-number,10\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := LoadCSV(path, "BTCUSDT"); err == nil {
		t.Fatal("expected parse error")
	}
}
