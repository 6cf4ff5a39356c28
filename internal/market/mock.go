package market

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/events"
	"github.com/ahmedhalloub17/tradingbot/pkg/cache"
)

// MockFeed generates synthetic random-walk candles for local development and
// paper trading without a venue connection.
type MockFeed struct {
	Bus        *events.Bus
	Cache      *cache.PriceCache
	Pairs      []string
	StartPrice float64
	Step       float64
	Interval   time.Duration
	Seed       int64
	Log        *zap.Logger

	cancel context.CancelFunc
}

// Start launches the candle generator. It returns immediately; candles are
// published on the bus until ctx is cancelled or Stop is called.
func (m *MockFeed) Start(ctx context.Context) error {
	if m.Bus == nil {
		return ErrFeedNotConfigured
	}
	if len(m.Pairs) == 0 {
		m.Pairs = []string{"BTCUSDT"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.Step == 0 {
		m.Step = 0.002
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	if m.Log == nil {
		m.Log = zap.NewNop()
	}

	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	last := make(map[string]float64, len(m.Pairs))
	for _, p := range m.Pairs {
		last[p] = m.StartPrice
	}

	ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				for _, pair := range m.Pairs {
					c := m.nextCandle(rng, pair, last[pair], now)
					last[pair] = c.Close
					if m.Cache != nil {
						m.Cache.Set(pair, c.Close)
					}
					m.Bus.Publish(events.EventCandleClose, c)
				}
			}
		}
	}()

	m.Log.Info("mock feed started",
		zap.Strings("pairs", m.Pairs),
		zap.Duration("interval", m.Interval))
	return nil
}

// Stop halts candle generation.
func (m *MockFeed) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// nextCandle advances the walk by a uniform fractional drift of up to
// ±Step per bar, with wicks extending up to half a Step past the body.
func (m *MockFeed) nextCandle(rng *rand.Rand, pair string, open float64, now time.Time) Candle {
	drift := (rng.Float64()*2 - 1) * m.Step
	close := open * (1 + drift)
	high := open
	low := open
	if close > high {
		high = close
	}
	if close < low {
		low = close
	}
	high *= 1 + rng.Float64()*m.Step/2
	low *= 1 - rng.Float64()*m.Step/2

	return Candle{
		Pair:     pair,
		OpenTime: now.Add(-m.Interval).UnixMilli(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    close,
		Volume:   100 + rng.Float64()*50,
	}
}
