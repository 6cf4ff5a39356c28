package market

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/events"
	"github.com/ahmedhalloub17/tradingbot/pkg/cache"
)

// ErrFeedNotConfigured is returned when a feed is started without its
// required collaborators.
var ErrFeedNotConfigured = errors.New("market feed not configured")

// FetchFunc retrieves the most recent candles for a pair. It matches the
// exchange client's candle fetcher so feeds stay decoupled from the client
// package.
type FetchFunc func(ctx context.Context, pair, timeframe string, limit int) ([]Candle, error)

// PollFeed polls candles on timeframe boundaries and publishes each newly
// closed candle exactly once per pair.
type PollFeed struct {
	Fetch     FetchFunc
	Bus       *events.Bus
	Cache     *cache.PriceCache
	Pairs     []string
	Timeframe string
	Log       *zap.Logger

	cancel context.CancelFunc
}

// Start validates configuration and launches the polling loop.
func (f *PollFeed) Start(ctx context.Context) error {
	if f.Fetch == nil || f.Bus == nil || len(f.Pairs) == 0 {
		return ErrFeedNotConfigured
	}
	if f.Log == nil {
		f.Log = zap.NewNop()
	}
	interval, err := ParseTimeframe(f.Timeframe)
	if err != nil {
		return err
	}

	ctx, f.cancel = context.WithCancel(ctx)
	go f.run(ctx, interval)

	f.Log.Info("poll feed started",
		zap.Strings("pairs", f.Pairs),
		zap.String("timeframe", f.Timeframe))
	return nil
}

// Stop halts polling.
func (f *PollFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *PollFeed) run(ctx context.Context, interval time.Duration) {
	// Wake shortly after each timeframe boundary so the venue has sealed the
	// candle we are about to fetch.
	const grace = 2 * time.Second
	lastPublished := make(map[string]int64, len(f.Pairs))

	for {
		next := time.Now().Truncate(interval).Add(interval + grace)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		for _, pair := range f.Pairs {
			candles, err := f.Fetch(ctx, pair, f.Timeframe, 2)
			if err != nil {
				f.Log.Warn("candle fetch failed",
					zap.String("pair", pair), zap.Error(err))
				continue
			}
			if len(candles) < 2 {
				continue
			}
			// The last element is the still-forming candle; the one before it
			// is the latest closed bar.
			closed := candles[len(candles)-2]
			if closed.OpenTime <= lastPublished[pair] {
				continue
			}
			lastPublished[pair] = closed.OpenTime
			if f.Cache != nil {
				f.Cache.Set(pair, closed.Close)
			}
			f.Bus.Publish(events.EventCandleClose, closed)
		}
	}
}
