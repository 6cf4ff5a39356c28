package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ahmedhalloub17/tradingbot/internal/market"
	"github.com/ahmedhalloub17/tradingbot/pkg/cache"
)

// HistoryFunc supplies historical candles to the paper venue.
type HistoryFunc func(ctx context.Context, pair, timeframe string, limit int) ([]market.Candle, error)

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	// InitialBalance is the venue-side starting cash.
	InitialBalance float64 `yaml:"initial_balance"`
	// FeeBps is the taker fee in basis points of filled notional.
	FeeBps float64 `yaml:"fee_bps"`
	// SlippageBps is the worst-case adverse fill slippage in basis points.
	SlippageBps float64 `yaml:"slippage_bps"`
	// LatencyMinMs/LatencyMaxMs bound the simulated gateway latency.
	// Both zero disables the sleep entirely.
	LatencyMinMs int `yaml:"latency_min_ms"`
	LatencyMaxMs int `yaml:"latency_max_ms"`
	// FailRate injects transient failures with the given probability.
	FailRate float64 `yaml:"fail_rate"`
	// RequestsPerSec paces outbound calls. Zero disables pacing.
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	// MaxMarkAge refuses fills when the cached mark is older than this,
	// so a dead feed cannot keep filling at its last seen price. Must be
	// comfortably above the candle interval. Zero disables the check.
	MaxMarkAge time.Duration `yaml:"max_mark_age"`
	// Seed fixes the random source. Zero seeds from the wall clock.
	Seed int64 `yaml:"seed"`
}

// PaperClient is an in-process venue. Market orders fill immediately at the
// cached mark price plus adverse slippage. With a fixed seed and zero
// latency the fill sequence is fully reproducible.
type PaperClient struct {
	mu      sync.Mutex
	cfg     PaperConfig
	cache   *cache.PriceCache
	rng     *rand.Rand
	limiter *rate.Limiter
	history HistoryFunc
	log     *zap.Logger

	balance float64
	// byClientID makes resubmission of the same intent return the original
	// fill instead of executing twice.
	byClientID map[string]OrderResult
}

// NewPaperClient creates a paper venue over the mark-price cache.
func NewPaperClient(cfg PaperConfig, prices *cache.PriceCache, log *zap.Logger) *PaperClient {
	if cfg.LatencyMaxMs > 0 && cfg.LatencyMinMs > cfg.LatencyMaxMs {
		cfg.LatencyMinMs, cfg.LatencyMaxMs = cfg.LatencyMaxMs, cfg.LatencyMinMs
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaperClient{
		cfg:        cfg,
		cache:      prices,
		rng:        rand.New(rand.NewSource(seed)),
		limiter:    limiter,
		log:        log.With(zap.String("component", "paper_exchange")),
		balance:    cfg.InitialBalance,
		byClientID: make(map[string]OrderResult),
	}
}

// SetHistory wires a historical candle source for FetchCandles.
func (p *PaperClient) SetHistory(fn HistoryFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = fn
}

// FetchCandles serves candles from the configured history source.
func (p *PaperClient) FetchCandles(ctx context.Context, pair, timeframe string, limit int) ([]market.Candle, error) {
	if err := p.pace(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	fn := p.history
	p.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("%w: no historical data source configured", ErrRejected)
	}
	return fn(ctx, pair, timeframe, limit)
}

// FetchBalance returns the venue cash balance.
func (p *PaperClient) FetchBalance(ctx context.Context) (Balance, error) {
	if err := p.pace(ctx); err != nil {
		return Balance{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Balance{Total: p.balance, Available: p.balance}, nil
}

// PlaceOrder fills a market order at the cached mark price with adverse
// slippage and a taker fee. Repeated ClientIDs return the original fill.
func (p *PaperClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := p.pace(ctx); err != nil {
		return OrderResult{}, err
	}
	if err := p.simulateLatency(ctx); err != nil {
		return OrderResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.ClientID != "" {
		if prev, ok := p.byClientID[req.ClientID]; ok {
			return prev, nil
		}
	}

	if p.cfg.FailRate > 0 && p.rng.Float64() < p.cfg.FailRate {
		return OrderResult{}, fmt.Errorf("%w: injected gateway failure", ErrTransient)
	}

	if req.Qty <= 0 {
		return OrderResult{}, fmt.Errorf("%w: non-positive quantity %v", ErrRejected, req.Qty)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return OrderResult{}, fmt.Errorf("%w: unknown side %q", ErrRejected, req.Side)
	}
	if req.Type != "" && req.Type != OrderTypeMarket {
		return OrderResult{}, fmt.Errorf("%w: unsupported order type %q", ErrRejected, req.Type)
	}

	mark, age, ok := p.cache.GetWithAge(req.Pair)
	if ok && p.cfg.MaxMarkAge > 0 && age > p.cfg.MaxMarkAge {
		return OrderResult{}, fmt.Errorf("%w: mark price for %s is %s stale",
			ErrTransient, req.Pair, age.Round(time.Millisecond))
	}
	if !ok || mark <= 0 {
		if req.Price > 0 {
			mark = req.Price
		} else {
			return OrderResult{}, fmt.Errorf("%w: no mark price for %s", ErrRejected, req.Pair)
		}
	}

	fill := mark
	if frac := p.cfg.SlippageBps / 10000.0; frac > 0 {
		noise := p.rng.Float64() * frac
		if req.Side == SideBuy {
			fill = mark * (1 + noise)
		} else {
			fill = mark * (1 - noise)
		}
	}

	notional := req.Qty * fill
	fee := notional * p.cfg.FeeBps / 10000.0

	if req.Side == SideBuy && !req.ReduceOnly && notional+fee > p.balance {
		return OrderResult{}, fmt.Errorf("%w: insufficient balance, need %.2f have %.2f",
			ErrRejected, notional+fee, p.balance)
	}

	if req.Side == SideBuy {
		p.balance -= notional + fee
	} else {
		p.balance += notional - fee
	}

	res := OrderResult{
		OrderID:   uuid.NewString(),
		Status:    StatusFilled,
		FilledQty: req.Qty,
		AvgPrice:  fill,
		Fee:       fee,
	}
	if req.ClientID != "" {
		p.byClientID[req.ClientID] = res
	}

	p.log.Debug("paper fill",
		zap.String("pair", req.Pair),
		zap.String("side", string(req.Side)),
		zap.Float64("qty", req.Qty),
		zap.Float64("price", fill),
		zap.Float64("fee", fee))
	return res, nil
}

// CancelOrder is a no-op for market fills: anything the venue knows about is
// already filled.
func (p *PaperClient) CancelOrder(ctx context.Context, pair, orderID string) error {
	if err := p.pace(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, res := range p.byClientID {
		if res.OrderID == orderID {
			return fmt.Errorf("%w: order %s already filled", ErrRejected, orderID)
		}
	}
	return fmt.Errorf("%w: unknown order %s", ErrRejected, orderID)
}

func (p *PaperClient) pace(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}

func (p *PaperClient) simulateLatency(ctx context.Context) error {
	if p.cfg.LatencyMaxMs <= 0 {
		return nil
	}
	p.mu.Lock()
	span := p.cfg.LatencyMaxMs - p.cfg.LatencyMinMs
	delayMs := p.cfg.LatencyMinMs
	if span > 0 {
		delayMs += p.rng.Intn(span + 1)
	}
	p.mu.Unlock()
	if delayMs <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(delayMs) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
	}
}
