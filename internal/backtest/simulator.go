package backtest

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/indicators"
	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/internal/market"
	"github.com/ahmedhalloub17/tradingbot/internal/portfolio"
	"github.com/ahmedhalloub17/tradingbot/internal/risk"
	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

// Simulator replays candles through the live decision components. Fills are
// simulated: entries at candle close with adverse slippage, protective exits
// intrabar at the stop or target level. A run is single-goroutine and
// bit-reproducible for a given candle series, config and seed.
type Simulator struct {
	cfg Config
	log *zap.Logger
}

// NewSimulator validates the config and builds a simulator. Runs are
// independent; the same simulator can be reused.
func NewSimulator(cfg Config, log *zap.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("backtest config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{cfg: cfg, log: log.With(zap.String("component", "backtest"))}, nil
}

// position is one simulated open trade.
type position struct {
	trade lifecycle.Trade
}

// run carries the mutable state of a single replay.
type run struct {
	cfg     Config
	log     *zap.Logger
	tf      time.Duration
	rng     *rand.Rand
	ind     *indicators.Engine
	agg     *signal.Aggregator
	riskMgr *risk.Manager
	port    *portfolio.State
	tracker *risk.StopTracker

	open   map[string]*position
	closed []lifecycle.Trade
	curve  []EquityPoint
	seq    int
}

// Run replays the series through the decision pipeline. The series is
// rewound first, so the same series can be replayed any number of times. It
// returns ErrInsufficientCandles when the series is shorter than the
// configured minimum.
func (s *Simulator) Run(series *market.Series) (*Result, error) {
	n := 0
	if series != nil {
		n = series.Len()
	}
	if n < s.cfg.MinCandles {
		return nil, fmt.Errorf("%w: got %d, need %d",
			ErrInsufficientCandles, n, s.cfg.MinCandles)
	}
	tf, err := market.ParseTimeframe(s.cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("backtest timeframe: %w", err)
	}

	log := zap.NewNop()
	port, err := portfolio.NewState(s.cfg.InitialBalance, log)
	if err != nil {
		return nil, err
	}
	riskMgr, err := risk.NewManager(s.cfg.Risk, log)
	if err != nil {
		return nil, err
	}

	r := &run{
		cfg:     s.cfg,
		log:     s.log,
		tf:      tf,
		rng:     rand.New(rand.NewSource(s.cfg.Seed)),
		ind:     indicators.NewEngine(s.cfg.Indicators),
		agg:     signal.NewAggregator(s.cfg.Signal),
		riskMgr: riskMgr,
		port:    port,
		tracker: risk.NewStopTracker(s.cfg.Risk.TrailingEnabled, s.cfg.Risk.TrailingLock),
		open:    make(map[string]*position),
	}

	series.Reset()
	first, _ := series.Next()
	start := first.Time()
	r.curve = append(r.curve, EquityPoint{At: start, Equity: s.cfg.InitialBalance})

	last := first
	r.step(first)
	for c, ok := series.Next(); ok; c, ok = series.Next() {
		r.step(c)
		last = c
	}

	end := last.Time().Add(tf)
	r.drain(end, last)

	res := buildResult(s.cfg, r, start, end, series.Len())
	s.log.Info("replay finished",
		zap.Int("candles", res.Candles),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("final_balance", res.FinalBalance),
		zap.Float64("total_return", res.TotalReturn))
	return res, nil
}

// step advances the simulation by one candle: protective exits first, then
// indicator update, signal evaluation and admission.
func (r *run) step(c market.Candle) {
	at := c.Time().Add(r.tf)

	if pos, ok := r.open[c.Pair]; ok {
		r.monitor(pos, c, at)
	}

	snap, err := r.ind.Update(c)
	if err == nil {
		sig := r.agg.Evaluate(snap)
		if sig.Actionable() {
			if pos, ok := r.open[c.Pair]; ok {
				if pos.trade.Direction == sig.Direction.Opposite() {
					r.close(pos, c.Close, lifecycle.ExitReversal, at)
				}
			} else {
				r.admit(sig, c, at)
			}
		}
	}

	r.curve = append(r.curve, EquityPoint{At: at, Equity: r.port.Snapshot().Equity})
}

// monitor applies intrabar stop and target checks using the candle extremes,
// then the hold deadline against the close.
func (r *run) monitor(pos *position, c market.Candle, at time.Time) {
	trigger, stop := r.tracker.ObserveRange(pos.trade.ID, c.High, c.Low)
	if stop > 0 {
		pos.trade.StopPrice = stop
	}
	switch trigger {
	case risk.TriggerStop:
		r.close(pos, stop, lifecycle.ExitStopLoss, at)
		return
	case risk.TriggerTarget:
		r.close(pos, pos.trade.Target, lifecycle.ExitTakeProfit, at)
		return
	}
	if !pos.trade.Deadline.IsZero() && at.After(pos.trade.Deadline) {
		r.close(pos, c.Close, lifecycle.ExitMaxHold, at)
	}
}

// admit runs the risk checks and opens a simulated position at the candle
// close with adverse slippage.
func (r *run) admit(sig signal.Signal, c market.Candle, at time.Time) {
	snap := r.port.Snapshot()
	acct := risk.Account{
		Equity:     snap.Equity,
		Drawdown:   snap.Drawdown,
		OpenTrades: snap.OpenTrades,
		PairOpen:   r.port.HasOpenPair(sig.Pair),
	}
	dec, err := r.riskMgr.Evaluate(sig, acct, at)
	if err != nil {
		return
	}

	r.seq++
	id := fmt.Sprintf("bt-%06d", r.seq)
	if err := r.port.Reserve(id, sig.Pair, dec.Notional); err != nil {
		return
	}

	entry := r.slip(c.Close, sig.Direction)
	fee := entry * dec.Size * r.cfg.FeeBps / 10_000

	var deadline time.Time
	if r.cfg.MaxHold > 0 {
		deadline = at.Add(r.cfg.MaxHold)
	}
	pos := &position{trade: lifecycle.Trade{
		ID:          id,
		Pair:        sig.Pair,
		Direction:   sig.Direction,
		State:       lifecycle.StateOpen,
		Size:        dec.Size,
		Notional:    dec.Notional,
		SignalPrice: c.Close,
		EntryPrice:  entry,
		StopPrice:   dec.StopPrice,
		Target:      dec.TargetPrice,
		EntryFee:    fee,
		Confidence:  sig.Confidence,
		CreatedAt:   at,
		OpenedAt:    at,
		Deadline:    deadline,
	}}
	r.tracker.Track(id, sig.Pair, sig.Direction, entry, dec.StopPrice, dec.TargetPrice)
	r.open[sig.Pair] = pos
}

// close settles a position at the given fill price.
func (r *run) close(pos *position, price float64, reason lifecycle.ExitReason, at time.Time) {
	tr := &pos.trade
	exitFee := price * tr.Size * r.cfg.FeeBps / 10_000

	gross := (price - tr.EntryPrice) * tr.Size
	if tr.Direction == signal.DirectionShort {
		gross = (tr.EntryPrice - price) * tr.Size
	}
	pnl := gross - tr.EntryFee - exitFee

	tr.State = lifecycle.StateClosed
	tr.ExitPrice = price
	tr.ExitFee = exitFee
	tr.PnL = pnl
	tr.ExitReason = reason
	tr.ClosedAt = at

	r.tracker.Untrack(tr.ID)
	delete(r.open, tr.Pair)
	if _, err := r.port.Settle(tr.ID, pnl, at); err != nil {
		r.log.Error("settlement failed in replay",
			zap.String("trade_id", tr.ID), zap.Error(err))
	}
	r.closed = append(r.closed, *tr)
}

// drain closes whatever is still open at the end of the series, in pair
// order for reproducibility.
func (r *run) drain(at time.Time, last market.Candle) {
	pairs := make([]string, 0, len(r.open))
	for pair := range r.open {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	for _, pair := range pairs {
		r.close(r.open[pair], last.Close, lifecycle.ExitEndOfData, at)
	}
	if len(pairs) > 0 {
		r.curve = append(r.curve, EquityPoint{At: at, Equity: r.port.Snapshot().Equity})
	}
}

// slip moves a fill against the taker by a uniform fraction of the
// configured slippage.
func (r *run) slip(price float64, dir signal.Direction) float64 {
	if r.cfg.SlippageBps <= 0 {
		return price
	}
	frac := r.rng.Float64() * r.cfg.SlippageBps / 10_000
	if dir == signal.DirectionShort {
		return price * (1 - frac)
	}
	return price * (1 + frac)
}

func buildResult(cfg Config, r *run, start, end time.Time, candles int) *Result {
	equities := make([]float64, len(r.curve))
	for i, p := range r.curve {
		equities[i] = p.Equity
	}
	final := equities[len(equities)-1]

	return &Result{
		Seed:           cfg.Seed,
		Start:          start,
		End:            end,
		Candles:        candles,
		InitialBalance: cfg.InitialBalance,
		FinalBalance:   final,
		TotalReturn:    (final - cfg.InitialBalance) / cfg.InitialBalance,
		Sharpe:         sharpeRatio(returnsOf(equities)),
		MaxDrawdown:    maxDrawdown(equities),
		WinRate:        winRate(r.closed),
		ProfitFactor:   profitFactor(r.closed),
		Trades:         r.closed,
		EquityCurve:    r.curve,
	}
}
