// Package persistence buffers high-volume telemetry writes so the trading
// hot path never waits on SQLite. Trade records do not pass through here;
// settlement writes stay synchronous in the lifecycle manager.
package persistence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/events"
	"github.com/ahmedhalloub17/tradingbot/internal/portfolio"
	"github.com/ahmedhalloub17/tradingbot/pkg/db"
)

// SnapshotStore persists equity snapshot batches.
type SnapshotStore interface {
	InsertEquitySnapshots(ctx context.Context, snaps []db.EquitySnapshot) error
}

// Config tunes the recorder's batching.
type Config struct {
	// MaxBatch flushes the buffer once it holds this many rows.
	MaxBatch int `yaml:"max_batch"`
	// FlushInterval flushes whatever is buffered on this cadence.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// Buffer is the bus subscription depth.
	Buffer int `yaml:"buffer"`
}

// Metrics are cumulative counters since the recorder started.
type Metrics struct {
	Rows        uint64    `json:"rows"`
	Batches     uint64    `json:"batches"`
	Errors      uint64    `json:"errors"`
	Coalesced   uint64    `json:"coalesced"`
	LastBatch   int       `json:"last_batch"`
	LastFlushAt time.Time `json:"last_flush_at"`
}

// Recorder subscribes to equity snapshots and writes them to the store in
// batched transactions. Consecutive snapshots with identical balances are
// coalesced so quiet candles do not bloat the table.
type Recorder struct {
	store SnapshotStore
	bus   *events.Bus
	log   *zap.Logger

	maxBatch int
	interval time.Duration

	ch    <-chan any
	unsub func()

	mu   sync.Mutex
	rows []db.EquitySnapshot
	last db.EquitySnapshot
	seen bool

	rowCount    uint64
	batchCount  uint64
	errCount    uint64
	coalesced   uint64
	lastBatch   atomic.Int64
	lastFlushAt atomic.Int64 // unix nanos
}

// NewRecorder wires the recorder and subscribes it to the bus. Call Run to
// start draining; snapshots published before Run starts sit in the
// subscription buffer.
func NewRecorder(store SnapshotStore, bus *events.Bus, cfg Config, log *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("persistence: store is required")
	}
	if bus == nil {
		return nil, errors.New("persistence: bus is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}

	r := &Recorder{
		store:    store,
		bus:      bus,
		log:      log.With(zap.String("component", "recorder")),
		maxBatch: cfg.MaxBatch,
		interval: cfg.FlushInterval,
		rows:     make([]db.EquitySnapshot, 0, cfg.MaxBatch),
	}
	r.ch, r.unsub = bus.Subscribe(events.EventEquitySnapshot, cfg.Buffer)
	return r, nil
}

// Run drains snapshots until ctx is canceled, then performs a final flush.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsub()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-r.ch:
			if !ok {
				r.finalFlush()
				return nil
			}
			snap, ok := payload.(portfolio.Snapshot)
			if !ok {
				continue
			}
			if r.observe(snap) {
				r.flush(ctx)
			}
		case <-ticker.C:
			r.flush(ctx)
		case <-ctx.Done():
			r.finalFlush()
			return ctx.Err()
		}
	}
}

// observe buffers one snapshot and reports whether the buffer is full.
func (r *Recorder) observe(snap portfolio.Snapshot) bool {
	row := db.SnapshotRow(snap)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen && sameBalances(r.last, row) {
		atomic.AddUint64(&r.coalesced, 1)
		return false
	}
	r.last = row
	r.seen = true
	r.rows = append(r.rows, row)
	return len(r.rows) >= r.maxBatch
}

// Flush writes all buffered rows in one transaction. Rows in a failed batch
// are dropped: equity history is telemetry, not the ledger.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.rows) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.rows
	r.rows = make([]db.EquitySnapshot, 0, r.maxBatch)
	r.mu.Unlock()

	atomic.AddUint64(&r.rowCount, uint64(len(batch)))
	atomic.AddUint64(&r.batchCount, 1)
	r.lastBatch.Store(int64(len(batch)))
	r.lastFlushAt.Store(time.Now().UnixNano())

	if err := r.store.InsertEquitySnapshots(ctx, batch); err != nil {
		atomic.AddUint64(&r.errCount, 1)
		return err
	}
	return nil
}

func (r *Recorder) flush(ctx context.Context) {
	if err := r.Flush(ctx); err != nil {
		r.log.Error("equity flush failed", zap.Error(err))
	}
}

// finalFlush runs with its own deadline because the caller's context is
// already canceled during shutdown.
func (r *Recorder) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.flush(ctx)
}

// Pending returns the number of buffered rows.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Stats returns a copy of the cumulative counters.
func (r *Recorder) Stats() Metrics {
	m := Metrics{
		Rows:      atomic.LoadUint64(&r.rowCount),
		Batches:   atomic.LoadUint64(&r.batchCount),
		Errors:    atomic.LoadUint64(&r.errCount),
		Coalesced: atomic.LoadUint64(&r.coalesced),
		LastBatch: int(r.lastBatch.Load()),
	}
	if ns := r.lastFlushAt.Load(); ns > 0 {
		m.LastFlushAt = time.Unix(0, ns)
	}
	return m
}

// sameBalances ignores the capture time; a snapshot only earns a row when a
// balance component actually moved.
func sameBalances(a, b db.EquitySnapshot) bool {
	return a.Equity == b.Equity &&
		a.Peak == b.Peak &&
		a.Reserved == b.Reserved &&
		a.OpenTrades == b.OpenTrades
}
