package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/events"
	"github.com/ahmedhalloub17/tradingbot/internal/portfolio"
	"github.com/ahmedhalloub17/tradingbot/pkg/db"
)

type captureStore struct {
	mu      sync.Mutex
	batches [][]db.EquitySnapshot
	fail    bool
}

func (c *captureStore) InsertEquitySnapshots(ctx context.Context, snaps []db.EquitySnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("disk full")
	}
	batch := make([]db.EquitySnapshot, len(snaps))
	copy(batch, snaps)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureStore) rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func snapshotAt(equity float64, openTrades int, at time.Time) portfolio.Snapshot {
	return portfolio.Snapshot{
		Equity:     equity,
		Peak:       equity,
		OpenTrades: openTrades,
		UpdatedAt:  at,
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRecorderCoalescesQuietCandles(t *testing.T) {
	store := &captureStore{}
	rec, err := NewRecorder(store, events.NewBus(), Config{MaxBatch: 100, FlushInterval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	// Same balances at three different times, then one real change.
	for i := 0; i < 3; i++ {
		rec.observe(snapshotAt(10000, 0, base.Add(time.Duration(i)*time.Hour)))
	}
	rec.observe(snapshotAt(10100, 1, base.Add(3*time.Hour)))

	if got := rec.Pending(); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}
	if got := rec.Stats().Coalesced; got != 2 {
		t.Errorf("coalesced = %d, want 2", got)
	}

	if err := rec.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := store.rows(); got != 2 {
		t.Errorf("stored %d rows, want 2", got)
	}
	if rec.Pending() != 0 {
		t.Error("buffer should be empty after flush")
	}
}

func TestRecorderFlushesFullBatchFromBus(t *testing.T) {
	store := &captureStore{}
	bus := events.NewBus()
	rec, err := NewRecorder(store, bus, Config{MaxBatch: 3, FlushInterval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		bus.Publish(events.EventEquitySnapshot, snapshotAt(10000+float64(i)*10, 0, base.Add(time.Duration(i)*time.Hour)))
	}

	waitFor(t, func() bool { return store.rows() == 3 }, "size-triggered flush")
	if got := rec.Stats().Batches; got != 1 {
		t.Errorf("batches = %d, want 1", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("run returned %v, want context.Canceled", err)
	}
}

func TestRecorderFinalFlushOnShutdown(t *testing.T) {
	store := &captureStore{}
	bus := events.NewBus()
	rec, err := NewRecorder(store, bus, Config{MaxBatch: 100, FlushInterval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bus.Publish(events.EventEquitySnapshot, snapshotAt(10000, 0, base))
	bus.Publish(events.EventEquitySnapshot, snapshotAt(9900, 1, base.Add(time.Hour)))

	waitFor(t, func() bool { return rec.Pending() == 2 }, "snapshots buffered")
	cancel()
	<-done

	if got := store.rows(); got != 2 {
		t.Errorf("stored %d rows after shutdown, want 2", got)
	}
}

func TestRecorderDropsFailedBatch(t *testing.T) {
	store := &captureStore{fail: true}
	rec, err := NewRecorder(store, events.NewBus(), Config{}, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	rec.observe(snapshotAt(10000, 0, time.Now()))
	if err := rec.Flush(context.Background()); err == nil {
		t.Fatal("flush should surface the store error")
	}
	if rec.Pending() != 0 {
		t.Error("failed batch should not be requeued")
	}
	if got := rec.Stats().Errors; got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestRecorderRequiresDependencies(t *testing.T) {
	if _, err := NewRecorder(nil, events.NewBus(), Config{}, nil); err == nil {
		t.Error("nil store should be rejected")
	}
	if _, err := NewRecorder(&captureStore{}, nil, Config{}, nil); err == nil {
		t.Error("nil bus should be rejected")
	}
}
