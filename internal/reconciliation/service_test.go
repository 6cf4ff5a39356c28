package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/internal/signal"
	"github.com/ahmedhalloub17/tradingbot/pkg/db"
)

type fixedSource struct {
	trades []lifecycle.Trade
}

func (f fixedSource) ActiveTrades() []lifecycle.Trade { return f.trades }

func openTestStore(t *testing.T) *db.Store {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return database.Queries()
}

func trade(id string, state lifecycle.State) lifecycle.Trade {
	return lifecycle.Trade{
		ID:          id,
		Pair:        "BTCUSDT",
		Direction:   signal.DirectionLong,
		State:       state,
		Size:        0.5,
		Notional:    25000,
		SignalPrice: 50000,
		EntryPrice:  50010,
		StopPrice:   49000,
		Target:      51000,
		Confidence:  0.7,
		CreatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestReconcileClosesStaleRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// The store claims an open trade the journal does not back.
	stale := trade("stale-1", lifecycle.StateOpen)
	if err := store.UpsertTrade(ctx, stale); err != nil {
		t.Fatalf("seed stale row: %v", err)
	}

	svc, err := NewService(fixedSource{}, store, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	at := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	report, err := svc.Reconcile(ctx, at)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.StaleClosed) != 1 || report.StaleClosed[0] != "stale-1" {
		t.Fatalf("report.StaleClosed = %v", report.StaleClosed)
	}

	got, err := store.GetTrade(ctx, "stale-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != lifecycle.StateClosed {
		t.Errorf("state = %s, want closed", got.State)
	}
	if got.ExitReason != lifecycle.ExitReconciled {
		t.Errorf("exit reason = %s, want reconciled", got.ExitReason)
	}
	if !got.ClosedAt.Equal(at) {
		t.Errorf("closed at = %v, want %v", got.ClosedAt, at)
	}

	active, err := store.ListActiveTrades(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active rows after sweep = %d, want 0", len(active))
	}
}

func TestReconcileRewritesRecoveredTrades(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Row lags behind the journal: recovered as open, stored as pending.
	lagging := trade("lag-1", lifecycle.StatePendingEntry)
	if err := store.UpsertTrade(ctx, lagging); err != nil {
		t.Fatalf("seed lagging row: %v", err)
	}
	recovered := trade("lag-1", lifecycle.StateOpen)
	// This one never reached the store at all.
	missing := trade("new-1", lifecycle.StateOpen)

	svc, err := NewService(fixedSource{trades: []lifecycle.Trade{recovered, missing}}, store, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	report, err := svc.Reconcile(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.StaleClosed) != 0 {
		t.Fatalf("unexpected stale closes: %v", report.StaleClosed)
	}
	if len(report.Rewritten) != 2 {
		t.Fatalf("rewritten = %v, want both trades", report.Rewritten)
	}

	for _, id := range []string{"lag-1", "new-1"} {
		got, err := store.GetTrade(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.State != lifecycle.StateOpen {
			t.Errorf("%s state = %s, want open", id, got.State)
		}
	}
}

func TestReconcileLeavesMatchingRowsAlone(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	open := trade("ok-1", lifecycle.StateOpen)
	if err := store.UpsertTrade(ctx, open); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	svc, err := NewService(fixedSource{trades: []lifecycle.Trade{open}}, store, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	report, err := svc.Reconcile(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Changes() != 0 {
		t.Fatalf("changes = %d, want 0 (report %+v)", report.Changes(), report)
	}
}
