// Package reconciliation squares the durable trade record with the
// journal's live set after a restart. The journal is the source of truth
// for live trades; sqlite rows are an audit record whose final write can
// be lost in a crash. The sweep closes out rows the journal no longer
// knows and rewrites the rows of every recovered trade.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
)

// TradeSource exposes the authoritative live set, normally the lifecycle
// manager after journal recovery.
type TradeSource interface {
	ActiveTrades() []lifecycle.Trade
}

// Store is the durable trade record being reconciled.
type Store interface {
	ListActiveTrades(ctx context.Context) ([]lifecycle.Trade, error)
	UpsertTrade(ctx context.Context, t lifecycle.Trade) error
}

// Report summarizes one reconciliation sweep.
type Report struct {
	CheckedAt time.Time `json:"checked_at"`
	// StaleClosed lists rows that claimed a live state the journal does
	// not back; they were closed out with ExitReconciled.
	StaleClosed []string `json:"stale_closed,omitempty"`
	// Rewritten lists recovered trades whose rows were refreshed.
	Rewritten []string `json:"rewritten,omitempty"`
}

// Changes returns how many rows the sweep touched.
func (r *Report) Changes() int {
	return len(r.StaleClosed) + len(r.Rewritten)
}

// Service runs the startup sweep.
type Service struct {
	trades TradeSource
	store  Store
	log    *zap.Logger
}

// NewService wires the reconciliation sweep.
func NewService(trades TradeSource, store Store, log *zap.Logger) (*Service, error) {
	if trades == nil || store == nil {
		return nil, errors.New("reconciliation requires a trade source and a store")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		trades: trades,
		store:  store,
		log:    log.With(zap.String("component", "reconciliation")),
	}, nil
}

// Reconcile compares the live set against the stored rows and repairs the
// store. Run it once after journal recovery, before the engine starts
// producing new writes.
func (s *Service) Reconcile(ctx context.Context, at time.Time) (*Report, error) {
	live := make(map[string]lifecycle.Trade)
	for _, tr := range s.trades.ActiveTrades() {
		live[tr.ID] = tr
	}

	rows, err := s.store.ListActiveTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored live trades: %w", err)
	}

	report := &Report{CheckedAt: at}
	for _, row := range rows {
		if _, ok := live[row.ID]; ok {
			continue
		}
		// The trade resolved but its settlement write was lost. The
		// realized outcome is unknown, so the row keeps its last known
		// figures and gets flagged for the operator.
		row.State = lifecycle.StateClosed
		row.ExitReason = lifecycle.ExitReconciled
		row.ClosedAt = at
		if err := s.store.UpsertTrade(ctx, row); err != nil {
			return report, fmt.Errorf("close stale trade %s: %w", row.ID, err)
		}
		s.log.Warn("closed stale trade row",
			zap.String("trade_id", row.ID),
			zap.String("pair", row.Pair))
		report.StaleClosed = append(report.StaleClosed, row.ID)
	}

	stored := make(map[string]lifecycle.Trade, len(rows))
	for _, row := range rows {
		stored[row.ID] = row
	}
	for id, tr := range live {
		if prev, ok := stored[id]; ok && prev.State == tr.State {
			continue
		}
		if err := s.store.UpsertTrade(ctx, tr); err != nil {
			return report, fmt.Errorf("rewrite recovered trade %s: %w", id, err)
		}
		report.Rewritten = append(report.Rewritten, id)
	}

	if report.Changes() > 0 {
		s.log.Info("trade store reconciled",
			zap.Int("stale_closed", len(report.StaleClosed)),
			zap.Int("rewritten", len(report.Rewritten)))
	}
	return report, nil
}
