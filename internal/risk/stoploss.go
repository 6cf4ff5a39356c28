package risk

import (
	"sync"

	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

// Trigger is the outcome of a price observation against a tracked stop.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerStop
	TriggerTarget
)

func (t Trigger) String() string {
	switch t {
	case TriggerStop:
		return "stop"
	case TriggerTarget:
		return "target"
	default:
		return "none"
	}
}

// trackedStop holds the protective levels of one open trade. The stop
// ratchets toward the high-water mark and never loosens; the target is fixed
// at admission.
type trackedStop struct {
	pair      string
	direction signal.Direction
	entry     float64
	stop      float64
	target    float64
	highWater float64
}

// StopTracker monitors stops and targets for open trades, keyed by trade ID.
type StopTracker struct {
	mu        sync.Mutex
	positions map[string]*trackedStop
	enabled   bool
	lock      float64
}

// NewStopTracker creates a tracker. lock is the fraction of peak profit the
// trailing stop secures once a trade moves into profit.
func NewStopTracker(trailingEnabled bool, trailingLock float64) *StopTracker {
	return &StopTracker{
		positions: make(map[string]*trackedStop),
		enabled:   trailingEnabled,
		lock:      trailingLock,
	}
}

// Track registers an open trade's protective levels.
func (t *StopTracker) Track(tradeID, pair string, dir signal.Direction, entry, stop, target float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[tradeID] = &trackedStop{
		pair:      pair,
		direction: dir,
		entry:     entry,
		stop:      stop,
		target:    target,
		highWater: entry,
	}
}

// Observe feeds a mark price for a tracked trade. It ratchets the trailing
// stop and reports whether the stop or target fired, along with the current
// stop level. Unknown trades report TriggerNone.
func (t *StopTracker) Observe(tradeID string, price float64) (Trigger, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[tradeID]
	if !ok {
		return TriggerNone, 0
	}

	if t.enabled {
		t.ratchet(pos, price)
	}

	switch pos.direction {
	case signal.DirectionLong:
		if price <= pos.stop {
			return TriggerStop, pos.stop
		}
		if price >= pos.target {
			return TriggerTarget, pos.stop
		}
	case signal.DirectionShort:
		if price >= pos.stop {
			return TriggerStop, pos.stop
		}
		if price <= pos.target {
			return TriggerTarget, pos.stop
		}
	}
	return TriggerNone, pos.stop
}

// ObserveRange feeds a full candle range for a tracked trade. The stop is
// checked against the adverse extreme before ratcheting, so a freshly
// tightened stop cannot fire on the same bar that produced it. The returned
// level is the stop in force when the check ran.
func (t *StopTracker) ObserveRange(tradeID string, high, low float64) (Trigger, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[tradeID]
	if !ok {
		return TriggerNone, 0
	}

	switch pos.direction {
	case signal.DirectionLong:
		if low <= pos.stop {
			return TriggerStop, pos.stop
		}
		if t.enabled {
			t.ratchet(pos, high)
		}
		if high >= pos.target {
			return TriggerTarget, pos.stop
		}
	case signal.DirectionShort:
		if high >= pos.stop {
			return TriggerStop, pos.stop
		}
		if t.enabled {
			t.ratchet(pos, low)
		}
		if low <= pos.target {
			return TriggerTarget, pos.stop
		}
	}
	return TriggerNone, pos.stop
}

// ratchet moves the stop toward the high-water mark, locking a fraction of
// the peak favorable excursion. Stops only tighten.
func (t *StopTracker) ratchet(pos *trackedStop, price float64) {
	switch pos.direction {
	case signal.DirectionLong:
		if price > pos.highWater {
			pos.highWater = price
		}
		if profit := pos.highWater - pos.entry; profit > 0 {
			if candidate := pos.entry + t.lock*profit; candidate > pos.stop {
				pos.stop = candidate
			}
		}
	case signal.DirectionShort:
		if price < pos.highWater {
			pos.highWater = price
		}
		if profit := pos.entry - pos.highWater; profit > 0 {
			if candidate := pos.entry - t.lock*profit; candidate < pos.stop {
				pos.stop = candidate
			}
		}
	}
}

// StopFor returns the current stop level for a tracked trade.
func (t *StopTracker) StopFor(tradeID string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[tradeID]
	if !ok {
		return 0, false
	}
	return pos.stop, true
}

// Untrack removes a trade once it is closing or closed.
func (t *StopTracker) Untrack(tradeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, tradeID)
}

// Len returns the number of tracked trades.
func (t *StopTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}
