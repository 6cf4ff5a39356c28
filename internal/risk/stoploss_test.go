package risk

import (
	"math"
	"testing"

	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

func TestStopTrackerLongRatchet(t *testing.T) {
	tr := NewStopTracker(true, 0.5)
	tr.Track("t1", "BTCUSDT", signal.DirectionLong, 100, 95, 110)

	// Below entry: no profit, stop stays at the admitted level.
	if trig, stop := tr.Observe("t1", 99); trig != TriggerNone || stop != 95 {
		t.Fatalf("Observe(99) = %v stop %v, want none 95", trig, stop)
	}

	// High-water 104, profit 4, lock half: stop moves to 102.
	trig, stop := tr.Observe("t1", 104)
	if trig != TriggerNone {
		t.Fatalf("Observe(104) = %v, want none", trig)
	}
	if math.Abs(stop-102) > 1e-12 {
		t.Fatalf("ratcheted stop = %v, want 102", stop)
	}

	// Pullback to the ratcheted stop fires it.
	if trig, _ := tr.Observe("t1", 101.5); trig != TriggerStop {
		t.Errorf("Observe(101.5) = %v, want stop", trig)
	}
}

func TestStopTrackerNeverLoosens(t *testing.T) {
	tr := NewStopTracker(true, 0.5)
	tr.Track("t1", "BTCUSDT", signal.DirectionLong, 100, 95, 120)

	if _, stop := tr.Observe("t1", 110); math.Abs(stop-105) > 1e-12 {
		t.Fatalf("stop after 110 = %v, want 105", stop)
	}
	// Retreat below the high-water mark must not move the stop back down.
	if trig, stop := tr.Observe("t1", 106); trig != TriggerNone || math.Abs(stop-105) > 1e-12 {
		t.Errorf("Observe(106) = %v stop %v, want none 105", trig, stop)
	}
}

func TestStopTrackerTarget(t *testing.T) {
	tr := NewStopTracker(true, 0.5)
	tr.Track("t1", "BTCUSDT", signal.DirectionLong, 100, 95, 104)

	if trig, _ := tr.Observe("t1", 104); trig != TriggerTarget {
		t.Errorf("Observe(104) = %v, want target", trig)
	}
}

func TestStopTrackerShortMirror(t *testing.T) {
	tr := NewStopTracker(true, 0.5)
	tr.Track("t1", "BTCUSDT", signal.DirectionShort, 100, 105, 90)

	// Favorable move down to 96: profit 4, stop ratchets to 98.
	trig, stop := tr.Observe("t1", 96)
	if trig != TriggerNone {
		t.Fatalf("Observe(96) = %v, want none", trig)
	}
	if math.Abs(stop-98) > 1e-12 {
		t.Fatalf("ratcheted stop = %v, want 98", stop)
	}

	if trig, _ := tr.Observe("t1", 98.5); trig != TriggerStop {
		t.Errorf("Observe(98.5) = %v, want stop", trig)
	}
}

func TestStopTrackerShortTarget(t *testing.T) {
	tr := NewStopTracker(false, 0)
	tr.Track("t1", "BTCUSDT", signal.DirectionShort, 100, 105, 90)

	if trig, _ := tr.Observe("t1", 89.9); trig != TriggerTarget {
		t.Errorf("Observe(89.9) = %v, want target", trig)
	}
}

func TestStopTrackerDisabledTrailing(t *testing.T) {
	tr := NewStopTracker(false, 0.5)
	tr.Track("t1", "BTCUSDT", signal.DirectionLong, 100, 95, 200)

	if _, stop := tr.Observe("t1", 150); stop != 95 {
		t.Errorf("stop with trailing disabled = %v, want 95", stop)
	}
}

func TestStopTrackerUntrack(t *testing.T) {
	tr := NewStopTracker(true, 0.5)
	tr.Track("t1", "BTCUSDT", signal.DirectionLong, 100, 95, 110)
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}

	tr.Untrack("t1")
	if tr.Len() != 0 {
		t.Fatalf("Len after Untrack = %d, want 0", tr.Len())
	}
	if trig, _ := tr.Observe("t1", 50); trig != TriggerNone {
		t.Errorf("Observe on untracked = %v, want none", trig)
	}
	if _, ok := tr.StopFor("t1"); ok {
		t.Error("StopFor on untracked returned ok")
	}
}
