package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestJournal(t *testing.T, dir string) *Journal {
	t.Helper()
	j, err := NewJournal(dir, nil)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func journalTrade(id, pair string) Trade {
	return Trade{
		ID:        id,
		Pair:      pair,
		State:     StatePendingEntry,
		Size:      1,
		Notional:  100,
		StopPrice: 95,
		Target:    110,
	}
}

func TestJournalReplayPhases(t *testing.T) {
	dir := t.TempDir()
	j := newTestJournal(t, dir)
	at := time.Now()

	// t1: entry submitted, never acked.
	if err := j.Append(actionEntrySubmit, journalTrade("t1", "BTCUSDT"), "", at); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// t2: opened.
	t2 := journalTrade("t2", "ETHUSDT")
	j.Append(actionEntrySubmit, t2, "", at)
	t2.State = StateOpen
	t2.EntryPrice = 100
	j.Append(actionOpened, t2, "", at)
	// t3: closing.
	t3 := journalTrade("t3", "SOLUSDT")
	j.Append(actionEntrySubmit, t3, "", at)
	t3.State = StateOpen
	j.Append(actionOpened, t3, "", at)
	j.Append(actionCloseSubmit, t3, string(ExitStopLoss), at)
	// t4: fully closed, must not be recovered.
	t4 := journalTrade("t4", "XRPUSDT")
	j.Append(actionEntrySubmit, t4, "", at)
	j.Append(actionOpened, t4, "", at)
	j.Append(actionCloseSubmit, t4, string(ExitManual), at)
	j.Append(actionClosed, t4, string(ExitManual), at)
	// t5: entry failed, must not be recovered.
	t5 := journalTrade("t5", "ADAUSDT")
	j.Append(actionEntrySubmit, t5, "", at)
	j.Append(actionEntryFailed, t5, "", at)

	live, err := j.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(live) != 3 {
		t.Fatalf("Replay returned %d trades, want 3", len(live))
	}

	byID := make(map[string]RecoveredTrade)
	for _, rec := range live {
		byID[rec.Trade.ID] = rec
	}
	if rec := byID["t1"]; rec.Phase != PhaseEntryInFlight {
		t.Errorf("t1 phase = %v, want entry in flight", rec.Phase)
	}
	if rec := byID["t2"]; rec.Phase != PhaseOpen || rec.Trade.EntryPrice != 100 {
		t.Errorf("t2 = %+v, want open with entry 100", rec)
	}
	rec := byID["t3"]
	if rec.Phase != PhaseClosing || rec.ExitReason != ExitStopLoss {
		t.Errorf("t3 phase=%v reason=%q, want closing/stop_loss", rec.Phase, rec.ExitReason)
	}
}

func TestJournalSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	j := newTestJournal(t, dir)
	at := time.Now()

	j.Append(actionEntrySubmit, journalTrade("t1", "BTCUSDT"), "", at)
	// Simulate a torn write.
	f, err := os.OpenFile(filepath.Join(dir, "trades.wal"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	f.WriteString("{\"action\":\"opened\",\"trade\":{\"id\":\"t1\"\n")
	f.Close()

	live, err := j.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(live) != 1 || live[0].Phase != PhaseEntryInFlight {
		t.Errorf("live = %+v, want t1 still in entry phase", live)
	}
}

func TestJournalCompact(t *testing.T) {
	dir := t.TempDir()
	j := newTestJournal(t, dir)
	at := time.Now()

	// Lots of completed noise plus one live trade.
	for i := 0; i < 20; i++ {
		tr := journalTrade("done", "BTCUSDT")
		j.Append(actionEntrySubmit, tr, "", at)
		j.Append(actionOpened, tr, "", at)
		j.Append(actionClosed, tr, string(ExitManual), at)
	}
	open := journalTrade("live", "ETHUSDT")
	open.State = StateOpen
	open.EntryPrice = 50

	if err := j.Compact([]RecoveredTrade{{Trade: open, Phase: PhaseOpen}}, at); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	live, err := j.Replay()
	if err != nil {
		t.Fatalf("Replay after compact: %v", err)
	}
	if len(live) != 1 || live[0].Trade.ID != "live" || live[0].Phase != PhaseOpen {
		t.Fatalf("after compact live = %+v, want just the open trade", live)
	}

	// Journal must stay appendable after the swap.
	if err := j.Append(actionCloseSubmit, open, string(ExitManual), at); err != nil {
		t.Fatalf("Append after compact: %v", err)
	}
	live, _ = j.Replay()
	if len(live) != 1 || live[0].Phase != PhaseClosing {
		t.Errorf("after append live = %+v, want closing phase", live)
	}
}

func TestJournalReplayMissingFile(t *testing.T) {
	dir := t.TempDir()
	j := newTestJournal(t, dir)
	os.Remove(filepath.Join(dir, "trades.wal"))

	live, err := j.Replay()
	if err != nil {
		t.Fatalf("Replay on missing file: %v", err)
	}
	if live != nil {
		t.Errorf("live = %v, want nil", live)
	}
}
