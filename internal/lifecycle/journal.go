package lifecycle

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Journal actions, in submission order.
const (
	actionEntrySubmit = "entry_submit"
	actionOpened      = "opened"
	actionEntryFailed = "entry_failed"
	actionCloseSubmit = "close_submit"
	actionStuck       = "stuck"
	actionClosed      = "closed"
)

type journalEntry struct {
	Action string    `json:"action"`
	Trade  Trade     `json:"trade"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Phase classifies where a recovered trade was when the process died.
type Phase int

const (
	// PhaseEntryInFlight: entry submitted, fill never acknowledged.
	PhaseEntryInFlight Phase = iota
	// PhaseOpen: position confirmed open.
	PhaseOpen
	// PhaseClosing: close submitted, completion never acknowledged.
	PhaseClosing
)

// RecoveredTrade is a live trade reconstructed from the journal.
type RecoveredTrade struct {
	Trade      Trade
	Phase      Phase
	ExitReason ExitReason
}

// Journal is a JSON-lines write-ahead log of trade intents. Every intent is
// appended and fsynced before the order goes out, so a crash between submit
// and ack is visible on restart instead of causing a double submit.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
	log  *zap.Logger
}

// NewJournal opens (or creates) the trade journal under dir.
func NewJournal(dir string, log *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	path := filepath.Join(dir, "trades.wal")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{
		path: path,
		file: file,
		log:  log.With(zap.String("component", "journal")),
	}, nil
}

// Append writes one intent and syncs it to disk.
func (j *Journal) Append(action string, tr Trade, reason string, at time.Time) error {
	data, err := json.Marshal(journalEntry{Action: action, Trade: tr, Reason: reason, At: at})
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("journal closed")
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Replay folds the journal into the set of trades that were still live when
// the process last stopped. Unparseable lines are skipped, not fatal.
func (j *Journal) Replay() ([]RecoveredTrade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal for replay: %w", err)
	}
	defer file.Close()

	type tradeTrace struct {
		trade  Trade
		phase  Phase
		reason ExitReason
		done   bool
	}
	traces := make(map[string]*tradeTrace)
	var order []string

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var entry journalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			j.log.Warn("skipping unparseable journal line", zap.Error(err))
			continue
		}
		id := entry.Trade.ID
		tr, ok := traces[id]
		if !ok {
			tr = &tradeTrace{}
			traces[id] = tr
			order = append(order, id)
		}
		switch entry.Action {
		case actionEntrySubmit:
			tr.trade = entry.Trade
			tr.phase = PhaseEntryInFlight
		case actionOpened:
			tr.trade = entry.Trade
			tr.phase = PhaseOpen
		case actionCloseSubmit, actionStuck:
			tr.trade = entry.Trade
			tr.phase = PhaseClosing
			tr.reason = ExitReason(entry.Reason)
		case actionClosed, actionEntryFailed:
			tr.done = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	var live []RecoveredTrade
	for _, id := range order {
		tr := traces[id]
		if tr.done || tr.trade.ID == "" {
			continue
		}
		live = append(live, RecoveredTrade{Trade: tr.trade, Phase: tr.phase, ExitReason: tr.reason})
	}
	return live, nil
}

// Compact rewrites the journal keeping only the given live trades, using a
// temp file and atomic rename.
func (j *Journal) Compact(live []RecoveredTrade, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tempPath := j.path + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create compaction file: %w", err)
	}

	enc := json.NewEncoder(tempFile)
	for _, rec := range live {
		entries := []journalEntry{{Action: actionEntrySubmit, Trade: rec.Trade, At: at}}
		if rec.Phase >= PhaseOpen {
			entries = append(entries, journalEntry{Action: actionOpened, Trade: rec.Trade, At: at})
		}
		if rec.Phase == PhaseClosing {
			entries = append(entries, journalEntry{
				Action: actionCloseSubmit, Trade: rec.Trade, Reason: string(rec.ExitReason), At: at,
			})
		}
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				tempFile.Close()
				os.Remove(tempPath)
				return fmt.Errorf("write compaction entry: %w", err)
			}
		}
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync compaction file: %w", err)
	}
	tempFile.Close()

	if j.file != nil {
		j.file.Close()
	}
	if err := os.Rename(tempPath, j.path); err != nil {
		return fmt.Errorf("swap journal: %w", err)
	}
	j.file, err = os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen journal: %w", err)
	}
	j.log.Info("journal compacted", zap.Int("live_trades", len(live)))
	return nil
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	j.file.Sync()
	err := j.file.Close()
	j.file = nil
	return err
}
