package history

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sprucehealth/dialtone/model"
)

// MaxEntries caps the ledger; appending past it evicts the oldest entry.
const MaxEntries = 500

// Store persists the ledger. Every mutation flushes the full entry list,
// mirroring the single durable-storage slot the history occupies.
type Store interface {
	SaveHistory(entries []model.HistoryEntry) error
	LoadHistory() ([]model.HistoryEntry, error)
}

// Patch is a partial update applied to one entry. Nil fields are left
// untouched.
type Patch struct {
	Status      *model.CallStatus
	EndedAt     *time.Time
	DurationSec *int
}

// Ledger is the shared, bounded call-history log, ordered newest first.
// It is a dumb store: the terminal-transition rules are enforced by the
// controllers that own the entries, not here.
type Ledger struct {
	mu      sync.RWMutex
	entries []model.HistoryEntry
	store   Store
	logger  *zap.Logger
}

// New creates a ledger hydrated from store. Malformed or missing persisted
// data yields an empty ledger rather than an error.
func New(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{store: store, logger: logger}

	if store != nil {
		entries, err := store.LoadHistory()
		if err != nil {
			logger.Warn("loading call history failed, starting empty", zap.Error(err))
		} else {
			if len(entries) > MaxEntries {
				entries = entries[:MaxEntries]
			}
			l.entries = entries
		}
	}
	return l
}

// Append inserts an entry at the head and truncates to the most recent
// MaxEntries. Entries without a sid are silently dropped; callers
// guarantee the required fields.
func (l *Ledger) Append(entry model.HistoryEntry) {
	if entry.SID == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]model.HistoryEntry{entry}, l.entries...)
	if len(l.entries) > MaxEntries {
		l.entries = l.entries[:MaxEntries]
	}
	l.flushLocked()
}

// Patch merges the partial update into the entry with the given sid.
// No-op when the sid is not present.
func (l *Ledger) Patch(sid string, patch Patch) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].SID != sid {
			continue
		}
		if patch.Status != nil {
			l.entries[i].Status = *patch.Status
		}
		if patch.EndedAt != nil {
			endedAt := *patch.EndedAt
			l.entries[i].EndedAt = &endedAt
		}
		if patch.DurationSec != nil {
			dur := *patch.DurationSec
			l.entries[i].DurationSec = &dur
		}
		l.flushLocked()
		return
	}
}

// Clear empties the ledger.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.flushLocked()
}

// Entries returns a copy of the ledger, newest first.
func (l *Ledger) Entries() []model.HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.HistoryEntry{}, l.entries...)
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Find returns the entry with the given sid.
func (l *Ledger) Find(sid string) (model.HistoryEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.SID == sid {
			return e, true
		}
	}
	return model.HistoryEntry{}, false
}

// flushLocked writes the current entries to the store. Persistence
// failures are logged, never fatal.
func (l *Ledger) flushLocked() {
	if l.store == nil {
		return
	}
	if err := l.store.SaveHistory(l.entries); err != nil {
		l.logger.Warn("persisting call history failed", zap.Error(err))
	}
}
