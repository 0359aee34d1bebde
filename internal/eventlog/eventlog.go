// Package eventlog is the append-only, capped audit trail.
//
// # Behavior
//
// Entries are normalized on append (missing ids, timestamps, and labels get
// defaults), never edited afterwards, and never deleted individually. Once
// the store exceeds its capacity the oldest entries by timestamp are
// evicted before persisting, so the on-disk document never exceeds the cap
// either.
package eventlog

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uptrack-net/uptrack/internal/storage"
	"github.com/uptrack-net/uptrack/pkg/types"
)

// DefaultMaxEntries bounds the log when no explicit cap is configured.
const DefaultMaxEntries = 500

// Store is the capped event log.
type Store struct {
	store  *storage.Store[types.LogEntry]
	logger *slog.Logger
	max    int

	mu      sync.Mutex
	entries []types.LogEntry
	loaded  bool
}

// New creates an event log backed by the given file path. maxEntries <= 0
// selects DefaultMaxEntries.
func New(path string, maxEntries int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s := &Store{
		logger: logger.With("component", "eventlog"),
		max:    maxEntries,
	}
	s.store = storage.NewStore[types.LogEntry](path, nil, logger)
	return s
}

func (s *Store) ensureLoadedLocked() {
	if s.loaded {
		return
	}
	s.entries = s.store.Load()
	s.loaded = true
	s.logger.Info("event log loaded", "entries", len(s.entries), "cap", s.max)
}

// Append normalizes and stores one entry, evicting the oldest entries if
// the cap is exceeded, then persists synchronously.
func (s *Store) Append(entry types.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	s.entries = append(s.entries, normalize(entry))
	s.enforceCapLocked()
	s.persistLocked()
}

// AppendRange normalizes and stores a batch of entries with a single
// persist at the end.
func (s *Store) AppendRange(entries []types.LogEntry) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	for _, e := range entries {
		s.entries = append(s.entries, normalize(e))
	}
	s.enforceCapLocked()
	s.persistLocked()
}

// GetTail returns at most count entries, newest first, as defensive
// copies. count <= 0 yields an empty slice.
func (s *Store) GetTail(count int) []types.LogEntry {
	if count <= 0 {
		return []types.LogEntry{}
	}
	all := s.GetAll()
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// GetAll returns every entry, newest first, as defensive copies.
func (s *Store) GetAll() []types.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	out := make([]types.LogEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// enforceCapLocked drops the oldest entries by timestamp until the cache
// is back at capacity. Caller holds s.mu.
func (s *Store) enforceCapLocked() {
	if len(s.entries) <= s.max {
		return
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Timestamp.Before(s.entries[j].Timestamp)
	})
	evicted := len(s.entries) - s.max
	s.entries = append([]types.LogEntry{}, s.entries[evicted:]...)
	s.logger.Debug("evicted oldest log entries", "count", evicted)
}

// persistLocked writes the cache to disk. Caller holds s.mu.
func (s *Store) persistLocked() {
	if err := s.store.ReplaceAll(s.entries); err != nil {
		s.logger.Error("failed to persist event log", "error", err)
	}
}

// normalize applies the write-time defaults so every stored field is
// non-null.
func normalize(e types.LogEntry) types.LogEntry {
	out := e.Clone()
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	if out.Level == "" {
		out.Level = "Info"
	}
	if out.Source == "" {
		out.Source = types.SourceSystem
	}
	if out.Action == "" {
		out.Action = types.ActionLog
	}
	if out.Actor == "" {
		out.Actor = "system"
	}
	if out.Details == nil {
		out.Details = map[string]string{}
	}
	return out
}
