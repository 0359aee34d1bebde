// Package settings owns the mutable monitor configuration.
//
// The store validates edits against declared bounds before persisting and
// hands callers a field-level diff of what actually changed, so settings
// edits can be audit-logged exactly. The monitor loop only ever reads
// copies; it never holds a reference into this store.
package settings

import (
	"log/slog"
	"sync"

	"github.com/uptrack-net/uptrack/internal/storage"
	"github.com/uptrack-net/uptrack/pkg/types"
)

// Store holds the authoritative MonitorOptions.
type Store struct {
	store  *storage.Store[types.MonitorOptions]
	logger *slog.Logger

	mu     sync.Mutex
	opts   types.MonitorOptions
	loaded bool
}

// New creates a settings store backed by the given file path. initial is
// written on first run when no settings document exists yet.
func New(path string, initial types.MonitorOptions, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		logger: logger.With("component", "settings"),
	}
	// The settings document is a single-element list so it shares the
	// flat-file store with the other collections.
	s.store = storage.NewStore(path, func() []types.MonitorOptions {
		return []types.MonitorOptions{initial.Clone()}
	}, logger)
	return s
}

func (s *Store) ensureLoadedLocked() {
	if s.loaded {
		return
	}
	records := s.store.Load()
	if len(records) > 0 {
		s.opts = records[0].Clone()
	} else {
		s.opts = types.DefaultMonitorOptions()
	}
	s.loaded = true
	s.logger.Info("monitor settings loaded",
		"poll_interval_seconds", s.opts.PollIntervalSeconds,
		"ping_timeout_ms", s.opts.PingTimeoutMs,
		"tcp_fallback", s.opts.TCPFallbackEnabled)
}

// GetMonitor returns a deep copy of the current options.
func (s *Store) GetMonitor() types.MonitorOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	return s.opts.Clone()
}

// TrySaveMonitor validates and persists new options.
//
// On validation failure it returns ok=false with a message and no diff; the
// stored configuration is untouched. On success it returns the field-level
// diff against the previously stored options so the caller can audit-log
// the change. A persistence failure is reported through errMsg rather than
// panicking, and the in-memory options are left unchanged.
func (s *Store) TrySaveMonitor(input types.MonitorOptions) (ok bool, diff types.OptionsDiff, errMsg string) {
	if err := input.Validate(); err != nil {
		return false, nil, err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	next := input.Clone()
	diff = s.opts.Diff(next)

	if err := s.store.ReplaceAll([]types.MonitorOptions{next}); err != nil {
		s.logger.Error("failed to persist monitor settings", "error", err)
		return false, nil, "saving settings: " + err.Error()
	}
	s.opts = next

	if len(diff) > 0 {
		s.logger.Info("monitor settings saved", "changed_fields", len(diff))
	}
	return true, diff, ""
}
