// Package storage provides a durable flat-file JSON store shared by the
// device registry, the event log, and the settings store.
//
// # Durability Model
//
// Each store owns one JSON document on disk and rewrites it wholesale on
// every mutation. Writes go to a temporary file in the same directory and
// are renamed over the target, so a crash mid-write leaves the previous
// document intact.
//
// # Failure Model
//
// Read failures (missing file aside, which triggers seeding) degrade to the
// seed collection and are logged; a broken disk must not take down the
// monitor. Write failures are returned to the caller, who decides whether
// the in-memory state still advances.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store persists a list of records of type T as a single JSON document.
// All operations are serialized by an internal mutex.
type Store[T any] struct {
	path   string
	seed   func() []T
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a store backed by the file at path. seed produces the
// initial collection written on first Load when no file exists yet; nil
// means start empty.
func NewStore[T any](path string, seed func() []T, logger *slog.Logger) *Store[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if seed == nil {
		seed = func() []T { return []T{} }
	}
	return &Store[T]{
		path:   path,
		seed:   seed,
		logger: logger.With("component", "storage", "file", filepath.Base(path)),
	}
}

// Path returns the backing file path.
func (s *Store[T]) Path() string {
	return s.path
}

// Load reads the full collection from disk. If the backing file does not
// exist it is created with the seed collection. A corrupt or unreadable
// file is logged and degrades to an empty collection; the damaged file is
// left in place for an operator and durability failures stay non-fatal to
// the running process.
func (s *Store[T]) Load() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			initial := s.seed()
			if werr := s.writeLocked(initial); werr != nil {
				s.logger.Error("failed to create backing file", "error", werr)
			}
			return initial
		}
		s.logger.Error("failed to read backing file, starting empty", "error", err)
		return []T{}
	}

	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Error("backing file is corrupt, starting empty", "error", err)
		return []T{}
	}
	if records == nil {
		records = []T{}
	}
	return records
}

// ReplaceAll atomically rewrites the backing file with the given records.
func (s *Store[T]) ReplaceAll(records []T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(records)
}

// writeLocked performs the temp-write-then-rename. Caller holds s.mu.
func (s *Store[T]) writeLocked(records []T) error {
	if records == nil {
		records = []T{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling records: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}
