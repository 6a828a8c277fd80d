// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// storeFileVersion is the format version written to the state file.
const storeFileVersion = 1

// storeFile is the on-disk shape of the state file.
type storeFile struct {
	Version  int       `json:"version"`
	Sessions []Session `json:"sessions"`
}

// Store owns the thread-ID → session mapping. All mutations go
// through the store mutex and are flushed to disk before the mutating
// call returns, so a crash at any point loses at most the mutation in
// flight.
type Store struct {
	path             string
	defaultDirectory string
	logger           *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a store backed by the state file at path. New
// sessions start in defaultDirectory. Nil logger discards warnings.
// Call Load before first use.
func NewStore(path string, defaultDirectory string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		path:             path,
		defaultDirectory: defaultDirectory,
		logger:           logger,
		sessions:         make(map[string]*Session),
	}
}

// Load reads the state file into memory. A missing file yields an
// empty store. A corrupt file yields an empty store with a warning;
// the damaged file is preserved next to the original under a .corrupt
// suffix so the operator can recover it by hand. Active is forced
// false on every loaded session: no execution survives a restart.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: reading state file: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		corruptPath := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, corruptPath); renameErr != nil {
			s.logger.Warn("preserving corrupt state file failed",
				"path", s.path, "error", renameErr)
		}
		s.logger.Warn("state file is corrupt, starting empty",
			"path", s.path, "preserved", corruptPath, "error", err)
		return nil
	}
	if file.Version > storeFileVersion {
		s.logger.Warn("state file has a newer format version",
			"path", s.path, "version", file.Version, "supported", storeFileVersion)
	}

	for index := range file.Sessions {
		loaded := file.Sessions[index]
		if loaded.ThreadID == "" {
			// Skip corrupt or incomplete entries.
			continue
		}
		loaded.Active = false
		s.sessions[loaded.ThreadID] = &loaded
	}
	return nil
}

// GetOrCreate returns a copy of the session for threadID, creating
// and persisting it with config defaults on first sight.
func (s *Store) GetOrCreate(threadID string, now time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[threadID]; ok {
		return *existing, nil
	}

	created := &Session{
		ThreadID:         threadID,
		WorkingDirectory: s.defaultDirectory,
		LastActivity:     now,
	}
	s.sessions[threadID] = created
	if err := s.persistLocked(); err != nil {
		delete(s.sessions, threadID)
		return Session{}, err
	}
	return *created, nil
}

// Update applies mutate to the session for threadID under the store
// mutex, stamps LastActivity, and persists before returning the
// updated copy. The session must already exist.
func (s *Store) Update(threadID string, now time.Time, mutate func(*Session)) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[threadID]
	if !ok {
		return Session{}, fmt.Errorf("session: unknown thread %q", threadID)
	}

	// Mutate a copy so a persist failure leaves memory matching disk.
	updated := *existing
	mutate(&updated)
	updated.ThreadID = threadID
	updated.LastActivity = now

	s.sessions[threadID] = &updated
	if err := s.persistLocked(); err != nil {
		s.sessions[threadID] = existing
		return Session{}, err
	}
	return updated, nil
}

// DefaultDirectory returns the directory new sessions start in. A
// change-directory with no argument resets a session to it.
func (s *Store) DefaultDirectory() string {
	return s.defaultDirectory
}

// Get returns a copy of the session for threadID, or false when no
// session exists for it.
func (s *Store) Get(threadID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[threadID]
	if !ok {
		return Session{}, false
	}
	return *existing, true
}

// Snapshot returns copies of every session ordered by ThreadID.
func (s *Store) Snapshot() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Session, 0, len(s.sessions))
	for _, existing := range s.sessions {
		result = append(result, *existing)
	}
	slices.SortFunc(result, func(a, b Session) int {
		return strings.Compare(a.ThreadID, b.ThreadID)
	})
	return result
}

// Len returns the number of sessions in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// persistLocked writes the state file atomically: encode, write to a
// temp file in the same directory, fsync, rename. A crash mid-write
// never yields a truncated state file. Caller holds the mutex.
func (s *Store) persistLocked() error {
	file := storeFile{
		Version:  storeFileVersion,
		Sessions: make([]Session, 0, len(s.sessions)),
	}
	for _, existing := range s.sessions {
		file.Sessions = append(file.Sessions, *existing)
	}
	slices.SortFunc(file.Sessions, func(a, b Session) int {
		return strings.Compare(a.ThreadID, b.ThreadID)
	})

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding state: %w", err)
	}
	data = append(data, '\n')

	tmpFile, err := os.CreateTemp(filepath.Dir(s.path), "sessions-*.json")
	if err != nil {
		return fmt.Errorf("session: creating temp state file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("session: writing state: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("session: syncing state: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("session: closing temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("session: renaming state file: %w", err)
	}

	success = true
	return nil
}
