package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

const storeFile = "kv.json"

// FileStore persists key-value pairs as a single JSON document on disk.
// The in-memory map is authoritative: every read is served from it, so a
// value written after a failed persist is still observable until the
// process exits. Writes go to a temp file and are renamed into place,
// then read back to confirm durability.
type FileStore struct {
	mu       sync.Mutex
	data     map[string]string
	path     string // empty means memory-only
	evict    func()
	evicting bool
	logger   zerolog.Logger
}

var _ Store = (*FileStore)(nil)

// New creates a file-backed store under dir. If dir is empty or cannot be
// created, the store runs memory-only for the lifetime of the process.
func New(dir string, logger zerolog.Logger) *FileStore {
	s := &FileStore{
		data:   make(map[string]string),
		logger: logger,
	}

	if dir == "" {
		logger.Debug().Msg("no store directory configured, running memory-only")
		return s
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("store directory unavailable, falling back to memory")
		return s
	}

	s.path = filepath.Join(dir, storeFile)
	s.load()

	return s
}

// NewMemory creates a store with no persistence, for tests and callers
// that do not want anything written to disk.
func NewMemory(logger zerolog.Logger) *FileStore {
	return &FileStore{
		data:   make(map[string]string),
		logger: logger,
	}
}

// SetEvictionHook registers fn to run once when a persist fails, before
// the write is retried. Typically wired to the TTL cache's sweep.
func (s *FileStore) SetEvictionHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict = fn
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) {
	s.mu.Lock()
	s.data[key] = value
	err := s.persistLocked()
	hook := s.evict
	retry := err != nil && hook != nil && !s.evicting
	if retry {
		s.evicting = true
	}
	s.mu.Unlock()

	if err == nil {
		return
	}

	s.logger.Warn().Err(err).Str("key", key).Msg("persist failed, value retained in memory")

	if !retry {
		return
	}

	// Free space and try once more. The hook re-enters via Remove, so it
	// must run outside the lock; the evicting flag stops recursion.
	hook()

	s.mu.Lock()
	s.evicting = false
	if err := s.persistLocked(); err != nil {
		s.logger.Warn().Err(err).Msg("persist still failing after eviction sweep")
	}
	s.mu.Unlock()
}

func (s *FileStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return
	}
	delete(s.data, key)
	if err := s.persistLocked(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("persist failed after remove")
	}
}

func (s *FileStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// load reads the persisted document. A missing file is normal on first
// run; a corrupt one is discarded so the process starts clean.
func (s *FileStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("failed to read store file")
		}
		return
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("store file corrupt, starting empty")
		return
	}

	s.data = m
	if s.data == nil {
		s.data = make(map[string]string)
	}

	s.logger.Debug().Int("entries", len(m)).Msg("store loaded")
}

// persistLocked writes the document atomically and verifies it by reading
// it back. Callers hold s.mu.
func (s *FileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return err
	}

	// Read-back verification: the write only counts as durable if the
	// file now holds exactly what was written.
	written, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if !bytes.Equal(written, data) {
		return errReadBackMismatch
	}

	return nil
}
