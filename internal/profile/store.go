package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Taylor-Ding/ech/internal/config"
	"github.com/Taylor-Ding/ech/internal/logging"
	"github.com/Taylor-Ding/ech/internal/state"
)

// Store is the in-memory profile catalog backed by one JSON document.
// Mutations take the write lock; readers take the read lock and get copies.
type Store struct {
	mu      sync.RWMutex
	catalog Catalog
	path    string
	logger  *logging.Logger
}

// Open loads the catalog at path. An absent or unreadable document yields a
// catalog with one default profile; nothing is written until Persist.
func Open(path string, logger *logging.Logger) *Store {
	catalog, err := load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Errorf("load profiles from %s: %v, starting with defaults", path, err)
		}
		catalog = DefaultCatalog()
	}
	catalog.normalize()
	return &Store{catalog: catalog, path: path, logger: logger}
}

// OpenDefault resolves the catalog path under dir, creating the directory.
// A directory that cannot be created only surfaces on Persist.
func OpenDefault(dir string, logger *logging.Logger) *Store {
	if err := config.EnsureDir(dir); err != nil {
		logger.Errorf("%v", err)
	}
	return Open(config.CatalogPath(dir), logger)
}

func load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return catalog, nil
}

// Path returns the backing document path.
func (s *Store) Path() string {
	return s.path
}

// List returns a copy of all profiles in catalog order.
func (s *Store) List() []Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Server(nil), s.catalog.Servers...)
}

// Len returns the number of profiles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.catalog.Servers)
}

// Snapshot returns a deep copy of the catalog.
func (s *Store) Snapshot() Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Clone()
}

// Current returns the selected profile, or the first one when nothing is selected.
func (s *Store) Current() (Server, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.catalog.CurrentServerID == nil {
		if len(s.catalog.Servers) == 0 {
			return Server{}, false
		}
		return s.catalog.Servers[0], true
	}
	if idx := s.catalog.indexOf(*s.catalog.CurrentServerID); idx >= 0 {
		return s.catalog.Servers[idx], true
	}
	return Server{}, false
}

// CurrentID returns the selected id, or "" when none is set.
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.catalog.CurrentServerID == nil {
		return ""
	}
	return *s.catalog.CurrentServerID
}

// Select makes id current. Unknown ids are ignored.
func (s *Store) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog.indexOf(id) < 0 {
		return
	}
	s.setCurrent(id)
}

// Add appends srv, assigning a fresh id when it has none, and selects it.
func (s *Store) Add(srv Server) Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if srv.ID == "" || s.catalog.indexOf(srv.ID) >= 0 {
		srv.ID = NewID()
	}
	s.catalog.Servers = append(s.catalog.Servers, srv)
	s.setCurrent(srv.ID)
	return srv
}

// AddNamed adds a default profile carrying name.
func (s *Store) AddNamed(name string) Server {
	srv := DefaultServer()
	srv.ID = ""
	srv.Name = name
	return s.Add(srv)
}

// Update replaces the profile with the same id.
func (s *Store) Update(srv Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.catalog.indexOf(srv.ID)
	if idx < 0 {
		return notFound(srv.ID)
	}
	s.catalog.Servers[idx] = srv
	return nil
}

// Delete removes the profile with id. The catalog never becomes empty: the
// last profile is replaced by a fresh default. A deleted current profile
// hands the selection to the first remaining one.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.catalog.indexOf(id)
	if idx < 0 {
		return notFound(id)
	}
	s.catalog.Servers = append(s.catalog.Servers[:idx], s.catalog.Servers[idx+1:]...)
	if len(s.catalog.Servers) == 0 {
		s.catalog.Servers = append(s.catalog.Servers, DefaultServer())
		s.setCurrent(s.catalog.Servers[0].ID)
	}
	if s.catalog.CurrentServerID != nil && *s.catalog.CurrentServerID == id {
		s.setCurrent(s.catalog.Servers[0].ID)
	}
	return nil
}

// Rename changes only the name of the profile with id.
func (s *Store) Rename(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.catalog.indexOf(id)
	if idx < 0 {
		return notFound(id)
	}
	s.catalog.Servers[idx].Name = name
	return nil
}

func (s *Store) setCurrent(id string) {
	s.catalog.CurrentServerID = &id
}

// Persist writes the whole catalog as indented JSON, replacing the document
// atomically.
func (s *Store) Persist() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.catalog, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return state.NewError(state.ErrorKindSerializationFailed, "serialize config", err)
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return state.NewError(state.ErrorKindIOFailed, "save config", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func notFound(id string) error {
	return state.Errorf(state.ErrorKindNotFound, "server %q not found", id)
}
