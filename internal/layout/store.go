package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Store keeps the layout file in sync with the last saved arrangement.
type Store struct {
	path string

	mu     sync.RWMutex
	layout Layout
}

// NewStore creates a store for path, "layout.toml" when empty.
func NewStore(path string) *Store {
	if path == "" {
		path = "layout.toml"
	}
	return &Store{path: path, layout: New()}
}

// Path returns the file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the file. A missing file leaves the store empty.
func (s *Store) Load() error {
	l, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.layout = l
	s.mu.Unlock()
	return nil
}

// Layout returns the stored layout.
func (s *Store) Layout() Layout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout
}

// Set validates l, stores it and writes the file.
func (s *Store) Set(l Layout) error {
	l.Normalize()
	if err := l.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout = l
	return s.save()
}

// Save writes the stored layout.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *Store) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create layout directory: %w", err)
	}

	data, err := toml.Marshal(s.layout)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}

	// Readers never see a partial file.
	tmp, err := os.CreateTemp(dir, ".layout-*.toml")
	if err != nil {
		return fmt.Errorf("failed to write layout: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write layout: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write layout: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write layout: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write layout: %w", err)
	}
	return nil
}
