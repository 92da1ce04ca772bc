package forwarder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// pair is the on-disk shape of one forwarder: a two-element
// [id, ForwarderConfig] JSON array. The file is an array of these pairs
// rather than a plain object, so insertion order is preserved across
// save/load round-trips.
type pair [2]interface{}

// Store persists the forwarder set to a single JSON file using a
// write-temp-then-atomic-rename sequence.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a Store rooted at path. An empty path disables
// persistence: Load always returns an empty set and Save is a no-op.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted forwarder set. A missing file is not an
// error.
func (s *Store) Load() ([]*model.ForwarderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("forwarder store: read %s: %w", s.path, err)
	}

	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("forwarder store: decode %s: %w", s.path, err)
	}

	out := make([]*model.ForwarderConfig, 0, len(pairs))
	for _, p := range pairs {
		var cfg model.ForwarderConfig
		if err := json.Unmarshal(p[1], &cfg); err != nil {
			return nil, fmt.Errorf("forwarder store: decode %s: %w", s.path, err)
		}
		out = append(out, &cfg)
	}
	return out, nil
}

// Save writes the full forwarder set, replacing whatever was there
// before, via write-temp-then-rename so a crash mid-write never corrupts
// the previous good copy.
func (s *Store) Save(configs []*model.ForwarderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	pairs := make([]pair, 0, len(configs))
	for _, cfg := range configs {
		pairs = append(pairs, pair{cfg.ID, cfg})
	}

	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return fmt.Errorf("forwarder store: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("forwarder store: mkdir %s: %w", dir, err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("forwarder store: write temp %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("forwarder store: rename %s -> %s: %w", tmpPath, s.path, err)
	}
	return nil
}
