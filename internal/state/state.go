// Package state persists the small bits of CLI state that survive between
// runs: which Discogs token in the ring is active and when pending entries
// were last swept.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"tunesync/internal/fsutil"
)

const (
	appName       = "tunesync"
	stateFileName = "state.json"
)

// State is the on-disk document.
type State struct {
	DiscogsTokenIndex int       `json:"discogs_token_index"`
	LastPendingSweep  time.Time `json:"last_pending_sweep,omitzero"`
}

// Manager reads and writes the state file.
type Manager struct {
	path string
}

// Open returns a manager rooted at the XDG state directory.
func Open() (*Manager, error) {
	path, err := xdg.StateFile(filepath.Join(appName, stateFileName))
	if err != nil {
		return nil, fmt.Errorf("resolve state path: %w", err)
	}
	return &Manager{path: path}, nil
}

// OpenAt returns a manager for an explicit path, used by tests.
func OpenAt(path string) *Manager {
	return &Manager{path: path}
}

// Load reads the state document. A missing file yields the zero state.
func (m *Manager) Load() (State, error) {
	var s State
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("parse state: %w", err)
	}
	return s, nil
}

// Save writes the state document atomically.
func (m *Manager) Save(s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// RotateToken advances the token index modulo the ring length and persists
// it. Returns the new index. A ring of zero or one tokens stays at zero.
func (m *Manager) RotateToken(ringLen int) (int, error) {
	s, err := m.Load()
	if err != nil {
		return 0, err
	}
	if ringLen <= 1 {
		s.DiscogsTokenIndex = 0
	} else {
		s.DiscogsTokenIndex = (s.DiscogsTokenIndex + 1) % ringLen
	}
	if err := m.Save(s); err != nil {
		return 0, err
	}
	return s.DiscogsTokenIndex, nil
}

// TokenIndex returns the persisted token index, clamped to the ring length.
func (m *Manager) TokenIndex(ringLen int) int {
	s, err := m.Load()
	if err != nil || ringLen <= 0 || s.DiscogsTokenIndex >= ringLen || s.DiscogsTokenIndex < 0 {
		return 0
	}
	return s.DiscogsTokenIndex
}

// MarkPendingSweep stamps the last pending sweep time and persists it.
func (m *Manager) MarkPendingSweep(at time.Time) error {
	s, err := m.Load()
	if err != nil {
		return err
	}
	s.LastPendingSweep = at.UTC()
	return m.Save(s)
}
