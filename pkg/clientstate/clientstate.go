// Package clientstate persists the handful of values that live outside the
// store: the active-thread pointer and the one-shot pending-query buffer.
// Both exist to survive a full process restart between thread creation and
// the first response. Storage is a small JSON file under the state dir.
package clientstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"threadsync/pkg/logger"
)

const fileName = "client_state.json"

type payload struct {
	ActiveThreadID string `json:"active_thread_id,omitempty"`
	PendingQuery   string `json:"pending_query,omitempty"`
}

// State is the file-backed key-value holder. Safe for concurrent use.
type State struct {
	mu   sync.Mutex
	path string
	p    payload
}

// Load opens (or creates) the state file under dir. A corrupt or missing
// file degrades to empty state; this data is reconstructable.
func Load(dir string) (*State, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	s := &State{path: filepath.Join(dir, fileName)}
	b, err := os.ReadFile(s.path)
	if err == nil {
		if jerr := json.Unmarshal(b, &s.p); jerr != nil {
			logger.Warn("client_state_corrupt", zap.String("path", s.path), zap.Error(jerr))
			s.p = payload{}
		}
	}
	return s, nil
}

func (s *State) flush() {
	b, err := json.Marshal(s.p)
	if err == nil {
		err = os.WriteFile(s.path, b, 0o600)
	}
	if err != nil {
		logger.Warn("client_state_write_failed", zap.String("path", s.path), zap.Error(err))
	}
}

// ActiveThreadID returns the persisted active-thread pointer.
func (s *State) ActiveThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.ActiveThreadID
}

// SetActiveThreadID persists the active-thread pointer.
func (s *State) SetActiveThreadID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.ActiveThreadID = id
	s.flush()
}

// SetPendingQuery buffers a query for pickup after restart.
func (s *State) SetPendingQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.PendingQuery = q
	s.flush()
}

// TakePendingQuery returns the buffered query and clears it (one-shot).
func (s *State) TakePendingQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.p.PendingQuery
	if q != "" {
		s.p.PendingQuery = ""
		s.flush()
	}
	return q
}
