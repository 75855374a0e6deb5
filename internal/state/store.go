package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/five82/beacon/internal/push"
	"github.com/five82/beacon/internal/torrentino"
)

// Mode summarizes session health for display.
type Mode int

const (
	// ModeStarting means nothing has been heard from the server yet.
	ModeStarting Mode = iota
	// ModeLive means REST works and the push channel is open.
	ModeLive
	// ModeReconnecting means REST works and the push channel is retrying.
	ModeReconnecting
	// ModePolling means the push channel gave up; data is refreshed by
	// polling only until the user reconnects.
	ModePolling
	// ModeOffline means the server has been unreachable for several calls.
	ModeOffline
	// ModeAuthInvalid means the server rejected the credential.
	ModeAuthInvalid
)

func (m Mode) String() string {
	switch m {
	case ModeStarting:
		return "starting"
	case ModeLive:
		return "live"
	case ModeReconnecting:
		return "reconnecting"
	case ModePolling:
		return "polling"
	case ModeOffline:
		return "offline"
	case ModeAuthInvalid:
		return "auth invalid"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Snapshot represents the latest connectivity data available to the UI.
type Snapshot struct {
	Push                push.Status
	HasData             bool // at least one REST call has succeeded
	AuthInvalid         bool
	LastUpdated         time.Time
	LastError           error
	ConsecutiveFailures int // transport failures since the last answer from the server
}

// IsOffline returns true when the API has been unreachable for multiple calls.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

// Mode folds the snapshot into one display state. A rejected credential
// wins over everything else since retrying cannot fix it.
func (s Snapshot) Mode() Mode {
	switch {
	case s.AuthInvalid:
		return ModeAuthInvalid
	case s.IsOffline():
		return ModeOffline
	case s.Push.Exhausted:
		return ModePolling
	case s.Push.State == push.Connected:
		return ModeLive
	case !s.HasData && s.Push.Opens == 0:
		return ModeStarting
	default:
		return ModeReconnecting
	}
}

// Store coordinates concurrent updates to the snapshot.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// Record folds the outcome of one REST call into the snapshot. Any HTTP
// response proves the server is reachable; only a 401 marks the credential
// invalid.
func (s *Store) Record(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LastUpdated = time.Now()

	var apiErr *torrentino.APIError
	switch {
	case err == nil:
		s.snapshot.HasData = true
		s.snapshot.AuthInvalid = false
		s.snapshot.LastError = nil
		s.snapshot.ConsecutiveFailures = 0
	case errors.Is(err, torrentino.ErrUnauthorized):
		s.snapshot.AuthInvalid = true
		s.snapshot.LastError = err
		s.snapshot.ConsecutiveFailures = 0
	case errors.As(err, &apiErr):
		s.snapshot.AuthInvalid = false
		s.snapshot.ConsecutiveFailures = 0
	default:
		s.snapshot.LastError = err
		s.snapshot.ConsecutiveFailures++
	}
}

// SetPush records the push channel's latest status.
func (s *Store) SetPush(status push.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Push = status
}

// ClearAuth forgets a credential rejection, after the user supplies a new key.
func (s *Store) ClearAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.AuthInvalid = false
	if errors.Is(s.snapshot.LastError, torrentino.ErrUnauthorized) {
		s.snapshot.LastError = nil
	}
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	if s.snapshot.LastError != nil {
		snap.LastError = fmt.Errorf("%w", s.snapshot.LastError)
	}
	return snap
}
