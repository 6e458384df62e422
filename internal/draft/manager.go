// Package draft keeps in-progress interview work recoverable across
// disconnects and restarts. Drafts are whole snapshots written to an ordered
// list of storage tiers and expire after a TTL.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zulandar/interviewer/internal/models"
)

// DefaultTTL is how long a saved draft stays recoverable.
const DefaultTTL = 24 * time.Hour

// ErrDraftLost is returned when no tier accepted a save and the remote
// flush failed too. Callers surface it as a warning; typing continues.
var ErrDraftLost = errors.New("draft: draft could not be saved")

const keyPrefix = "draft:"

// Key is the storage key for a session's draft.
func Key(sessionID string) string { return keyPrefix + sessionID }

// SessionFromKey reverses Key.
func SessionFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, keyPrefix), true
}

// Flusher sends the current answer text straight to the server when no
// local tier can hold it.
type Flusher interface {
	FlushAnswer(ctx context.Context, sessionID, answer string) error
}

// FlusherFunc adapts a function to Flusher.
type FlusherFunc func(ctx context.Context, sessionID, answer string) error

func (f FlusherFunc) FlushAnswer(ctx context.Context, sessionID, answer string) error {
	return f(ctx, sessionID, answer)
}

// StatusChecker looks up the authoritative status of a session.
type StatusChecker interface {
	SessionStatus(ctx context.Context, sessionID string) (models.SessionStatus, error)
}

// ManagerOpts configures a Manager.
type ManagerOpts struct {
	Backends []Backend // tried in order; the first is primary
	TTL      time.Duration
	Flusher  Flusher // optional
	Now      func() time.Time
}

// Manager saves and restores drafts.
type Manager struct {
	backends []Backend
	ttl      time.Duration
	flusher  Flusher
	now      func() time.Time
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if len(opts.Backends) == 0 {
		return nil, fmt.Errorf("draft: at least one backend is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		backends: opts.Backends,
		ttl:      opts.TTL,
		flusher:  opts.Flusher,
		now:      opts.Now,
	}, nil
}

// SetFlusher replaces the remote flush hook.
func (m *Manager) SetFlusher(f Flusher) { m.flusher = f }

// Save stamps state with the current time and writes it to every tier.
// It succeeds when at least one tier accepted the write. A tier that
// rejected the write has its older copy removed so it cannot shadow the
// newer one.
func (m *Manager) Save(ctx context.Context, state models.DraftState) error {
	if state.SessionID == "" {
		return fmt.Errorf("draft: save: session ID is required")
	}
	state.Timestamp = m.now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("draft: save: encode: %w", err)
	}

	key := Key(state.SessionID)
	var rejected []Backend
	for _, b := range m.backends {
		if err := b.Set(ctx, key, string(data)); err != nil {
			log.Printf("draft: %s tier rejected save for %s: %v", b.Name(), state.SessionID, err)
			rejected = append(rejected, b)
		}
	}
	if len(rejected) < len(m.backends) {
		for _, b := range rejected {
			if err := b.Remove(ctx, key); err != nil {
				log.Printf("draft: dropping stale %s copy for %s: %v", b.Name(), state.SessionID, err)
			}
		}
		return nil
	}

	if m.flusher != nil {
		ferr := m.flusher.FlushAnswer(ctx, state.SessionID, state.CurrentAnswer)
		if ferr == nil {
			log.Printf("draft: no local tier available for %s; answer flushed to server", state.SessionID)
			return nil
		}
		log.Printf("draft: remote flush for %s failed: %v", state.SessionID, ferr)
	}
	log.Printf("draft: draft for %s lost", state.SessionID)
	return ErrDraftLost
}

// Load returns the freshest usable draft for a session, or nil. Every tier
// is read and the entry with the latest timestamp wins; unreadable entries
// count as absent. An expired draft is removed from every tier.
func (m *Manager) Load(ctx context.Context, sessionID string) (*models.DraftState, error) {
	key := Key(sessionID)
	var freshest *models.DraftState
	for _, b := range m.backends {
		raw, ok, err := b.Get(ctx, key)
		if err != nil {
			log.Printf("draft: %s tier read for %s failed: %v", b.Name(), sessionID, err)
			continue
		}
		if !ok {
			continue
		}
		var state models.DraftState
		if err := json.Unmarshal([]byte(raw), &state); err != nil || state.SessionID != sessionID {
			log.Printf("draft: ignoring unreadable %s entry for %s", b.Name(), sessionID)
			continue
		}
		if freshest == nil || state.Timestamp.After(freshest.Timestamp) {
			freshest = &state
		}
	}
	if freshest == nil {
		return nil, nil
	}
	if m.now().Sub(freshest.Timestamp) >= m.ttl {
		log.Printf("draft: draft for %s expired (saved %s)", sessionID, freshest.Timestamp.Format(time.RFC3339))
		if err := m.Clear(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return freshest, nil
}

// Recover loads a draft and returns it only if the server still considers
// the session resumable. A failed status lookup yields nil.
func (m *Manager) Recover(ctx context.Context, sessionID string, checker StatusChecker) (*models.DraftState, error) {
	state, err := m.Load(ctx, sessionID)
	if err != nil || state == nil {
		return nil, err
	}
	status, err := checker.SessionStatus(ctx, sessionID)
	if err != nil {
		log.Printf("draft: status lookup for %s failed, not recovering: %v", sessionID, err)
		return nil, nil
	}
	if !status.Resumable() {
		log.Printf("draft: session %s is %s, not recovering", sessionID, status)
		return nil, nil
	}
	return state, nil
}

// Clear removes a session's draft from every tier.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	key := Key(sessionID)
	var errs []error
	for _, b := range m.backends {
		if err := b.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("draft: clear %s: %w", sessionID, errors.Join(errs...))
	}
	return nil
}
