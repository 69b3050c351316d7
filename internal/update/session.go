package update

import (
	"fmt"
	"sync"
	"time"
)

// State is the position of a Session in the update workflow.
type State string

const (
	StateIdle       State = "idle"
	StateChecked    State = "checked"
	StateDownloaded State = "downloaded"
	StatePreviewed  State = "previewed"
	StateInstalled  State = "installed"
	StateFailed     State = "failed"
)

// Session carries the state of one admin's update workflow between actions.
// It is a value: every Service operation takes a Session and returns the
// successor, and the caller decides where to persist it.
type Session struct {
	ID           string    `json:"id"`
	State        State     `json:"state"`
	Release      *Release  `json:"release,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	ArtifactTag  string    `json:"artifact_tag,omitempty"`
	LastReport   *Report   `json:"last_report,omitempty"`
	CSRFToken    string    `json:"csrf_token,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Revision counts stores by the admin server. A writer that loaded an
	// older revision must not overwrite a newer one.
	Revision int64 `json:"revision,omitempty"`
}

// NewSession returns an idle session.
func NewSession(id, csrfToken string, now time.Time) Session {
	return Session{ID: id, State: StateIdle, CSRFToken: csrfToken, UpdatedAt: now}
}

// HasArtifact reports whether a downloaded archive is recorded.
func (s Session) HasArtifact() bool {
	return s.ArtifactPath != ""
}

// SessionStore persists sessions between requests.
type SessionStore interface {
	// LoadSession returns the stored session, or nil if none exists.
	LoadSession(id string) (*Session, error)
	SaveSession(sess *Session) error
	DeleteSession(id string) error
}

// MemorySessionStore is an in-process SessionStore.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

var _ SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (m *MemorySessionStore) LoadSession(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (m *MemorySessionStore) SaveSession(sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = *sess
	return nil
}

func (m *MemorySessionStore) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
