// Package session holds the in-memory application context of each user session.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/chat"
	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/events"
	"github.com/snappy-loop/storytime/internal/story"
)

// ErrNotFound is returned for an unknown or evicted session id.
var ErrNotFound = errors.New("session not found")

// Generator is everything a session's orchestrators call.
type Generator interface {
	story.Generator
	chat.Replier
}

// Session is one user's gate, story and chat.
type Session struct {
	ID        string
	CreatedAt time.Time
	Gate      *credential.Gate
	Story     *story.Orchestrator
	Chat      *chat.Orchestrator

	lastSeen atomic.Int64 // unix nanos
}

// Provider returns the session's credential capability (may be nil).
func (s *Session) Provider() credential.Provider { return s.Gate.Provider() }

func (s *Session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

// LastSeen returns the last time the session was accessed.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Options configures a Manager.
type Options struct {
	// NewProvider returns the credential capability for a new session; nil means none.
	NewProvider                func() credential.Provider
	Hub                        *events.Hub
	Publisher                  events.Publisher // published to in addition to Hub
	MaxConcurrentIllustrations int
	IdleTimeout                time.Duration
}

// Manager owns every live session.
type Manager struct {
	gen  Generator
	opts Options
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns an empty manager.
func NewManager(gen Generator, opts Options) *Manager {
	return &Manager{
		gen:      gen,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create builds a session and checks its gate once.
func (m *Manager) Create(ctx context.Context) *Session {
	id := uuid.NewString()

	var pubs events.Multi
	if m.opts.Hub != nil {
		pubs = append(pubs, m.opts.Hub)
	}
	if m.opts.Publisher != nil {
		pubs = append(pubs, m.opts.Publisher)
	}

	var provider credential.Provider
	if m.opts.NewProvider != nil {
		provider = m.opts.NewProvider()
	}

	gate := credential.NewGate(provider)
	gate.OnChange(func(state credential.State) {
		e := events.New(id, events.GateChanged).WithMessage(string(state))
		if err := pubs.Publish(context.Background(), e); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Failed to publish event")
		}
	})

	s := &Session{
		ID:        id,
		CreatedAt: m.now().UTC(),
		Gate:      gate,
		Story: story.NewOrchestrator(m.gen, provider, story.Options{
			SessionID:                  id,
			MaxConcurrentIllustrations: m.opts.MaxConcurrentIllustrations,
			Publisher:                  pubs,
		}),
		Chat: chat.NewOrchestrator(m.gen, provider, id, pubs),
	}
	s.touch(m.now())

	state := gate.Check(ctx)

	m.mu.Lock()
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	log.Info().
		Str("session_id", id).
		Str("gate", string(state)).
		Int("sessions", count).
		Msg("Session created")
	return s
}

// Get returns the session and marks it as seen.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Delete removes the session and closes its event subscribers.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if m.opts.Hub != nil {
		m.opts.Hub.CloseSession(id)
	}
	log.Info().Str("session_id", id).Msg("Session deleted")
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle for longer than the idle timeout and returns how many were removed.
func (m *Manager) Sweep() int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.opts.IdleTimeout)

	var expired []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if m.opts.Hub != nil {
			m.opts.Hub.CloseSession(id)
		}
	}
	if len(expired) > 0 {
		log.Info().Int("evicted", len(expired)).Msg("Idle sessions evicted")
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || m.opts.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
