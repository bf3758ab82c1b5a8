// Package session maps consuming views onto orchestrators. Each session owns
// one orchestrator; closing the session tears every task of it down.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/generation"
	"genstudio/internal/infra"
)

const eventBuffer = 32

// Factory builds the orchestrator of a new session.
type Factory func() (*generation.Orchestrator, error)

// Session is one consuming view and the tasks it started.
type Session struct {
	ID        string
	CreatedAt time.Time

	orch     *generation.Orchestrator
	hub      *hub
	finished *finished
	now      func() time.Time
	lastSeen atomic.Int64
	closed   atomic.Bool
}

// Orchestrator returns the session's orchestrator.
func (s *Session) Orchestrator() *generation.Orchestrator {
	return s.orch
}

// Submit starts a task whose events are also published to the session
// event stream.
func (s *Session) Submit(ctx context.Context, req domain.GenerationRequest) (*generation.TaskHandle, error) {
	if s.closed.Load() {
		return nil, domain.ErrSessionClosed
	}
	h, err := s.orch.Submit(ctx, req, s.record)
	if errors.Is(err, generation.ErrClosed) {
		return nil, domain.ErrSessionClosed
	}
	return h, err
}

func (s *Session) record(ev generation.Event) {
	if ev.Terminal() {
		s.finished.add(ev.Task)
	}
	s.hub.publish(ev)
}

// Task returns a tracked or recently finished task by id or local key.
func (s *Session) Task(id string) (domain.GenerationTask, bool) {
	if t, ok := s.orch.Get(id); ok {
		return t, true
	}
	return s.finished.get(id)
}

// Tasks returns the finished tasks followed by the tracked ones.
func (s *Session) Tasks() []domain.GenerationTask {
	out := s.finished.list()
	seen := make(map[string]struct{}, len(out))
	for _, t := range out {
		seen[t.Key()] = struct{}{}
	}
	for _, t := range s.orch.Registry().Snapshot() {
		if _, ok := seen[t.Key()]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Events subscribes to the task events of this session. A session with an
// open subscription is never reaped; the idle clock restarts when the last
// one ends.
func (s *Session) Events() (<-chan generation.Event, func()) {
	ch, stop := s.hub.subscribe(eventBuffer)
	return ch, func() {
		stop()
		s.touch(s.now())
	}
}

// Listening reports whether any event subscription is open.
func (s *Session) Listening() bool {
	return s.hub.listeners() > 0
}

// LastSeen is the last time the session was opened or looked up.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// Options configures a Manager.
type Options struct {
	Factory     Factory
	IdleTimeout time.Duration
	Logger      *infra.Logger
	Clock       func() time.Time
}

// Manager tracks open sessions.
type Manager struct {
	factory Factory
	idle    time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("session: orchestrator factory is required")
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Manager{
		factory:  opts.Factory,
		idle:     opts.IdleTimeout,
		logger:   logger,
		now:      now,
		sessions: make(map[string]*Session),
	}, nil
}

// Open starts a new session.
func (m *Manager) Open() (*Session, error) {
	orch, err := m.factory()
	if err != nil {
		return nil, fmt.Errorf("session: build orchestrator: %w", err)
	}
	now := m.now()
	s := &Session{ID: uuid.NewString(), CreatedAt: now, orch: orch, hub: newHub(), finished: newFinished(), now: m.now}
	s.touch(now)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.logger.Info().Str("session_id", s.ID).Msg("session: opened")
	return s, nil
}

// Get returns an open session and marks it as seen.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	// Touched under mu so Reap's re-check sees it.
	s.touch(m.now())
	return s, nil
}

// List returns the open sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close tears down every task of the session and returns how many were
// still running.
func (m *Manager) Close(id string) (int, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return m.shutdown(s, "closed"), nil
}

// CloseAll closes every session.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	total := 0
	for _, s := range sessions {
		total += m.shutdown(s, "shutdown")
	}
	return total
}

func (m *Manager) shutdown(s *Session, reason string) int {
	s.closed.Store(true)
	n := s.orch.Close()
	s.orch.Wait()
	s.hub.close()
	m.logger.Info().
		Str("session_id", s.ID).
		Str("reason", reason).
		Int("cancelled", n).
		Msg("session: torn down")
	return n
}

// Reap closes sessions idle for longer than the idle timeout. Sessions with
// an open event stream are not idle.
func (m *Manager) Reap() int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idle)
	var stale []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if !s.Listening() && s.LastSeen().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	reaped := 0
	for _, id := range stale {
		m.mu.Lock()
		s, ok := m.sessions[id]
		if ok && !s.Listening() && s.LastSeen().Before(cutoff) {
			delete(m.sessions, id)
		} else {
			ok = false
		}
		m.mu.Unlock()
		if ok {
			m.shutdown(s, "idle")
			reaped++
		}
	}
	return reaped
}

// RunReaper calls Reap every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	if m.idle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				m.logger.Info().Int("sessions", n).Msg("session: reaped idle sessions")
			}
		}
	}
}
