package presence

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// DefaultGrace is how long a user with no sessions left is still reported online.
const DefaultGrace = 3 * time.Second

// Registry tracks which users hold at least one live realtime session.
type Registry interface {
	// AddSession registers sessionID for userID and reports whether the user
	// just transitioned from offline to online.
	AddSession(userID, sessionID string) bool
	RemoveSession(userID, sessionID string)
	IsOnline(userID string) bool
	ListOnline() []string
}

// Listener receives presence transitions. Calls are made while the registry
// lock is held, so implementations must not call back into the registry and
// must not block.
type Listener interface {
	PresenceChanged(userID string, online bool)
}

// Timer is the subset of *time.Timer the registry needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type entry struct {
	sessions map[string]struct{}
	timer    Timer
	// gen identifies the currently scheduled offline check; stale callbacks
	// that lost a Stop race compare against it and bail out.
	gen uint64
}

// Memory is the process-local Registry.
type Memory struct {
	mu        sync.Mutex
	entries   map[string]*entry
	grace     time.Duration
	afterFunc AfterFunc
	listeners []Listener
	log       *slog.Logger
}

var _ Registry = (*Memory)(nil)

type Option func(*Memory)

// WithAfterFunc replaces the scheduler used for the offline grace period.
func WithAfterFunc(fn AfterFunc) Option {
	return func(m *Memory) { m.afterFunc = fn }
}

func WithListener(l Listener) Option {
	return func(m *Memory) { m.listeners = append(m.listeners, l) }
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Memory) { m.log = log }
}

func NewMemory(grace time.Duration, opts ...Option) *Memory {
	m := &Memory{
		entries:   make(map[string]*entry),
		grace:     grace,
		afterFunc: realAfterFunc,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddListener registers l after construction. Used when the listener itself
// depends on the registry.
func (m *Memory) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Memory) AddSession(userID, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[userID]
	if !ok {
		e = &entry{sessions: make(map[string]struct{})}
		m.entries[userID] = e
	}
	e.sessions[sessionID] = struct{}{}

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
		e.gen++
		m.log.Debug("presence: reconnect within grace", "user_id", userID)
	}

	if ok {
		return false
	}
	m.notify(userID, true)
	return true
}

func (m *Memory) RemoveSession(userID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[userID]
	if !ok {
		return
	}
	delete(e.sessions, sessionID)
	if len(e.sessions) > 0 {
		return
	}

	if m.grace <= 0 {
		delete(m.entries, userID)
		m.notify(userID, false)
		return
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = m.afterFunc(m.grace, func() { m.expire(userID, e, gen) })
}

// expire runs when the grace period elapses. It inspects the live entry, not
// the state seen when the check was scheduled.
func (m *Memory) expire(userID string, e *entry, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.entries[userID]
	if !ok || cur != e || cur.gen != gen || len(cur.sessions) > 0 {
		return
	}
	delete(m.entries, userID)
	m.notify(userID, false)
}

func (m *Memory) IsOnline(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[userID]
	return ok
}

func (m *Memory) ListOnline() []string {
	m.mu.Lock()
	ids := lo.Keys(m.entries)
	m.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// SessionCount returns the number of live sessions for userID.
func (m *Memory) SessionCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[userID]; ok {
		return len(e.sessions)
	}
	return 0
}

func (m *Memory) notify(userID string, online bool) {
	m.log.Info("presence changed", "user_id", userID, "online", online)
	for _, l := range m.listeners {
		l.PresenceChanged(userID, online)
	}
}
