// Package wsmanager owns the set of live sessions keyed by build directory
// and routes tool requests to the right one, with a last-N reuse cache and
// serialized per-key creation (spec §4.H).
package wsmanager

import (
	"context"
	"sync"

	"github.com/mcpcpp/bridge/internal/session"
)

// DefaultCacheSize is the total number of live sessions kept, counting the
// one currently in active use; with 2, one previous session stays alive
// across a component switch (spec §4.H / §9), and the invariant N ≥ 1
// holds.
const DefaultCacheSize = 2

// Starter creates a new session for a build-directory key. It is supplied
// by the caller (internal/tools, wiring session.Start) so this package
// stays free of a direct dependency on clangdproc/compiledb construction
// details.
type Starter func(ctx context.Context, key string) (*session.Session, error)

type creation struct {
	done chan struct{}
	sess *session.Session
	err  error
}

// Manager is the workspace-session owner from spec §4.H.
type Manager struct {
	start Starter
	cacheSize int

	// rescanGate implements the conservative discipline chosen for the
	// spec's open question on rescan vs. in-flight-operation ordering:
	// Get calls hold the read side so they may run concurrently with each
	// other, while Rescan takes the write side and so waits out every
	// in-flight Get/session-creation before tearing sessions down.
	rescanGate sync.RWMutex

	mu       sync.Mutex
	sessions map[string]*session.Session
	creating map[string]*creation
	order    []string // most-recently-used last
}

// New creates a manager that uses start to build new sessions on demand.
func New(start Starter, cacheSize int) *Manager {
	if cacheSize < 1 {
		cacheSize = 1
	}
	return &Manager{
		start:     start,
		cacheSize: cacheSize,
		sessions:  make(map[string]*session.Session),
		creating:  make(map[string]*creation),
	}
}

// Get resolves key to a session, reusing an existing one, joining an
// in-flight creation for the same key, or creating a new one (spec §4.H
// steps 1-3).
func (m *Manager) Get(ctx context.Context, key string) (*session.Session, error) {
	m.rescanGate.RLock()
	defer m.rescanGate.RUnlock()

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.touchLocked(key)
		m.mu.Unlock()
		return s, nil
	}
	if c, ok := m.creating[key]; ok {
		m.mu.Unlock()
		<-c.done
		return c.sess, c.err
	}

	c := &creation{done: make(chan struct{})}
	m.creating[key] = c
	m.mu.Unlock()

	sess, err := m.start(ctx, key)

	var toEvict []*session.Session
	m.mu.Lock()
	delete(m.creating, key)
	if err == nil {
		m.sessions[key] = sess
		m.touchLocked(key)
		toEvict = m.evictLocked()
	}
	c.sess, c.err = sess, err
	m.mu.Unlock()
	close(c.done)

	for _, evicted := range toEvict {
		_ = evicted.Shutdown(context.Background())
	}

	return sess, err
}

func (m *Manager) touchLocked(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append(m.order, key)
}

// evictLocked removes the least-recently-used sessions beyond cacheSize,
// per the last-N reuse policy, and returns them so the caller can call
// Shutdown on them without holding mu.
func (m *Manager) evictLocked() []*session.Session {
	var evicted []*session.Session
	for len(m.order) > m.cacheSize {
		oldest := m.order[0]
		m.order = m.order[1:]
		if s, ok := m.sessions[oldest]; ok {
			delete(m.sessions, oldest)
			evicted = append(evicted, s)
		}
	}
	return evicted
}

// Rescan destroys every live session (spec §4.H "Explicit rescan destroys
// all sessions"). It takes the write side of rescanGate, so it waits for
// every in-flight Get to finish before tearing sessions down — the
// conservative "serialize" discipline from spec §9's open question.
func (m *Manager) Rescan(ctx context.Context) {
	m.rescanGate.Lock()
	defer m.rescanGate.Unlock()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session.Session)
	m.order = nil
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Shutdown(ctx)
	}
}

// Len reports how many sessions are currently live, for diagnostics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
