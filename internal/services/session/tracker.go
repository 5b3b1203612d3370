package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
)

const DefaultDisconnectGrace = 30 * time.Second

var (
	ErrTrackerClosed       = errors.New("connection tracker closed")
	ErrDuplicateConnection = errors.New("connection already registered")
)

type graceTimer struct {
	timer *time.Timer
}

// Tracker keeps the in-flight responses and, per session, the set of
// responses reading from it. When the last response of a session ends, a
// delayed check is scheduled; a new response for the session cancels it.
type Tracker struct {
	mu        sync.Mutex
	conns     map[domain.ConnectionID]domain.Connection
	bySession map[domain.SessionID]map[domain.ConnectionID]struct{}
	timers    map[domain.SessionID]*graceTimer
	grace     time.Duration
	onIdle    func(domain.SessionID)
	closed    bool
	logger    *slog.Logger
}

func NewTracker(grace time.Duration, logger *slog.Logger) *Tracker {
	if grace <= 0 {
		grace = DefaultDisconnectGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		conns:     make(map[domain.ConnectionID]domain.Connection),
		bySession: make(map[domain.SessionID]map[domain.ConnectionID]struct{}),
		timers:    make(map[domain.SessionID]*graceTimer),
		grace:     grace,
		logger:    logger,
	}
}

// OnIdle sets the callback run when a session's grace period ends with no
// live connections. It runs outside the tracker lock.
func (t *Tracker) OnIdle(fn func(domain.SessionID)) {
	t.mu.Lock()
	t.onIdle = fn
	t.mu.Unlock()
}

func (t *Tracker) Register(conn domain.Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrackerClosed
	}
	if _, exists := t.conns[conn.ID]; exists {
		return ErrDuplicateConnection
	}
	t.conns[conn.ID] = conn
	if conn.SessionID != "" {
		set := t.bySession[conn.SessionID]
		if set == nil {
			set = make(map[domain.ConnectionID]struct{})
			t.bySession[conn.SessionID] = set
		}
		set[conn.ID] = struct{}{}
		t.cancelGraceLocked(conn.SessionID)
	}
	metrics.ActiveConnections.Set(float64(len(t.conns)))
	return nil
}

// Unregister removes a connection. It reports false when the id is unknown,
// so repeated teardown is harmless.
func (t *Tracker) Unregister(id domain.ConnectionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, ok := t.conns[id]
	if !ok {
		return false
	}
	delete(t.conns, id)
	metrics.ActiveConnections.Set(float64(len(t.conns)))

	if conn.SessionID == "" {
		return true
	}
	set := t.bySession[conn.SessionID]
	delete(set, id)
	if len(set) > 0 {
		return true
	}
	delete(t.bySession, conn.SessionID)
	if !t.closed {
		t.scheduleGraceLocked(conn.SessionID)
	}
	return true
}

func (t *Tracker) HasLiveConnections(id domain.SessionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bySession[id]) > 0
}

// Count returns the number of live connections of a session.
func (t *Tracker) Count(id domain.SessionID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bySession[id])
}

// Snapshot returns all live connections, oldest first.
func (t *Tracker) Snapshot() []domain.Connection {
	t.mu.Lock()
	out := make([]domain.Connection, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Close stops every pending grace check. Registered connections stay until
// their responses unregister them.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id := range t.timers {
		t.cancelGraceLocked(id)
	}
}

func (t *Tracker) scheduleGraceLocked(id domain.SessionID) {
	t.cancelGraceLocked(id)
	g := &graceTimer{}
	t.timers[id] = g
	g.timer = time.AfterFunc(t.grace, func() { t.fireGrace(id, g) })
}

func (t *Tracker) cancelGraceLocked(id domain.SessionID) {
	if g, ok := t.timers[id]; ok {
		g.timer.Stop()
		delete(t.timers, id)
	}
}

func (t *Tracker) fireGrace(id domain.SessionID, g *graceTimer) {
	t.mu.Lock()
	if t.timers[id] != g {
		// Cancelled or superseded after the timer fired.
		t.mu.Unlock()
		return
	}
	delete(t.timers, id)
	live := len(t.bySession[id]) > 0
	onIdle := t.onIdle
	t.mu.Unlock()

	if live || onIdle == nil {
		return
	}
	t.logger.Debug("disconnect grace elapsed", slog.String("sessionId", string(id)), slog.Duration("grace", t.grace))
	onIdle(id)
}
