package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/metrics"
)

const (
	DefaultMaxSessions = 4
	DefaultIdleTimeout = 10 * time.Minute

	journalWriteTimeout = 2 * time.Second
	shutdownParallelism = 8
)

var ErrRegistryClosed = errors.New("session registry closed")

type sessionAcquirer interface {
	Acquire(ctx context.Context, id domain.SessionID, magnet string) (ports.Session, error)
}

type identifier interface {
	Identify(magnet string) (domain.SessionID, error)
}

type Config struct {
	MaxSessions int
	IdleTimeout time.Duration
}

type entry struct {
	id         domain.SessionID
	magnet     string
	state      domain.SessionState
	handle     ports.Session
	lastAccess time.Time
	createdAt  time.Time
	ctx        context.Context
	cancel     context.CancelFunc

	// ready closes once a pending entry is resolved; err holds the failure.
	ready     chan struct{}
	readyOnce sync.Once
	err       error
	// removed closes when the entry leaves the map.
	removed chan struct{}
}

func (e *entry) resolveLocked(err error) {
	e.readyOnce.Do(func() {
		e.err = err
		close(e.ready)
	})
}

func (e *entry) lease() *ports.Lease {
	return &ports.Lease{ID: e.id, Session: e.handle, Ctx: e.ctx}
}

// Registry owns the remote-fetch sessions: at most one per swarm, a soft cap
// on how many are held, and their reclamation. Lock order is registry, then
// tracker.
type Registry struct {
	mu          sync.Mutex
	entries     map[domain.SessionID]*entry
	ids         identifier
	acquirer    sessionAcquirer
	tracker     *Tracker
	journal     ports.SessionJournal
	logger      *slog.Logger
	now         func() time.Time
	maxSessions int
	idleTimeout time.Duration
	closed      bool
	wg          sync.WaitGroup
}

type RegistryOption func(*Registry)

func WithJournal(j ports.SessionJournal) RegistryOption {
	return func(r *Registry) { r.journal = j }
}

func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(cfg Config, ids identifier, acquirer sessionAcquirer, tracker *Tracker, opts ...RegistryOption) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	r := &Registry{
		entries:     make(map[domain.SessionID]*entry),
		ids:         ids,
		acquirer:    acquirer,
		tracker:     tracker,
		logger:      slog.Default(),
		now:         time.Now,
		maxSessions: cfg.MaxSessions,
		idleTimeout: cfg.IdleTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	tracker.OnIdle(r.EvictIfIdle)
	return r
}

// GetOrCreate returns the session for magnet, acquiring it when absent.
// Concurrent callers for the same swarm share one entry and one acquisition.
func (r *Registry) GetOrCreate(ctx context.Context, magnet string) (*ports.Lease, error) {
	id, err := r.ids.Identify(magnet)
	if err != nil {
		return nil, err
	}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}

		if e, ok := r.entries[id]; ok {
			switch e.state {
			case domain.SessionActive:
				r.touchLocked(e)
				lease := e.lease()
				r.mu.Unlock()
				return lease, nil
			case domain.SessionPending:
				r.touchLocked(e)
				r.mu.Unlock()
				lease, retry, err := r.awaitPending(ctx, e)
				if retry {
					continue
				}
				return lease, err
			default:
				removed := e.removed
				r.mu.Unlock()
				select {
				case <-removed:
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}

		var victim *entry
		if r.liveCountLocked() >= r.maxSessions {
			victim = r.lruIdleLocked()
			if victim != nil && !r.beginEvictLocked(victim) {
				victim = nil
			}
			if victim == nil {
				r.logger.Warn("session capacity exceeded, all sessions busy",
					slog.Int("maxSessions", r.maxSessions),
					slog.Int("live", r.liveCountLocked()),
				)
			}
		}
		e := r.newEntryLocked(id, magnet)
		r.mu.Unlock()

		if victim != nil {
			r.finishEviction(victim, domain.EvictCapacity)
		}
		r.wg.Add(1)
		go r.acquire(e)

		lease, retry, err := r.awaitPending(ctx, e)
		if retry {
			continue
		}
		return lease, err
	}
}

// awaitPending waits for e to resolve. retry is true when e was evicted
// before it became usable and the caller should look the id up again.
func (r *Registry) awaitPending(ctx context.Context, e *entry) (*ports.Lease, bool, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e.err != nil {
		if errors.Is(e.err, domain.ErrSessionEvicted) && !r.closed {
			return nil, true, nil
		}
		return nil, false, e.err
	}
	if e.state != domain.SessionActive {
		// Activated, then evicted before this caller woke up.
		if r.closed {
			return nil, false, ErrRegistryClosed
		}
		return nil, true, nil
	}
	r.touchLocked(e)
	return e.lease(), false, nil
}

// acquire is the only goroutine that moves an entry from pending to active.
func (r *Registry) acquire(e *entry) {
	defer r.wg.Done()
	handle, err := r.acquirer.Acquire(context.Background(), e.id, e.magnet)

	r.mu.Lock()
	if !domain.CanTransition(e.state, domain.SessionActive) {
		// Evicted while acquiring; the handle has no owner.
		r.mu.Unlock()
		if handle != nil {
			r.closeHandle(e.id, handle)
		}
		return
	}
	if err != nil {
		r.setStateLocked(e, domain.SessionRemoved)
		e.cancel()
		if r.entries[e.id] == e {
			delete(r.entries, e.id)
		}
		e.resolveLocked(err)
		count := len(r.entries)
		r.mu.Unlock()
		close(e.removed)
		metrics.ActiveSessions.Set(float64(count))
		metrics.SessionEvictionsTotal.WithLabelValues(string(domain.EvictAcquireFailed)).Inc()
		r.logger.Warn("session acquire failed",
			slog.String("sessionId", string(e.id)),
			slog.String("error", err.Error()),
		)
		r.record(domain.SessionEvent{SessionID: e.id, Kind: domain.EventEvicted, Reason: domain.EvictAcquireFailed, At: r.now().UTC()})
		return
	}
	e.handle = handle
	r.setStateLocked(e, domain.SessionActive)
	r.touchLocked(e)
	e.resolveLocked(nil)
	r.mu.Unlock()

	r.logger.Info("session admitted",
		slog.String("sessionId", string(e.id)),
		slog.String("name", handle.Name()),
	)
	r.record(domain.SessionEvent{SessionID: e.id, Name: handle.Name(), Kind: domain.EventAdmitted, At: r.now().UTC()})
}

// Attach registers conn with the tracker while its session is active. The
// check and the registration happen under the registry lock so capacity
// eviction never picks a session that is being attached to.
func (r *Registry) Attach(conn domain.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[conn.SessionID]
	if !ok || e.state != domain.SessionActive {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, conn.SessionID)
	}
	if err := r.tracker.Register(conn); err != nil {
		return err
	}
	r.touchLocked(e)
	return nil
}

// Touch records activity on a session. Timestamps never move backwards.
func (r *Registry) Touch(id domain.SessionID) {
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		r.touchLocked(e)
	}
	r.mu.Unlock()
}

// Evict removes a session for reason. It is a no-op when the session is
// absent or already being evicted, and reports whether it evicted.
func (r *Registry) Evict(id domain.SessionID, reason domain.EvictReason) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || !r.beginEvictLocked(e) {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()
	r.finishEviction(e, reason)
	return true
}

// EvictIfIdle evicts an active session that has no live connections. It is
// the disconnect-grace path and re-checks connections under the lock.
func (r *Registry) EvictIfIdle(id domain.SessionID) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.state != domain.SessionActive || r.tracker.HasLiveConnections(id) {
		r.mu.Unlock()
		return
	}
	if !r.beginEvictLocked(e) {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.finishEviction(e, domain.EvictGrace)
}

// SweepIdle evicts active sessions untouched for longer than the idle
// timeout, whether or not streams are still attached. It returns the number
// evicted.
func (r *Registry) SweepIdle() int {
	now := r.now()
	r.mu.Lock()
	var stale []*entry
	for _, e := range r.entries {
		if e.state != domain.SessionActive {
			continue
		}
		if now.Sub(e.lastAccess) > r.idleTimeout && r.beginEvictLocked(e) {
			stale = append(stale, e)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		r.finishEviction(e, domain.EvictIdleTimeout)
	}
	return len(stale)
}

// Snapshot lists every entry, oldest first. Transfer stats are read outside
// the registry lock.
func (r *Registry) Snapshot() []domain.SessionSnapshot {
	type item struct {
		snap   domain.SessionSnapshot
		handle ports.Session
	}
	r.mu.Lock()
	items := make([]item, 0, len(r.entries))
	for _, e := range r.entries {
		items = append(items, item{
			snap: domain.SessionSnapshot{
				ID:          e.id,
				Name:        string(e.id),
				State:       e.state,
				Connections: r.tracker.Count(e.id),
				LastAccess:  e.lastAccess,
				CreatedAt:   e.createdAt,
			},
			handle: e.handle,
		})
	}
	r.mu.Unlock()

	out := make([]domain.SessionSnapshot, 0, len(items))
	for _, it := range items {
		if it.handle != nil {
			it.snap.Name = it.handle.Name()
			it.snap.Stats = it.handle.Stats()
		}
		out = append(out, it.snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of entries in any state.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// WithOwnedKeys runs fn under the registry lock. owns reports whether a
// storage key belongs to an entry in any state.
func (r *Registry) WithOwnedKeys(fn func(owns func(key string) bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(func(key string) bool {
		_, ok := r.entries[domain.SessionID(key)]
		return ok
	})
}

// Close evicts every session concurrently and refuses new ones. It returns
// ctx.Err() if the evictions outlive ctx.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	var evict []*entry
	var waiting []chan struct{}
	for _, e := range r.entries {
		if !r.beginEvictLocked(e) {
			waiting = append(waiting, e.removed)
			continue
		}
		evict = append(evict, e)
	}
	r.mu.Unlock()
	r.tracker.Close()
	if c, ok := r.acquirer.(interface{ Close() }); ok {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		p := pool.New().WithMaxGoroutines(shutdownParallelism)
		for _, e := range evict {
			p.Go(func() { r.finishEviction(e, domain.EvictShutdown) })
		}
		p.Wait()
		for _, ch := range waiting {
			<-ch
		}
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("session registry closed", slog.Int("evicted", len(evict)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) newEntryLocked(id domain.SessionID, magnet string) *entry {
	ctx, cancel := context.WithCancel(context.Background())
	now := r.now()
	e := &entry{
		id:         id,
		magnet:     magnet,
		state:      domain.SessionPending,
		lastAccess: now,
		createdAt:  now,
		ctx:        ctx,
		cancel:     cancel,
		ready:      make(chan struct{}),
		removed:    make(chan struct{}),
	}
	r.entries[id] = e
	metrics.ActiveSessions.Set(float64(len(r.entries)))
	return e
}

func (r *Registry) touchLocked(e *entry) {
	if now := r.now(); now.After(e.lastAccess) {
		e.lastAccess = now
	}
}

func (r *Registry) liveCountLocked() int {
	n := 0
	for _, e := range r.entries {
		if e.state.Live() {
			n++
		}
	}
	return n
}

// lruIdleLocked picks the least recently used active entry with no live
// connections, or nil.
func (r *Registry) lruIdleLocked() *entry {
	var victim *entry
	for _, e := range r.entries {
		if e.state != domain.SessionActive || r.tracker.HasLiveConnections(e.id) {
			continue
		}
		if victim == nil || e.lastAccess.Before(victim.lastAccess) ||
			(e.lastAccess.Equal(victim.lastAccess) && e.id < victim.id) {
			victim = e
		}
	}
	return victim
}

// beginEvictLocked marks e evicting and cancels every stream scoped to it.
// The entry stays in the map, still owning its storage key, until
// finishEviction. It reports false when e is already past the point where it
// can be evicted.
func (r *Registry) beginEvictLocked(e *entry) bool {
	if e.state == domain.SessionEvicting || !r.setStateLocked(e, domain.SessionEvicting) {
		return false
	}
	e.cancel()
	e.resolveLocked(domain.ErrSessionEvicted)
	return true
}

// setStateLocked applies a lifecycle transition. Transitions the lifecycle
// does not allow are refused and logged.
func (r *Registry) setStateLocked(e *entry, to domain.SessionState) bool {
	if !domain.CanTransition(e.state, to) {
		r.logger.Error("refused session state transition",
			slog.String("sessionId", string(e.id)),
			slog.String("error", fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, e.state, to).Error()),
		)
		return false
	}
	e.state = to
	return true
}

func (r *Registry) finishEviction(e *entry, reason domain.EvictReason) {
	var stats domain.TransferStats
	name := string(e.id)
	if e.handle != nil {
		stats = e.handle.Stats()
		name = e.handle.Name()
		r.closeHandle(e.id, e.handle)
	}

	r.mu.Lock()
	if r.entries[e.id] == e {
		delete(r.entries, e.id)
	}
	r.setStateLocked(e, domain.SessionRemoved)
	count := len(r.entries)
	r.mu.Unlock()
	close(e.removed)

	metrics.ActiveSessions.Set(float64(count))
	metrics.SessionEvictionsTotal.WithLabelValues(string(reason)).Inc()
	r.logger.Info("session evicted",
		slog.String("sessionId", string(e.id)),
		slog.String("reason", string(reason)),
	)
	r.record(domain.SessionEvent{
		SessionID:  e.id,
		Name:       name,
		Kind:       domain.EventEvicted,
		Reason:     reason,
		Downloaded: stats.Downloaded,
		Uploaded:   stats.Uploaded,
		At:         r.now().UTC(),
	})
}

func (r *Registry) closeHandle(id domain.SessionID, handle ports.Session) {
	if err := handle.Close(); err != nil {
		r.logger.Warn("session close failed",
			slog.String("sessionId", string(id)),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Registry) record(event domain.SessionEvent) {
	if r.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := r.journal.Record(ctx, event); err != nil {
		r.logger.Warn("session journal write failed",
			slog.String("sessionId", string(event.SessionID)),
			slog.String("kind", string(event.Kind)),
			slog.String("error", err.Error()),
		)
	}
}
