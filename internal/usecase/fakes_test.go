package usecase

import (
	"context"
	"io"
	"strings"
	"sync"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
)

type fakeSession struct {
	id      domain.SessionID
	files   []domain.FileRef
	openErr error

	mu      sync.Mutex
	openCtx context.Context
	opened  []domain.ByteWindow
}

func (s *fakeSession) ID() domain.SessionID       { return s.id }
func (s *fakeSession) Name() string               { return "Sintel" }
func (s *fakeSession) Files() []domain.FileRef    { return s.files }
func (s *fakeSession) Stats() domain.TransferStats { return domain.TransferStats{} }
func (s *fakeSession) Close() error               { return nil }

func (s *fakeSession) OpenRange(ctx context.Context, file domain.FileRef, w domain.ByteWindow) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.openCtx = ctx
	s.opened = append(s.opened, w)
	return io.NopCloser(strings.NewReader(strings.Repeat("x", int(w.Len())))), nil
}

type fakeProvider struct {
	session  *fakeSession
	leaseCtx context.Context
	getErr   error
	tracker  *fakeTracker
	// attachMisses makes the first n Attach calls report an evicted session.
	attachMisses int

	mu       sync.Mutex
	gets     int
	touches  []domain.SessionID
	attached []domain.Connection
}

func (p *fakeProvider) GetOrCreate(ctx context.Context, magnet string) (*ports.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets++
	if p.getErr != nil {
		return nil, p.getErr
	}
	leaseCtx := p.leaseCtx
	if leaseCtx == nil {
		leaseCtx = context.Background()
	}
	return &ports.Lease{ID: p.session.id, Session: p.session, Ctx: leaseCtx}, nil
}

func (p *fakeProvider) Attach(conn domain.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attachMisses > 0 {
		p.attachMisses--
		return domain.ErrNotFound
	}
	p.attached = append(p.attached, conn)
	return p.tracker.Register(conn)
}

func (p *fakeProvider) Touch(id domain.SessionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.touches = append(p.touches, id)
}

func (p *fakeProvider) touchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.touches)
}

type fakeTracker struct {
	mu    sync.Mutex
	conns map[domain.ConnectionID]domain.Connection
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{conns: make(map[domain.ConnectionID]domain.Connection)}
}

func (t *fakeTracker) Register(conn domain.Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[conn.ID] = conn
	return nil
}

func (t *fakeTracker) Unregister(id domain.ConnectionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.conns[id]
	delete(t.conns, id)
	return ok
}

func (t *fakeTracker) Snapshot() []domain.Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Connection, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	return out
}

func (t *fakeTracker) live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
