package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	id       domain.SessionID
	mu       sync.Mutex
	closes   int
	closeErr error
	// closeGate, when set, blocks Close until it is closed.
	closeGate chan struct{}
	stats     domain.TransferStats
}

func (s *fakeSession) ID() domain.SessionID { return s.id }
func (s *fakeSession) Name() string         { return "name-" + string(s.id) }
func (s *fakeSession) Files() []domain.FileRef {
	return []domain.FileRef{{Index: 0, Path: "movie.mkv", Length: 100}}
}
func (s *fakeSession) OpenRange(ctx context.Context, file domain.FileRef, w domain.ByteWindow) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(strings.Repeat("x", int(w.Len())))), nil
}
func (s *fakeSession) Stats() domain.TransferStats { return s.stats }

func (s *fakeSession) Close() error {
	if s.closeGate != nil {
		<-s.closeGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.closeErr
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// fakeEngine names swarms by the magnet string itself. Magnets starting with
// "bad" are rejected.
type fakeEngine struct {
	mu       sync.Mutex
	adds     map[string]int
	sessions []*fakeSession
	// gate, when set, holds Add until it is closed or ctx ends.
	gate chan struct{}
	// ignoreCtx makes a gated Add wait for the gate only.
	ignoreCtx bool
	err       error
	closeErr  error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{adds: make(map[string]int)}
}

func (e *fakeEngine) Identify(magnet string) (domain.SessionID, error) {
	if magnet == "" || strings.HasPrefix(magnet, "bad") {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, magnet)
	}
	return domain.SessionID(magnet), nil
}

func (e *fakeEngine) Add(ctx context.Context, magnet string) (ports.Session, error) {
	e.mu.Lock()
	e.adds[magnet]++
	gate, ignoreCtx, err := e.gate, e.ignoreCtx, e.err
	e.mu.Unlock()

	if gate != nil {
		if ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	s := &fakeSession{id: domain.SessionID(magnet), closeErr: e.closeErr}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) addCount(magnet string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.adds[magnet]
}

func (e *fakeEngine) allSessions() []*fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeSession(nil), e.sessions...)
}

type fakeJournal struct {
	mu     sync.Mutex
	events []domain.SessionEvent
	err    error
}

func (j *fakeJournal) Record(ctx context.Context, event domain.SessionEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.events = append(j.events, event)
	return nil
}

func (j *fakeJournal) ListRecent(ctx context.Context, limit int) ([]domain.SessionEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.SessionEvent(nil), j.events...), nil
}

func (j *fakeJournal) count(kind domain.SessionEventKind, reason domain.EvictReason) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, e := range j.events {
		if e.Kind == kind && e.Reason == reason {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")
