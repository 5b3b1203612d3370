package apihttp

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/services/session"
	"streamgate/internal/usecase"
)

const testMagnet = "magnet:?xt=urn:btih:dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c&tr=udp://tracker.example:80"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSession serves OpenRange from an in-memory payload. body, when set,
// replaces the payload reader.
type fakeSession struct {
	mu      sync.Mutex
	files   []domain.FileRef
	data    []byte
	openErr error
	body    func() io.ReadCloser
	opens   int
}

func (s *fakeSession) ID() domain.SessionID        { return "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c" }
func (s *fakeSession) Name() string                { return "Sintel" }
func (s *fakeSession) Files() []domain.FileRef     { return s.files }
func (s *fakeSession) Stats() domain.TransferStats { return domain.TransferStats{} }
func (s *fakeSession) Close() error                { return nil }

func (s *fakeSession) OpenRange(ctx context.Context, file domain.FileRef, w domain.ByteWindow) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	if s.body != nil {
		return s.body(), nil
	}
	return io.NopCloser(bytes.NewReader(s.data[w.Start : w.End+1])), nil
}

func (s *fakeSession) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func newPayloadSession(name string, data []byte) *fakeSession {
	return &fakeSession{
		files: []domain.FileRef{{Index: 0, Path: "Sintel/" + name, Length: int64(len(data))}},
		data:  data,
	}
}

type fakeProvider struct {
	mu         sync.Mutex
	session    ports.Session
	getErr     error
	tracker    *session.Tracker
	lastMagnet string
	touches    int
}

func (p *fakeProvider) GetOrCreate(ctx context.Context, magnet string) (*ports.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastMagnet = magnet
	if p.getErr != nil {
		return nil, p.getErr
	}
	return &ports.Lease{ID: p.session.ID(), Session: p.session, Ctx: context.Background()}, nil
}

func (p *fakeProvider) Attach(conn domain.Connection) error {
	return p.tracker.Register(conn)
}

func (p *fakeProvider) Touch(id domain.SessionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.touches++
}

func (p *fakeProvider) touchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.touches
}

func (p *fakeProvider) magnet() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMagnet
}

type fakeHistory struct {
	events []domain.SessionEvent
	err    error
}

func (h fakeHistory) Execute(ctx context.Context, limit int) ([]domain.SessionEvent, error) {
	return h.events, h.err
}

type testFixture struct {
	server   *Server
	fs       afero.Fs
	tracker  *session.Tracker
	provider *fakeProvider
}

func newTestFixture(t *testing.T, sess ports.Session, opts ...ServerOption) *testFixture {
	t.Helper()
	tracker := session.NewTracker(time.Hour, discardLogger())
	t.Cleanup(tracker.Close)

	fs := afero.NewMemMapFs()
	provider := &fakeProvider{session: sess, tracker: tracker}
	status := usecase.GetStatus{Connections: tracker}
	base := []ServerOption{
		WithLogger(discardLogger()),
		WithRateLimit(0, 0),
		WithStreamTorrent(usecase.StreamTorrent{Sessions: provider, Tracker: tracker, ChunkSize: 10, MaxFileSize: 1 << 20}),
		WithStreamLocal(usecase.StreamLocal{Fs: fs, Tracker: tracker, ChunkSize: 10, MaxFileSize: 1 << 20}),
	}
	srv := NewServer(status, append(base, opts...)...)
	t.Cleanup(srv.Close)
	return &testFixture{server: srv, fs: fs, tracker: tracker, provider: provider}
}

func (f *testFixture) writeMedia(t *testing.T, name string, data []byte) {
	t.Helper()
	if err := afero.WriteFile(f.fs, name, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func (f *testFixture) do(method, target, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func torrentTarget(magnet string) string {
	return torrentPrefix + url.PathEscape(magnet)
}
