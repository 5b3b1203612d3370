package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
)

const DefaultChunkSize int64 = 1_000_000

// DefaultMaxFileSize is the largest file served, 50 GiB.
const DefaultMaxFileSize int64 = 50 << 30

type SessionProvider interface {
	GetOrCreate(ctx context.Context, magnet string) (*ports.Lease, error)
	Attach(conn domain.Connection) error
	Touch(id domain.SessionID)
}

type StreamTorrentRequest struct {
	Magnet      string
	RangeHeader string
	RemoteAddr  string
	Head        bool
}

type StreamTorrent struct {
	Sessions    SessionProvider
	Tracker     ConnectionTracker
	ChunkSize   int64
	MaxFileSize int64
	Now         func() time.Time
}

func (uc StreamTorrent) Execute(ctx context.Context, req StreamTorrentRequest) (*Stream, error) {
	if uc.Sessions == nil || uc.Tracker == nil {
		return nil, errors.New("session registry not configured")
	}

	// A session may be evicted between lookup and attach; look it up once more.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		stream, err := uc.attempt(ctx, req)
		if err == nil {
			return stream, nil
		}
		if !errors.Is(err, errDetached) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrNotFound, lastErr)
}

var errDetached = errors.New("session evicted before attach")

func (uc StreamTorrent) attempt(ctx context.Context, req StreamTorrentRequest) (*Stream, error) {
	lease, err := uc.Sessions.GetOrCreate(ctx, req.Magnet)
	if err != nil {
		return nil, mapAcquireError(err)
	}

	file, ok := domain.PrimaryFile(lease.Session.Files())
	if !ok {
		return nil, fmt.Errorf("%w: torrent has no files", domain.ErrNotFound)
	}
	if file.Length > uc.maxFileSize() {
		return nil, fmt.Errorf("%w: %d bytes", domain.ErrSizeLimitExceeded, file.Length)
	}

	window, err := domain.ResolveRange(req.RangeHeader, file.Length, uc.chunkSize())
	if err != nil {
		return nil, &RangeError{Total: file.Length}
	}

	// A Range request is always answered with 206; without one, only a window
	// shorter than the file is.
	partial := file.Length > 0 && (strings.TrimSpace(req.RangeHeader) != "" || !window.Covers(file.Length))

	now := uc.now()
	name := path.Base(file.Path)
	conn := newConnection(req.RemoteAddr, lease.ID, lease.Session.Name(), name, now)
	if err := uc.Sessions.Attach(conn); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errDetached
		}
		return nil, err
	}

	// Streams end with the request or with the session, whichever is first.
	streamCtx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(lease.Ctx, cancel)
	release := func(completed bool) {
		stopAfter()
		cancel()
		uc.Tracker.Unregister(conn.ID)
		if completed {
			uc.Sessions.Touch(lease.ID)
		}
	}

	stream := &Stream{
		Window:       window,
		Total:        file.Length,
		Partial:      partial,
		ContentType:  ContentTypeFor(name),
		FileName:     name,
		Source:       SourceTorrent,
		ConnectionID: conn.ID,
		release:      release,
	}
	if req.Head || file.Length == 0 {
		return stream, nil
	}

	body, err := lease.Session.OpenRange(streamCtx, file, window)
	if err != nil {
		stream.Release(false)
		if errors.Is(err, domain.ErrStream) || errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStream, err)
	}
	stream.Body = body
	return stream, nil
}

// mapAcquireError keeps the errors callers map to statuses and wraps engine
// faults.
func mapAcquireError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier),
		errors.Is(err, domain.ErrAcquireTimeout),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return wrapEngine(err)
	}
}

func (uc StreamTorrent) chunkSize() int64 {
	if uc.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return uc.ChunkSize
}

func (uc StreamTorrent) maxFileSize() int64 {
	if uc.MaxFileSize <= 0 {
		return DefaultMaxFileSize
	}
	return uc.MaxFileSize
}

func (uc StreamTorrent) now() time.Time {
	if uc.Now != nil {
		return uc.Now()
	}
	return time.Now()
}
