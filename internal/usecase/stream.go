package usecase

import (
	"io"
	"sync"
	"time"

	"streamgate/internal/domain"
)

const (
	SourceTorrent = "torrent"
	SourceLocal   = "local"
)

type ConnectionTracker interface {
	Register(conn domain.Connection) error
	Unregister(id domain.ConnectionID) bool
}

// Stream is a resolved, ready-to-write response body. Body is nil for HEAD
// requests. Release must be called exactly once the response is done.
type Stream struct {
	Body         io.ReadCloser
	Window       domain.ByteWindow
	Total        int64
	Partial      bool
	ContentType  string
	FileName     string
	Source       string
	ConnectionID domain.ConnectionID

	releaseOnce sync.Once
	release     func(completed bool)
}

// Release closes the body and detaches the connection. completed marks a
// response that was written in full. Calls after the first are no-ops.
func (s *Stream) Release(completed bool) {
	s.releaseOnce.Do(func() {
		if s.Body != nil {
			_ = s.Body.Close()
		}
		if s.release != nil {
			s.release(completed)
		}
	})
}

// ContentLength is the number of body bytes the response carries.
func (s *Stream) ContentLength() int64 {
	if s.Total <= 0 {
		return 0
	}
	return s.Window.Len()
}

func newConnection(remoteAddr string, session domain.SessionID, sessionName, fileName string, now time.Time) domain.Connection {
	return domain.Connection{
		ID:          domain.NewConnectionID(remoteAddr, now),
		SessionID:   session,
		SessionName: sessionName,
		FileName:    fileName,
		StartedAt:   now,
	}
}
