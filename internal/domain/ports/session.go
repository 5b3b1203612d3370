package ports

import (
	"context"
	"io"

	"streamgate/internal/domain"
)

// Session is a live handle on one swarm. Close drops the torrent and deletes
// its downloaded data.
type Session interface {
	ID() domain.SessionID
	Name() string
	Files() []domain.FileRef
	OpenRange(ctx context.Context, file domain.FileRef, window domain.ByteWindow) (io.ReadCloser, error)
	Stats() domain.TransferStats
	Close() error
}

// Lease is a caller's hold on an active session. Ctx is cancelled when the
// session is evicted; streams opened under the lease must honor it.
type Lease struct {
	ID      domain.SessionID
	Session Session
	Ctx     context.Context
}
