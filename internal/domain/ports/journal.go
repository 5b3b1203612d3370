package ports

import (
	"context"

	"streamgate/internal/domain"
)

// SessionJournal stores the admission and eviction history of sessions.
type SessionJournal interface {
	Record(ctx context.Context, event domain.SessionEvent) error
	ListRecent(ctx context.Context, limit int) ([]domain.SessionEvent, error)
}
