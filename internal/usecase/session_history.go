package usecase

import (
	"context"
	"errors"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

var ErrJournalDisabled = errors.New("session journal disabled")

type ListSessionHistory struct {
	Journal ports.SessionJournal
}

func (uc ListSessionHistory) Execute(ctx context.Context, limit int) ([]domain.SessionEvent, error) {
	if uc.Journal == nil {
		return nil, ErrJournalDisabled
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	events, err := uc.Journal.ListRecent(ctx, limit)
	if err != nil {
		return nil, wrapRepo(err)
	}
	if events == nil {
		events = []domain.SessionEvent{}
	}
	return events, nil
}
