package ports

import (
	"context"

	"streamgate/internal/domain"
)

type Engine interface {
	// Identify parses a magnet link into the id of the swarm it names without
	// touching the network.
	Identify(magnet string) (domain.SessionID, error)
	// Add joins the swarm and blocks until its metadata is known or ctx ends.
	Add(ctx context.Context, magnet string) (Session, error)
	Close() error
}
