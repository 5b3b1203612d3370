package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ConnectionID string

// Connection is one in-flight HTTP response. SessionID is empty for responses
// served from local files.
type Connection struct {
	ID          ConnectionID
	SessionID   SessionID
	SessionName string
	FileName    string
	StartedAt   time.Time
}

// NewConnectionID derives an id from the client address, the start time and a
// random suffix. Collisions are improbable, not impossible.
func NewConnectionID(remoteAddr string, now time.Time) ConnectionID {
	addr := strings.TrimSpace(remoteAddr)
	if addr == "" {
		addr = "unknown"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return ConnectionID(addr + "-" + strconv.FormatInt(now.UnixNano(), 10) + "-" + suffix)
}
