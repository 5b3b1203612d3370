package domain

import "errors"

// SessionID is the deduplication key of a remote-fetch session: the lowercase
// hex info-hash named by the magnet link. It is also the session's storage key
// under the data directory.
type SessionID string

// SessionState is the registry lifecycle of a session. Removed is terminal and
// never observed inside the registry map.
type SessionState string

const (
	SessionPending  SessionState = "pending"
	SessionActive   SessionState = "active"
	SessionEvicting SessionState = "evicting"
	SessionRemoved  SessionState = "removed"
)

var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[SessionState][]SessionState{
	SessionPending:  {SessionActive, SessionEvicting, SessionRemoved},
	SessionActive:   {SessionEvicting},
	SessionEvicting: {SessionRemoved},
}

// CanTransition reports whether a transition from one state to another is valid.
func CanTransition(from, to SessionState) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Live reports whether the state still counts against registry capacity.
func (s SessionState) Live() bool {
	return s == SessionPending || s == SessionActive
}

type EvictReason string

const (
	EvictCapacity      EvictReason = "capacity"
	EvictIdleTimeout   EvictReason = "idle_timeout"
	EvictGrace         EvictReason = "disconnect_grace"
	EvictShutdown      EvictReason = "shutdown"
	EvictAcquireFailed EvictReason = "acquire_failed"
)
