package domain

import (
	"errors"
	"time"
)

type SessionEventKind string

const (
	EventAdmitted SessionEventKind = "admitted"
	EventEvicted  SessionEventKind = "evicted"
)

// SessionEvent is one entry of the session journal. It is an audit trail;
// nothing is restored from it on startup.
type SessionEvent struct {
	SessionID  SessionID        `json:"sessionId"`
	Name       string           `json:"name"`
	Kind       SessionEventKind `json:"kind"`
	Reason     EvictReason      `json:"reason,omitempty"`
	Downloaded int64            `json:"downloaded"`
	Uploaded   int64            `json:"uploaded"`
	At         time.Time        `json:"at"`
}

// Validate checks the invariants the journal relies on.
func (e SessionEvent) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.Downloaded < 0 || e.Uploaded < 0 {
		return errors.New("byte counters must not be negative")
	}
	switch e.Kind {
	case EventAdmitted:
		if e.Reason != "" {
			return errors.New("admitted events carry no reason")
		}
	case EventEvicted:
		if e.Reason == "" {
			return errors.New("evicted events require a reason")
		}
	case "":
		return errors.New("kind is required")
	default:
		return errors.New("invalid kind: " + string(e.Kind))
	}
	if e.At.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
