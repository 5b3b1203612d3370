package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidIdentifier   = errors.New("invalid session identifier")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrAcquireTimeout      = errors.New("session acquire timed out")
	ErrSizeLimitExceeded   = errors.New("file exceeds streamable size limit")
	ErrStream              = errors.New("stream error")
	ErrClientDisconnected  = errors.New("client disconnected")
	ErrSessionEvicted      = errors.New("session evicted")
)
