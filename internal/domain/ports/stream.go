package ports

import (
	"context"
	"io"
)

// StreamReader is the subset of the engine's file reader used to serve a
// byte window.
type StreamReader interface {
	io.ReadSeekCloser
	SetContext(context.Context)
	SetReadahead(int64)
	SetResponsive()
}
