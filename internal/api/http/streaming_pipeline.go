package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
	"streamgate/internal/usecase"
)

type pipelineState int32

const (
	stateStarted pipelineState = iota
	stateHeadersSent
	statePiping
	stateCompleted
	stateDisconnected
	stateErrored
)

func (s pipelineState) String() string {
	switch s {
	case stateStarted:
		return "started"
	case stateHeadersSent:
		return "headers_sent"
	case statePiping:
		return "piping"
	case stateCompleted:
		return "completed"
	case stateDisconnected:
		return "disconnected"
	case stateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

const pipeBufferSize = 64 << 10

// streamPipeline writes one resolved stream to one response. Exactly one
// terminal state is reached; the finalized flag guards it against the
// disconnect callback racing the copy loop. Writes and finalization share
// writeMu, so no write starts once the pipeline is finalized.
type streamPipeline struct {
	w      http.ResponseWriter
	r      *http.Request
	stream *usecase.Stream
	logger *slog.Logger

	writeMu   sync.Mutex
	state     atomic.Int32
	finalized atomic.Bool
	written   atomic.Int64
}

func newStreamPipeline(w http.ResponseWriter, r *http.Request, stream *usecase.Stream, logger *slog.Logger) *streamPipeline {
	return &streamPipeline{w: w, r: r, stream: stream, logger: logger}
}

func (p *streamPipeline) State() pipelineState {
	return pipelineState(p.state.Load())
}

func (p *streamPipeline) run() {
	ctx := p.r.Context()
	stop := context.AfterFunc(ctx, func() {
		p.finish(stateDisconnected, nil)
	})
	defer stop()

	body := p.stream.Body
	if p.r.Method == http.MethodHead || body == nil || p.stream.ContentLength() == 0 {
		if p.whileLive(p.writeHeaders) {
			p.finish(stateCompleted, nil)
		}
		return
	}

	buf := make([]byte, pipeBufferSize)
	// The first read happens before any header is written so that a backend
	// failure can still become an error response.
	n, err := body.Read(buf)
	if n == 0 && err != nil && !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			p.finish(stateDisconnected, err)
			return
		}
		if p.finish(stateErrored, err) {
			writeStreamError(p.w, fmt.Errorf("%w: %v", domain.ErrStream, err))
		}
		return
	}
	started := p.whileLive(func() {
		p.writeHeaders()
		p.state.Store(int32(statePiping))
	})
	if !started {
		return
	}

	for {
		if n > 0 {
			var werr error
			live := p.whileLive(func() {
				var written int
				written, werr = p.w.Write(buf[:n])
				p.written.Add(int64(written))
			})
			if !live {
				return
			}
			if werr != nil {
				p.finish(stateDisconnected, werr)
				return
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				p.finish(stateDisconnected, err)
			} else {
				p.finish(stateErrored, err)
			}
			return
		}
		n, err = body.Read(buf)
	}

	if p.written.Load() < p.stream.ContentLength() {
		p.finish(stateErrored, io.ErrUnexpectedEOF)
		return
	}
	flushed := p.whileLive(func() {
		if f, ok := p.w.(http.Flusher); ok {
			f.Flush()
		}
	})
	if flushed {
		p.finish(stateCompleted, nil)
	}
}

// whileLive runs fn unless the pipeline is already finalized. It reports
// whether fn ran.
func (p *streamPipeline) whileLive(fn func()) bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.finalized.Load() {
		return false
	}
	fn()
	return true
}

func (p *streamPipeline) writeHeaders() {
	h := p.w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", p.stream.ContentType)
	h.Set("Content-Length", strconv.FormatInt(p.stream.ContentLength(), 10))
	h.Set("Cache-Control", "no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")

	status := http.StatusOK
	if p.stream.Partial {
		h.Set("Content-Range", p.stream.Window.ContentRange(p.stream.Total))
		status = http.StatusPartialContent
	}
	p.w.WriteHeader(status)
	p.state.Store(int32(stateHeadersSent))
}

// finish moves the pipeline to a terminal state and releases the stream. It
// reports whether this call won; later calls are no-ops.
func (p *streamPipeline) finish(state pipelineState, err error) bool {
	// Waits for a write in progress, so the disconnect callback never
	// finalizes between the liveness check and the write.
	p.writeMu.Lock()
	won := p.finalized.CompareAndSwap(false, true)
	p.writeMu.Unlock()
	if !won {
		return false
	}
	p.state.Store(int32(state))
	p.stream.Release(state == stateCompleted)

	source := p.stream.Source
	metrics.StreamBytesTotal.WithLabelValues(source).Add(float64(p.written.Load()))
	metrics.StreamOutcomesTotal.WithLabelValues(source, state.String()).Inc()

	attrs := []any{
		slog.String("connectionId", string(p.stream.ConnectionID)),
		slog.String("file", p.stream.FileName),
		slog.String("outcome", state.String()),
		slog.Int64("bytes", p.written.Load()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if state == stateErrored {
		p.logger.Warn("stream failed", attrs...)
	} else {
		p.logger.Debug("stream finished", attrs...)
	}
	return true
}
