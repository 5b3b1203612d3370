package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/metrics"
	"streamgate/internal/telemetry"
)

const DefaultAcquireTimeout = 30 * time.Second

// Acquirer turns a magnet link into a metadata-ready engine session. Work for
// one id is shared by all concurrent callers and bounded by its own timeout,
// independent of any caller.
type Acquirer struct {
	engine  ports.Engine
	timeout time.Duration
	group   singleflight.Group
	base    context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

func NewAcquirer(engine ports.Engine, timeout time.Duration, logger *slog.Logger) *Acquirer {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Acquirer{
		engine:  engine,
		timeout: timeout,
		base:    base,
		cancel:  cancel,
		logger:  logger,
	}
}

// Acquire waits for the shared acquisition of id. Cancelling ctx detaches
// this caller only.
func (a *Acquirer) Acquire(ctx context.Context, id domain.SessionID, magnet string) (ports.Session, error) {
	ch := a.group.DoChan(string(id), func() (any, error) {
		return a.acquire(id, magnet)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(ports.Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close aborts acquisitions still in flight.
func (a *Acquirer) Close() {
	a.cancel()
}

func (a *Acquirer) acquire(id domain.SessionID, magnet string) (ports.Session, error) {
	ctx, cancel := context.WithTimeout(a.base, a.timeout)
	defer cancel()
	ctx, span := telemetry.Tracer("streamgate/session").Start(ctx, "session.acquire")
	span.SetAttributes(attribute.String("session.id", string(id)))
	defer span.End()

	started := time.Now()
	result := newOneShot[ports.Session]()
	go func() {
		s, err := a.engine.Add(ctx, magnet)
		if !result.settle(s, err) && s != nil {
			// The timeout won; nobody will ever see this handle.
			a.logger.Warn("closing session acquired after timeout", slog.String("sessionId", string(id)))
			if cerr := s.Close(); cerr != nil {
				a.logger.Warn("late session close failed",
					slog.String("sessionId", string(id)),
					slog.String("error", cerr.Error()),
				)
			}
		}
	}()

	select {
	case <-result.Done():
	case <-ctx.Done():
		result.settle(nil, ctx.Err())
	}

	s, err := result.Result()
	if err == nil && s == nil {
		err = fmt.Errorf("%w: engine returned no session", domain.ErrStream)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", domain.ErrAcquireTimeout, a.timeout)
	}
	if err != nil {
		metrics.AcquireFailuresTotal.WithLabelValues(failureCause(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.AcquireDuration.Observe(time.Since(started).Seconds())
	return s, nil
}

func failureCause(err error) string {
	switch {
	case errors.Is(err, domain.ErrAcquireTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return "invalid"
	default:
		return "engine"
	}
}
