package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/spf13/afero"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
)

// addMagnetTimeout caps the time we wait for the client to accept a magnet.
// AddMagnet can block on the client mutex while another torrent resolves
// metadata.
const addMagnetTimeout = 10 * time.Second

var ErrClientBusy = errors.New("torrent client busy, try again later")

type Config struct {
	DataDir    string
	ListenPort int // 0 keeps the client default
	NoUpload   bool
}

type addResult struct {
	t   *torrent.Torrent
	err error
}

type Engine struct {
	client  *torrent.Client
	storage storage.ClientImplCloser
	fs      afero.Fs
	dataDir string
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		return nil, errors.New("torrent data dir is required")
	}

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// Each swarm gets <dataDir>/<infohash>, so the session id doubles as its
	// storage key.
	store := storage.NewFileByInfoHash(dataDir)

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = dataDir
	clientConfig.DefaultStorage = store
	clientConfig.NoUpload = cfg.NoUpload
	if cfg.ListenPort > 0 {
		clientConfig.ListenPort = cfg.ListenPort
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Engine{
		client:  client,
		storage: store,
		fs:      fs,
		dataDir: dataDir,
		logger:  logger,
	}, nil
}

func (e *Engine) Identify(magnet string) (domain.SessionID, error) {
	return identify(magnet)
}

func identify(magnet string) (domain.SessionID, error) {
	magnet = strings.TrimSpace(magnet)
	if magnet == "" {
		return "", fmt.Errorf("%w: empty magnet link", domain.ErrInvalidIdentifier)
	}
	m, err := metainfo.ParseMagnetUri(magnet)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidIdentifier, err)
	}
	if m.InfoHash == (metainfo.Hash{}) {
		return "", fmt.Errorf("%w: magnet has no info-hash", domain.ErrInvalidIdentifier)
	}
	return domain.SessionID(strings.ToLower(m.InfoHash.HexString())), nil
}

func (e *Engine) Add(ctx context.Context, magnet string) (ports.Session, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}
	id, err := identify(magnet)
	if err != nil {
		return nil, err
	}

	ch := make(chan addResult, 1)
	go func() {
		t, err := e.client.AddMagnet(magnet)
		ch <- addResult{t, err}
	}()

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		t = res.t
	case <-time.After(addMagnetTimeout):
		go e.dropLate(id, ch)
		return nil, ErrClientBusy
	case <-ctx.Done():
		go e.dropLate(id, ch)
		return nil, ctx.Err()
	}

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		e.release(id, t)
		return nil, ctx.Err()
	}

	s := newSession(id, t, e.fs, e.dataDir, e.logger)
	e.logger.Info("torrent metadata ready",
		slog.String("sessionId", string(id)),
		slog.String("name", s.Name()),
		slog.Int("files", len(s.Files())),
	)
	return s, nil
}

// dropLate releases a torrent whose AddMagnet finished after the caller left.
func (e *Engine) dropLate(id domain.SessionID, ch <-chan addResult) {
	if res := <-ch; res.t != nil {
		e.release(id, res.t)
	}
}

func (e *Engine) release(id domain.SessionID, t *torrent.Torrent) {
	t.Drop()
	if err := removeStorage(e.fs, e.dataDir, id); err != nil {
		e.logger.Warn("torrent storage cleanup failed",
			slog.String("sessionId", string(id)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) Close() error {
	var errs []error
	if e.client != nil {
		errs = append(errs, e.client.Close()...)
	}
	if e.storage != nil {
		if err := e.storage.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func mapFiles(t *torrent.Torrent) (mapped []domain.FileRef) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.FileRef{
			Index:          i,
			Path:           f.Path(),
			Length:         f.Length(),
			BytesCompleted: f.BytesCompleted(),
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

// freeOSMemory returns memory freed by a dropped torrent to the OS promptly.
func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
