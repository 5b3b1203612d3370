package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/spf13/afero"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
)

type Session struct {
	id      domain.SessionID
	torrent *torrent.Torrent
	fs      afero.Fs
	dataDir string
	logger  *slog.Logger
	speeds  speedSampler

	closeOnce sync.Once
	closeErr  error
}

func newSession(id domain.SessionID, t *torrent.Torrent, fs afero.Fs, dataDir string, logger *slog.Logger) *Session {
	return &Session{id: id, torrent: t, fs: fs, dataDir: dataDir, logger: logger}
}

func (s *Session) ID() domain.SessionID {
	return s.id
}

func (s *Session) Name() string {
	if s.torrent == nil {
		return string(s.id)
	}
	if name := s.torrent.Name(); name != "" {
		return name
	}
	return string(s.id)
}

// Files is read from the torrent on every call so BytesCompleted stays fresh.
func (s *Session) Files() []domain.FileRef {
	return mapFiles(s.torrent)
}

func (s *Session) OpenRange(ctx context.Context, file domain.FileRef, window domain.ByteWindow) (io.ReadCloser, error) {
	if !torrentInfoReady(s.torrent) {
		return nil, domain.ErrNotFound
	}
	files := s.torrent.Files()
	if file.Index < 0 || file.Index >= len(files) {
		return nil, domain.ErrNotFound
	}
	return openWindow(ctx, files[file.Index].NewReader(), window)
}

// openWindow positions r at the window start and limits it to the window.
func openWindow(ctx context.Context, r ports.StreamReader, window domain.ByteWindow) (io.ReadCloser, error) {
	r.SetContext(ctx)
	r.SetReadahead(window.Len())
	r.SetResponsive()
	if _, err := r.Seek(window.Start, io.SeekStart); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("%w: seek to %d: %v", domain.ErrStream, window.Start, err)
	}
	return &windowReader{Reader: io.LimitReader(r, window.Len()), closer: r}, nil
}

type windowReader struct {
	io.Reader
	closer io.Closer
}

func (w *windowReader) Close() error {
	return w.closer.Close()
}

func (s *Session) Stats() domain.TransferStats {
	if s.torrent == nil {
		return domain.TransferStats{}
	}
	stats := s.torrent.Stats()
	downloaded := stats.BytesReadUsefulData.Int64()
	uploaded := stats.BytesWrittenData.Int64()
	down, up := s.speeds.sample(downloaded, uploaded, time.Now())

	out := domain.TransferStats{
		Downloaded:    downloaded,
		Uploaded:      uploaded,
		DownloadSpeed: down,
		UploadSpeed:   up,
		Peers:         stats.ActivePeers,
	}
	if torrentInfoReady(s.torrent) {
		out.Length = s.torrent.Length()
		out.BytesCompleted = s.torrent.BytesCompleted()
	}
	return out
}

// Close drops the torrent and deletes its data directory. Later calls return
// the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.torrent != nil {
			s.torrent.Drop()
		}
		s.closeErr = removeStorage(s.fs, s.dataDir, s.id)
		freeOSMemory()
	})
	return s.closeErr
}

func removeStorage(fs afero.Fs, dataDir string, id domain.SessionID) error {
	if fs == nil || dataDir == "" || id == "" {
		return nil
	}
	err := fs.RemoveAll(filepath.Join(dataDir, string(id)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove storage for %s: %w", id, err)
	}
	return nil
}

// minSampleWindow is the shortest interval a rate is computed over. Readers
// arriving sooner get the last computed rate, so several consumers polling
// the same session on their own tickers all see the same value.
const minSampleWindow = time.Second

type speedSampler struct {
	mu           sync.Mutex
	at           time.Time
	bytesRead    int64
	bytesWritten int64
	down, up     int64
}

// sample returns download and upload rates in bytes/sec. The first call
// reports zero and sets the baseline; the baseline only moves once
// minSampleWindow has passed.
func (s *speedSampler) sample(currentRead, currentWritten int64, now time.Time) (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.at.IsZero() {
		s.at, s.bytesRead, s.bytesWritten = now, currentRead, currentWritten
		return 0, 0
	}
	dt := now.Sub(s.at)
	if dt < minSampleWindow {
		return s.down, s.up
	}

	deltaRead := currentRead - s.bytesRead
	deltaWritten := currentWritten - s.bytesWritten
	if deltaRead < 0 {
		deltaRead = 0
	}
	if deltaWritten < 0 {
		deltaWritten = 0
	}
	secs := dt.Seconds()
	s.down = int64(float64(deltaRead) / secs)
	s.up = int64(float64(deltaWritten) / secs)
	s.at, s.bytesRead, s.bytesWritten = now, currentRead, currentWritten
	return s.down, s.up
}
