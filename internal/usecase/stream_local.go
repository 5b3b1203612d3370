package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"

	"streamgate/internal/domain"
)

type StreamLocalRequest struct {
	FileName    string
	RangeHeader string
	RemoteAddr  string
	Head        bool
}

// StreamLocal serves files from a media directory. Fs is rooted at that
// directory, typically an afero.BasePathFs.
type StreamLocal struct {
	Fs          afero.Fs
	Tracker     ConnectionTracker
	ChunkSize   int64
	MaxFileSize int64
	Now         func() time.Time
}

func (uc StreamLocal) Execute(ctx context.Context, req StreamLocalRequest) (*Stream, error) {
	if uc.Fs == nil || uc.Tracker == nil {
		return nil, errors.New("media storage not configured")
	}
	name, err := cleanMediaName(req.FileName)
	if err != nil {
		return nil, err
	}

	f, err := uc.Fs.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, req.FileName)
		}
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrStream, req.FileName, err)
	}
	keep := false
	defer func() {
		if !keep {
			_ = f.Close()
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", domain.ErrStream, req.FileName, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrNotFound, req.FileName)
	}
	total := info.Size()
	if total > uc.maxFileSize() {
		return nil, fmt.Errorf("%w: %d bytes", domain.ErrSizeLimitExceeded, total)
	}

	// Without a Range header the whole file is sent in one response.
	window := domain.ByteWindow{Start: 0, End: total - 1}
	partial := false
	if strings.TrimSpace(req.RangeHeader) != "" {
		window, err = domain.ResolveRange(req.RangeHeader, total, uc.chunkSize())
		if err != nil {
			return nil, &RangeError{Total: total}
		}
		partial = total > 0
	}
	if total == 0 {
		window = domain.ByteWindow{}
	}

	base := path.Base(name)
	contentType := sniffContentType(base, f)

	conn := newConnection(req.RemoteAddr, "", "", base, uc.now())
	if err := uc.Tracker.Register(conn); err != nil {
		return nil, err
	}
	stream := &Stream{
		Window:       window,
		Total:        total,
		Partial:      partial,
		ContentType:  contentType,
		FileName:     base,
		Source:       SourceLocal,
		ConnectionID: conn.ID,
		release: func(bool) {
			uc.Tracker.Unregister(conn.ID)
		},
	}
	if req.Head || total == 0 {
		return stream, nil
	}

	if _, err := f.Seek(window.Start, io.SeekStart); err != nil {
		stream.Release(false)
		return nil, fmt.Errorf("%w: seek %s: %v", domain.ErrStream, req.FileName, err)
	}
	keep = true
	stream.Body = &limitedFile{ctx: ctx, r: io.LimitReader(f, window.Len()), file: f}
	return stream, nil
}

// limitedFile reads one window of a file and stops once ctx ends.
type limitedFile struct {
	ctx  context.Context
	r    io.Reader
	file afero.File
}

func (l *limitedFile) Read(p []byte) (int, error) {
	if err := l.ctx.Err(); err != nil {
		return 0, err
	}
	return l.r.Read(p)
}

func (l *limitedFile) Close() error {
	return l.file.Close()
}

// cleanMediaName rejects names that could address anything outside the media
// directory.
func cleanMediaName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: invalid file name %q", domain.ErrNotFound, name)
	}
	return name, nil
}

func (uc StreamLocal) chunkSize() int64 {
	if uc.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return uc.ChunkSize
}

func (uc StreamLocal) maxFileSize() int64 {
	if uc.MaxFileSize <= 0 {
		return DefaultMaxFileSize
	}
	return uc.MaxFileSize
}

func (uc StreamLocal) now() time.Time {
	if uc.Now != nil {
		return uc.Now()
	}
	return time.Now()
}
