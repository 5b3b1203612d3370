package session

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"streamgate/internal/metrics"
)

type storageOwner interface {
	WithOwnedKeys(fn func(owns func(key string) bool))
}

// OrphanSweeper deletes entries under the data directory that no session
// owns, such as data left by a crash or by a session whose cleanup failed.
type OrphanSweeper struct {
	fs      afero.Fs
	dataDir string
	owner   storageOwner
	logger  *slog.Logger
}

func NewOrphanSweeper(fs afero.Fs, dataDir string, owner storageOwner, logger *slog.Logger) *OrphanSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrphanSweeper{fs: fs, dataDir: dataDir, owner: owner, logger: logger}
}

// Sweep runs one pass and returns how many entries it removed. The whole
// listing and deletion happens while the registry is locked, so no session
// can be admitted between the ownership check and the delete. Failures are
// logged and counted; a failed pass is retried on the next tick.
func (s *OrphanSweeper) Sweep() int {
	removed := 0
	s.owner.WithOwnedKeys(func(owns func(string) bool) {
		infos, err := afero.ReadDir(s.fs, s.dataDir)
		if err != nil {
			metrics.OrphanSweepErrorsTotal.Inc()
			s.logger.Warn("orphan sweep: list data dir failed",
				slog.String("dir", s.dataDir),
				slog.String("error", err.Error()),
			)
			return
		}
		for _, info := range infos {
			name := info.Name()
			// Dot entries hold the engine's piece-completion state.
			if strings.HasPrefix(name, ".") || owns(name) {
				continue
			}
			path := filepath.Join(s.dataDir, name)
			if err := s.fs.RemoveAll(path); err != nil {
				metrics.OrphanSweepErrorsTotal.Inc()
				s.logger.Warn("orphan sweep: remove failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			removed++
			metrics.OrphansRemovedTotal.Inc()
			s.logger.Info("orphan sweep: removed unowned storage", slog.String("path", path))
		}
	})
	return removed
}
