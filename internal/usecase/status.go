package usecase

import (
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
)

type SessionLister interface {
	Snapshot() []domain.SessionSnapshot
}

type ConnectionLister interface {
	Snapshot() []domain.Connection
}

// GetStatus reports sessions, live connections and aggregate transfer
// figures. It only reads.
type GetStatus struct {
	Sessions    SessionLister
	Connections ConnectionLister
	Now         func() time.Time
}

func (uc GetStatus) Execute() domain.StatusReport {
	now := time.Now()
	if uc.Now != nil {
		now = uc.Now()
	}
	report := domain.StatusReport{
		Sessions:    []domain.SessionStatus{},
		Connections: []domain.ConnectionStatus{},
		GeneratedAt: now.UTC(),
	}

	if uc.Sessions != nil {
		peers := 0
		for _, snap := range uc.Sessions.Snapshot() {
			st := sessionStatus(snap)
			report.Sessions = append(report.Sessions, st)
			report.Totals.DownloadSpeed += st.DownloadSpeed
			report.Totals.UploadSpeed += st.UploadSpeed
			report.Totals.Downloaded += st.Downloaded
			report.Totals.Uploaded += st.Uploaded
			peers += st.Peers
		}
		metrics.DownloadSpeedBytes.Set(float64(report.Totals.DownloadSpeed))
		metrics.UploadSpeedBytes.Set(float64(report.Totals.UploadSpeed))
		metrics.PeersConnected.Set(float64(peers))
	}
	if uc.Connections != nil {
		for _, c := range uc.Connections.Snapshot() {
			report.Connections = append(report.Connections, domain.ConnectionStatus{
				ID:          c.ID,
				SessionName: c.SessionName,
				FileName:    c.FileName,
				DurationMs:  max(now.Sub(c.StartedAt).Milliseconds(), 0),
			})
		}
	}
	report.Totals.Sessions = len(report.Sessions)
	report.Totals.Connections = len(report.Connections)
	return report
}

func sessionStatus(snap domain.SessionSnapshot) domain.SessionStatus {
	st := domain.SessionStatus{
		ID:            snap.ID,
		Name:          snap.Name,
		State:         snap.State,
		Progress:      snap.Stats.Progress(),
		DownloadSpeed: snap.Stats.DownloadSpeed,
		UploadSpeed:   snap.Stats.UploadSpeed,
		Uploaded:      snap.Stats.Uploaded,
		Downloaded:    snap.Stats.Downloaded,
		Ratio:         snap.Stats.Ratio(),
		Peers:         snap.Stats.Peers,
		Connections:   snap.Connections,
		LastAccess:    snap.LastAccess.UTC(),
	}
	if remaining, ok := snap.Stats.TimeRemaining(); ok && snap.State == domain.SessionActive {
		secs := remaining.Seconds()
		st.TimeRemainingSeconds = &secs
	}
	return st
}
