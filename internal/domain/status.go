package domain

import "time"

// TransferStats is a point-in-time sample of a session's swarm transfer.
type TransferStats struct {
	Length         int64 `json:"length"`
	BytesCompleted int64 `json:"bytesCompleted"`
	Downloaded     int64 `json:"downloaded"`
	Uploaded       int64 `json:"uploaded"`
	DownloadSpeed  int64 `json:"downloadSpeed"`
	UploadSpeed    int64 `json:"uploadSpeed"`
	Peers          int   `json:"peers"`
}

// Progress returns completion as a percentage in [0,100].
func (s TransferStats) Progress() float64 {
	if s.Length <= 0 {
		return 0
	}
	p := float64(s.BytesCompleted) / float64(s.Length) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func (s TransferStats) Ratio() float64 {
	if s.Downloaded <= 0 {
		return 0
	}
	return float64(s.Uploaded) / float64(s.Downloaded)
}

// TimeRemaining estimates the time to completion at the current download
// speed. ok is false when the speed is zero and the download is unfinished.
func (s TransferStats) TimeRemaining() (time.Duration, bool) {
	left := s.Length - s.BytesCompleted
	if left <= 0 {
		return 0, true
	}
	if s.DownloadSpeed <= 0 {
		return 0, false
	}
	return time.Duration(float64(left) / float64(s.DownloadSpeed) * float64(time.Second)), true
}

type SessionStatus struct {
	ID                   SessionID    `json:"id"`
	Name                 string       `json:"name"`
	State                SessionState `json:"state"`
	Progress             float64      `json:"progress"`
	DownloadSpeed        int64        `json:"downloadSpeed"`
	UploadSpeed          int64        `json:"uploadSpeed"`
	Uploaded             int64        `json:"uploaded"`
	Downloaded           int64        `json:"downloaded"`
	Ratio                float64      `json:"ratio"`
	TimeRemainingSeconds *float64     `json:"timeRemainingSeconds"`
	Peers                int          `json:"peers"`
	Connections          int          `json:"connections"`
	LastAccess           time.Time    `json:"lastAccess"`
}

type ConnectionStatus struct {
	ID          ConnectionID `json:"id"`
	SessionName string       `json:"sessionName"`
	FileName    string       `json:"fileName"`
	DurationMs  int64        `json:"durationMs"`
}

type StatusTotals struct {
	Sessions      int   `json:"sessions"`
	Connections   int   `json:"connections"`
	DownloadSpeed int64 `json:"downloadSpeed"`
	UploadSpeed   int64 `json:"uploadSpeed"`
	Downloaded    int64 `json:"downloaded"`
	Uploaded      int64 `json:"uploaded"`
}

type StatusReport struct {
	Sessions    []SessionStatus    `json:"sessions"`
	Connections []ConnectionStatus `json:"connections"`
	Totals      StatusTotals       `json:"totals"`
	GeneratedAt time.Time          `json:"generatedAt"`
}

// SessionSnapshot is a point-in-time view of one registry entry.
type SessionSnapshot struct {
	ID          SessionID
	Name        string
	State       SessionState
	Stats       TransferStats
	Connections int
	LastAccess  time.Time
	CreatedAt   time.Time
}
