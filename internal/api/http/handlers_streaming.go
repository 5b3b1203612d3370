package apihttp

import (
	"net/http"
	"net/url"
	"strings"

	"streamgate/internal/usecase"
)

const torrentPrefix = "/torrent/"

func (s *Server) handleStreamLocal(w http.ResponseWriter, r *http.Request) {
	if s.streamLocal == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "local streaming not configured")
		return
	}
	stream, err := s.streamLocal.Execute(r.Context(), usecase.StreamLocalRequest{
		FileName:    r.PathValue("filename"),
		RangeHeader: r.Header.Get("Range"),
		RemoteAddr:  clientIP(r),
		Head:        r.Method == http.MethodHead,
	})
	if err != nil {
		writeStreamError(w, err)
		return
	}
	newStreamPipeline(w, r, stream, s.logger).run()
}

func (s *Server) handleStreamTorrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.streamTorrent == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "torrent streaming not configured")
		return
	}
	magnet, ok := magnetFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "magnet link is required")
		return
	}
	stream, err := s.streamTorrent.Execute(r.Context(), usecase.StreamTorrentRequest{
		Magnet:      magnet,
		RangeHeader: r.Header.Get("Range"),
		RemoteAddr:  clientIP(r),
		Head:        r.Method == http.MethodHead,
	})
	if err != nil {
		writeStreamError(w, err)
		return
	}
	newStreamPipeline(w, r, stream, s.logger).run()
}

// magnetFromRequest extracts the magnet link following /torrent/. Clients that
// do not escape the link leave its query in the URL query; it is stitched back.
func magnetFromRequest(r *http.Request) (string, bool) {
	raw := strings.TrimPrefix(r.URL.EscapedPath(), torrentPrefix)
	magnet, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}
	if r.URL.RawQuery != "" && !strings.Contains(magnet, "?") {
		magnet += "?" + r.URL.RawQuery
	}
	magnet = strings.TrimSpace(magnet)
	return magnet, magnet != ""
}
