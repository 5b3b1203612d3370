package apihttp

import (
	"errors"
	"net/http"

	"streamgate/internal/usecase"
)

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API is running"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "status not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.status.Execute())
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "journal_disabled", "session journal is disabled")
		return
	}
	events, err := s.history.Execute(r.Context(), limit)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrJournalDisabled):
			writeError(w, http.StatusNotFound, "journal_disabled", "session journal is disabled")
		case errors.Is(err, usecase.ErrRepository):
			writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, events)
}
