package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"streamgate/internal/domain"
	"streamgate/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeStreamError maps a stream use case failure onto a response. It writes
// nothing when the client has already gone away.
func writeStreamError(w http.ResponseWriter, err error) {
	var rangeErr *usecase.RangeError
	switch {
	case errors.As(err, &rangeErr):
		writeRangeNotSatisfiable(w, rangeErr.Total)
	case errors.Is(err, domain.ErrRangeNotSatisfiable):
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrClientDisconnected):
		return
	case errors.Is(err, domain.ErrInvalidIdentifier):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid magnet link")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "file not found")
	case errors.Is(err, domain.ErrSizeLimitExceeded):
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the streaming size limit")
	case errors.Is(err, domain.ErrAcquireTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusInternalServerError, "acquire_timeout", "timed out waiting for torrent metadata")
	case errors.Is(err, usecase.ErrEngine):
		writeError(w, http.StatusInternalServerError, "engine_error", err.Error())
	case errors.Is(err, domain.ErrStream):
		writeError(w, http.StatusInternalServerError, "stream_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeRangeNotSatisfiable(w http.ResponseWriter, total int64) {
	w.Header().Set("Content-Range", domain.UnsatisfiedContentRange(total))
	w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseLimit(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, errors.New("invalid limit")
	}
	return n, nil
}
