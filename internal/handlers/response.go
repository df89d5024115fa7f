// Package handlers exposes the HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chillerhub/internal/apperr"
	"chillerhub/internal/logger"
	"chillerhub/internal/middleware"
)

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("handlers").Warn().Err(err).Msg("response encode failed")
	}
}

// writeStatus writes the error body with an explicit status.
func writeStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// WriteError maps err to its status and writes the error body. Internal
// errors are logged with the request id and not echoed.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		logger.WithRequestID(r.Header.Get(middleware.RequestIDHeader)).Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeStatus(w, status, apperr.Message(err))
}

// decodeJSON reads the request body into v.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: request body is required", apperr.ErrInvalidInput)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return errBodyTooLarge
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: request body is required", apperr.ErrInvalidInput)
		case errors.Is(err, apperr.ErrInvalidInput):
			return err
		default:
			return fmt.Errorf("%w: invalid JSON: %v", apperr.ErrInvalidInput, err)
		}
	}
	return nil
}

var errBodyTooLarge = errors.New("request body too large")

// writeDecodeError renders a decodeJSON failure.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeStatus(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	WriteError(w, r, err)
}

// pathID reads a positive integer path variable.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", apperr.ErrInvalidInput, name)
	}
	return id, nil
}

// queryID reads an optional positive integer query parameter, trying each
// name in turn.
func queryID(r *http.Request, names ...string) (*int64, error) {
	q := r.URL.Query()
	for _, name := range names {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: %s must be a positive integer", apperr.ErrInvalidInput, name)
		}
		return &id, nil
	}
	return nil, nil
}
