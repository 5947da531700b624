// Package api exposes the internal HTTP surface: channel and credential
// management, ticket actions, message reads and outbound sends.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/atendelab/zapdesk/internal/apperr"
	"github.com/atendelab/zapdesk/pkg/logging"
)

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Internals and
// transients stay opaque to the caller.
func writeError(w http.ResponseWriter, logger *logging.Logger, err error) {
	kind := apperr.KindOf(err)

	var status int
	msg := err.Error()
	switch kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindProvider:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
		msg = "internal error"
		logger.Error("request failed", "error", err)
	}

	var body errorBody
	body.Error.Kind = kind.String()
	body.Error.Message = msg
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("api: empty request body")
		}
		return apperr.Validation("api: malformed request body: %v", err)
	}
	return nil
}
