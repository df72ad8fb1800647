package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.APILogger().Debug("response encode failed", logging.Err(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeErr maps err to a status code: validation errors are the client's
// fault, oversized bodies are 413 and everything else is a server error.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var ve *dataset.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Msg)
	case tooLarge(err):
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
	default:
		logging.APILogger().Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// tooLarge reports whether err came from a body over the upload limit.
func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}
