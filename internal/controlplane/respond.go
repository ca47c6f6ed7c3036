package controlplane

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// respondJSON marshals payload and writes it with the given status code.
func respondJSON(w http.ResponseWriter, log *zap.SugaredLogger, code int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorw("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to serialize response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

// respondError writes a standard {"error": "..."} envelope. 5xx messages are
// replaced with a generic one; the specific message is still logged.
func respondError(w http.ResponseWriter, log *zap.SugaredLogger, code int, message string) {
	if code >= http.StatusInternalServerError {
		log.Errorw("responding with server error", "code", code, "message", message)
		message = "an internal server error occurred"
	}
	respondJSON(w, log, code, map[string]string{"error": message})
}
