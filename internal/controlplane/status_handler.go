package controlplane

import (
	"net/http"

	"go.uber.org/zap"
)

// StatusHandlers exposes the maintenance-aware health probe, grounded on
// the teacher's StatusHandler but JSON-only.
type StatusHandlers struct {
	isMaintenance func() bool
	log           *zap.SugaredLogger
}

// NewStatusHandlers builds a StatusHandlers.
func NewStatusHandlers(isMaintenance func() bool, log *zap.SugaredLogger) *StatusHandlers {
	return &StatusHandlers{isMaintenance: isMaintenance, log: log}
}

// GetStatus reports whether the service is currently in maintenance mode.
func (h *StatusHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	enabled := h.isMaintenance()
	statusText := "available"
	code := http.StatusOK
	if enabled {
		statusText = "unavailable"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, h.log, code, map[string]interface{}{
		"maintenance_enabled": enabled,
		"status":              statusText,
	})
}
