package api

import (
	"errors"
	"io"
	"net/http"

	"aquaflash/internal/firmware"
	"aquaflash/internal/mqtt"
	"aquaflash/internal/registry"
)

// TelemetryHandler accepts the HTTP transport of generated firmware so a
// freshly flashed board can be seen reporting in.
type TelemetryHandler struct {
	monitor *mqtt.Monitor
}

// NewTelemetryHandler creates new telemetry handler
func NewTelemetryHandler(monitor *mqtt.Monitor) *TelemetryHandler {
	return &TelemetryHandler{monitor: monitor}
}

// Ingest handles POST /api/telemetry
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Telemetry is not enabled"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	_, err = h.monitor.HandlePayload(body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, firmware.TelemetryResponse{})
	case errors.Is(err, registry.ErrInvalidKey), errors.Is(err, mqtt.ErrMACMismatch):
		writeError(w, http.StatusUnauthorized, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}
