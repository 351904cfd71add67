package api

import (
	"net/http"

	"aquaflash/internal/serialport"
)

// SerialHandler lists USB serial bridges
type SerialHandler struct {
	detect func() ([]serialport.Device, error)
}

// NewSerialHandler creates new serial handler
func NewSerialHandler(detect func() ([]serialport.Device, error)) *SerialHandler {
	return &SerialHandler{detect: detect}
}

// List handles GET /api/serial/ports
func (h *SerialHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.detect()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if devices == nil {
		devices = []serialport.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}
