package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"aquaflash/internal/firmware"
	"aquaflash/internal/metrics"
	"aquaflash/internal/registry"
)

// FirmwareRequest is the body of POST /api/sessions/{sessionId}/firmware
type FirmwareRequest struct {
	DeviceID         string             `json:"deviceId,omitempty"`
	DeviceName       string             `json:"deviceName"`
	Category         firmware.Category  `json:"category,omitempty"`
	WiFiSSID         string             `json:"wifiSsid"`
	WiFiPassword     string             `json:"wifiPassword"`
	ServerHost       string             `json:"serverHost,omitempty"`
	ServerPort       int                `json:"serverPort,omitempty"`
	Transport        firmware.Transport `json:"transport,omitempty"`
	SensorInterval   int                `json:"sensorInterval,omitempty"`
	OTA              bool               `json:"ota,omitempty"`
	DeepSleep        bool               `json:"deepSleep,omitempty"`
	DeepSleepSeconds int                `json:"deepSleepSeconds,omitempty"`
}

// FirmwareHandler renders sketches for configuration sessions
type FirmwareHandler struct {
	sessions *SessionStore
	registry registry.Lookup
	metrics  *metrics.Metrics
	logger   *log.Logger
}

// NewFirmwareHandler creates new firmware handler
func NewFirmwareHandler(sessions *SessionStore, lookup registry.Lookup, m *metrics.Metrics, logger *log.Logger) *FirmwareHandler {
	return &FirmwareHandler{
		sessions: sessions,
		registry: lookup,
		metrics:  m,
		logger:   logger,
	}
}

// Generate handles POST /api/sessions/{sessionId}/firmware.
// An unknown deviceId is not an error: the sketch is rendered with
// placeholder credentials and a warning.
func (h *FirmwareHandler) Generate(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}

	var req FirmwareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var extra []string
	creds, err := h.credentials(req.DeviceID)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		extra = append(extra, fmt.Sprintf("Device %s is not registered, using placeholder credentials", req.DeviceID))
	}

	fw := firmware.Generate(firmware.Config{
		Board:            sess.Board,
		Assignments:      sess.Store.All(),
		DeviceName:       req.DeviceName,
		Category:         req.Category,
		Credentials:      creds,
		WiFiSSID:         req.WiFiSSID,
		WiFiPassword:     req.WiFiPassword,
		ServerHost:       req.ServerHost,
		ServerPort:       req.ServerPort,
		Transport:        req.Transport,
		SensorInterval:   req.SensorInterval,
		OTA:              req.OTA,
		DeepSleep:        req.DeepSleep,
		DeepSleepSeconds: req.DeepSleepSeconds,
	})
	fw.Warnings = append(fw.Warnings, extra...)

	sess.SetFirmware(fw)
	if h.metrics != nil {
		h.metrics.ObserveGenerate(sess.Board.ID, len(fw.Warnings))
	}
	h.logger.Printf("[Firmware] Generated %s for %s (%d warnings)", fw.Filename, sess.Board.ID, len(fw.Warnings))

	writeJSON(w, http.StatusOK, fw)
}

// Last handles GET /api/sessions/{sessionId}/firmware?format=ino|yaml.
// Without a format the firmware JSON is returned.
func (h *FirmwareHandler) Last(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(h.sessions, w, r)
	if !ok {
		return
	}
	fw := sess.Firmware()
	if fw == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No firmware generated yet"})
		return
	}

	switch r.URL.Query().Get("format") {
	case "":
		writeJSON(w, http.StatusOK, fw)
	case "ino":
		w.Header().Set("Content-Type", "text/x-arduino; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fw.Filename))
		w.Write([]byte(fw.Source))
	case "yaml":
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Content-Disposition", `attachment; filename="sketch.yaml"`)
		w.Write([]byte(fw.Project))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "format must be ino or yaml"})
	}
}

func (h *FirmwareHandler) credentials(deviceID string) (*registry.Device, error) {
	if deviceID == "" || h.registry == nil {
		return nil, nil
	}
	return h.registry.Device(deviceID)
}
