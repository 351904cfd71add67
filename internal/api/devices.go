package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aquaflash/internal/catalog"
	"aquaflash/internal/mqtt"
	"aquaflash/internal/registry"
)

// DeviceHandler handles the device registry endpoints
type DeviceHandler struct {
	registry  registry.Registry
	monitor   *mqtt.Monitor
	discovery *mqtt.DiscoveryManager
	logger    *log.Logger
}

// NewDeviceHandler creates new device handler. monitor and discovery may be nil.
func NewDeviceHandler(reg registry.Registry, monitor *mqtt.Monitor, discovery *mqtt.DiscoveryManager, logger *log.Logger) *DeviceHandler {
	return &DeviceHandler{
		registry:  reg,
		monitor:   monitor,
		discovery: discovery,
		logger:    logger,
	}
}

// RegisterRequest is the body of POST /api/devices
type RegisterRequest struct {
	DeviceName string              `json:"deviceName"`
	DeviceMAC  string              `json:"deviceMac"`
	DeviceType registry.DeviceType `json:"deviceType"`
	// Sensors lists catalog sensor ids whose readings are announced over
	// MQTT discovery when it is enabled.
	Sensors []string `json:"sensors,omitempty"`
}

type deviceView struct {
	*registry.Device
	LastSeen *mqtt.Contact `json:"lastSeen,omitempty"`
}

// List handles GET /api/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	devices, err := h.registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, h.view(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// Register handles POST /api/devices and returns the device with its API key
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var readings []catalog.Reading
	for _, id := range req.Sensors {
		sensor, ok := catalog.LookupSensor(id)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unknown sensor " + id})
			return
		}
		readings = append(readings, sensor.Readings...)
	}

	d := &registry.Device{
		DeviceName: req.DeviceName,
		DeviceMAC:  req.DeviceMAC,
		DeviceType: req.DeviceType,
	}
	if err := h.registry.Register(d); err != nil {
		if errors.Is(err, registry.ErrInvalidDevice) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.logger.Printf("[Registry] Registered %s (%s)", d.DeviceName, d.DeviceMAC)

	if h.discovery != nil && len(readings) > 0 {
		if err := h.discovery.PublishDevice(d, readings); err != nil {
			h.logger.Printf("[Registry] Discovery for %s failed: %v", d.DeviceName, err)
		}
	}

	writeJSON(w, http.StatusCreated, d)
}

// Get handles GET /api/devices/{deviceId}
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	d, err := h.registry.Device(chi.URLParam(r, "deviceId"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Device not found"})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(d))
}

// Delete handles DELETE /api/devices/{deviceId}
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id := chi.URLParam(r, "deviceId")
	if err := h.registry.Delete(id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Device not found"})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if h.discovery != nil {
		if err := h.discovery.RemoveDevice(id); err != nil {
			h.logger.Printf("[Registry] Discovery cleanup for %s failed: %v", id, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DeviceHandler) view(d *registry.Device) deviceView {
	v := deviceView{Device: d}
	if h.monitor != nil {
		if c, ok := h.monitor.LastSeen(d.DeviceMAC); ok {
			v.LastSeen = &c
		}
	}
	return v
}

func (h *DeviceHandler) available(w http.ResponseWriter) bool {
	if h.registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Device registry is not configured"})
		return false
	}
	return true
}
