package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aquaflash/internal/catalog"
	"aquaflash/internal/pinmap"
)

// CatalogHandler serves the static board and sensor definitions
type CatalogHandler struct{}

// NewCatalogHandler creates new catalog handler
func NewCatalogHandler() *CatalogHandler {
	return &CatalogHandler{}
}

// ListBoards handles GET /api/boards
func (h *CatalogHandler) ListBoards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Boards())
}

// GetBoard handles GET /api/boards/{boardId}
func (h *CatalogHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	board, ok := catalog.LookupBoard(chi.URLParam(r, "boardId"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Board not found"})
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// ListSensors handles GET /api/sensors?category=water-quality
func (h *CatalogHandler) ListSensors(w http.ResponseWriter, r *http.Request) {
	if c := r.URL.Query().Get("category"); c != "" {
		sensors := catalog.SensorsByCategory(catalog.Category(c))
		if sensors == nil {
			sensors = []catalog.Sensor{}
		}
		writeJSON(w, http.StatusOK, sensors)
		return
	}
	writeJSON(w, http.StatusOK, catalog.Sensors())
}

// GetSensor handles GET /api/sensors/{sensorId}
func (h *CatalogHandler) GetSensor(w http.ResponseWriter, r *http.Request) {
	sensor, ok := catalog.LookupSensor(chi.URLParam(r, "sensorId"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Sensor not found"})
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

// Candidates handles GET /api/boards/{boardId}/candidates?sensor=ds18b20&pin=DATA
// and lists the board pins that can serve one sensor pin.
func (h *CatalogHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	board, ok := catalog.LookupBoard(chi.URLParam(r, "boardId"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Board not found"})
		return
	}

	sensorID := r.URL.Query().Get("sensor")
	sensor, ok := catalog.LookupSensor(sensorID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Sensor not found"})
		return
	}

	pinName := r.URL.Query().Get("pin")
	sensorPin, ok := sensor.Pin(pinName)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s has no pin %q", sensor.ID, pinName))
		return
	}

	pins := pinmap.Candidates(board, sensorPin)
	if pins == nil {
		pins = []catalog.Pin{}
	}
	writeJSON(w, http.StatusOK, pins)
}
