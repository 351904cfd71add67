// Package api is the HTTP interface of aquaflash.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"aquaflash/internal/flasher"
	"aquaflash/internal/metrics"
	"aquaflash/internal/mqtt"
	"aquaflash/internal/registry"
	"aquaflash/internal/serialport"
)

// Deps are the collaborators the server is built from. Discovery and
// Detect are optional.
type Deps struct {
	Registry  registry.Registry
	Driver    *flasher.Driver
	Metrics   *metrics.Metrics
	Monitor   *mqtt.Monitor
	Discovery *mqtt.DiscoveryManager
	Detect    func() ([]serialport.Device, error)
	Logger    *log.Logger
}

// Server represents the API server
type Server struct {
	router   *chi.Mux
	deps     Deps
	sessions *SessionStore
}

// NewServer creates new API server
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Detect == nil {
		deps.Detect = serialport.Detect
	}

	s := &Server{
		router:   chi.NewRouter(),
		deps:     deps,
		sessions: NewSessionStore(maxSessions),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	catalogHandler := NewCatalogHandler()
	sessionHandler := NewSessionHandler(s.sessions)
	firmwareHandler := NewFirmwareHandler(s.sessions, s.deps.Registry, s.deps.Metrics, s.deps.Logger)
	flashHandler := NewFlashHandler(s.deps.Driver, s.sessions, s.deps.Logger)
	deviceHandler := NewDeviceHandler(s.deps.Registry, s.deps.Monitor, s.deps.Discovery, s.deps.Logger)
	telemetryHandler := NewTelemetryHandler(s.deps.Monitor)
	serialHandler := NewSerialHandler(s.deps.Detect)

	// Catalog
	r.Get("/api/boards", catalogHandler.ListBoards)
	r.Get("/api/boards/{boardId}", catalogHandler.GetBoard)
	r.Get("/api/boards/{boardId}/candidates", catalogHandler.Candidates)
	r.Get("/api/sensors", catalogHandler.ListSensors)
	r.Get("/api/sensors/{sensorId}", catalogHandler.GetSensor)

	// Configuration sessions
	r.Post("/api/sessions", sessionHandler.Create)
	r.Get("/api/sessions/{sessionId}", sessionHandler.Get)
	r.Delete("/api/sessions/{sessionId}", sessionHandler.Delete)
	r.Get("/api/sessions/{sessionId}/pins", sessionHandler.ListPins)
	r.Delete("/api/sessions/{sessionId}/pins", sessionHandler.ResetPins)
	r.Put("/api/sessions/{sessionId}/pins/{pinId}", sessionHandler.AssignPin)
	r.Delete("/api/sessions/{sessionId}/pins/{pinId}", sessionHandler.UnassignPin)

	// Firmware
	r.Post("/api/sessions/{sessionId}/firmware", firmwareHandler.Generate)
	r.Get("/api/sessions/{sessionId}/firmware", firmwareHandler.Last)

	// Flashing
	r.Get("/api/flash/status", flashHandler.Status)
	r.Get("/api/flash/log", flashHandler.Log)
	r.Get("/api/flash/console", flashHandler.Console)
	r.Post("/api/flash/connect", flashHandler.Connect)
	r.Post("/api/flash/start", flashHandler.Start)
	r.Post("/api/flash/retry", flashHandler.Retry)
	r.Post("/api/flash/again", flashHandler.Again)
	r.Post("/api/flash/disconnect", flashHandler.Disconnect)
	r.Get("/api/serial/ports", serialHandler.List)

	// Device registry
	r.Get("/api/devices", deviceHandler.List)
	r.Post("/api/devices", deviceHandler.Register)
	r.Get("/api/devices/{deviceId}", deviceHandler.Get)
	r.Delete("/api/devices/{deviceId}", deviceHandler.Delete)

	// Telemetry from flashed boards
	r.Post("/api/telemetry", telemetryHandler.Ingest)

	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Sessions returns the configuration session store
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// writeJSON writes JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
