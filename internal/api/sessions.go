package api

import (
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"aquaflash/internal/catalog"
	"aquaflash/internal/firmware"
	"aquaflash/internal/pinmap"
)

const maxSessions = 64

// Session is one pin configuration in progress: a board, its assignments
// and the last sketch generated from them.
type Session struct {
	ID        string
	Board     *catalog.Board
	Store     *pinmap.Store
	CreatedAt time.Time

	mu       sync.RWMutex
	firmware *firmware.Firmware
}

// SetFirmware remembers the last generated sketch
func (s *Session) SetFirmware(fw *firmware.Firmware) {
	s.mu.Lock()
	s.firmware = fw
	s.mu.Unlock()
}

// Firmware returns the last generated sketch, nil before the first generation
func (s *Session) Firmware() *firmware.Firmware {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firmware
}

type sessionView struct {
	ID          string               `json:"id"`
	BoardID     string               `json:"boardId"`
	CreatedAt   time.Time            `json:"createdAt"`
	Assignments []pinmap.SensorGroup `json:"assignments"`
	Generated   bool                 `json:"generated"`
}

func (s *Session) view() sessionView {
	groups := s.Store.ListBySensor()
	if groups == nil {
		groups = []pinmap.SensorGroup{}
	}
	return sessionView{
		ID:          s.ID,
		BoardID:     s.Board.ID,
		CreatedAt:   s.CreatedAt,
		Assignments: groups,
		Generated:   s.Firmware() != nil,
	}
}

// SessionStore keeps configuration sessions in memory. The oldest session
// is evicted once the limit is reached.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
}

// NewSessionStore creates a store holding at most max sessions
func NewSessionStore(max int) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		max:      max,
	}
}

// Create starts a session for board
func (s *SessionStore) Create(board *catalog.Board) *Session {
	sess := &Session{
		ID:        uuid.NewString(),
		Board:     board,
		Store:     pinmap.NewStore(),
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.max {
		s.evictOldest()
	}
	s.sessions[sess.ID] = sess
	return sess
}

// Get returns the session with the given id
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Delete drops a session
func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) evictOldest() {
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	for _, sess := range all[:len(all)-s.max+1] {
		delete(s.sessions, sess.ID)
	}
}

// SessionHandler handles configuration session endpoints
type SessionHandler struct {
	sessions *SessionStore
}

// NewSessionHandler creates new session handler
func NewSessionHandler(sessions *SessionStore) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// CreateSessionRequest is the body of POST /api/sessions
type CreateSessionRequest struct {
	BoardID string `json:"boardId"`
}

// AssignRequest is the body of PUT /api/sessions/{sessionId}/pins/{pinId}
type AssignRequest struct {
	SensorID  string `json:"sensorId"`
	Instance  int    `json:"instance,omitempty"`
	SensorPin string `json:"sensorPin"`
}

// Create handles POST /api/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	board, ok := catalog.LookupBoard(req.BoardID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Board not found"})
		return
	}
	if !board.Supported {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": board.Name + " is not supported yet"})
		return
	}

	sess := h.sessions.Create(board)
	writeJSON(w, http.StatusCreated, sess.view())
}

// Get handles GET /api/sessions/{sessionId}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.view())
}

// Delete handles DELETE /api/sessions/{sessionId}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Delete(chi.URLParam(r, "sessionId")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPins handles GET /api/sessions/{sessionId}/pins, grouped by sensor
func (h *SessionHandler) ListPins(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.view().Assignments)
}

// ResetPins handles DELETE /api/sessions/{sessionId}/pins
func (h *SessionHandler) ResetPins(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.Store.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// AssignPin handles PUT /api/sessions/{sessionId}/pins/{pinId}.
// A pin already in use is rebound to the new sensor.
func (h *SessionHandler) AssignPin(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req AssignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pinID := chi.URLParam(r, "pinId")
	ref := pinmap.SensorRef{SensorID: req.SensorID, Instance: req.Instance}
	verdict, err := pinmap.Bind(sess.Store, sess.Board, pinID, ref, req.SensorPin)
	if err != nil {
		writeError(w, bindStatus(err), err)
		return
	}

	a, _ := sess.Store.Get(pinID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assignment": a,
		"verdict":    verdict,
	})
}

// UnassignPin handles DELETE /api/sessions/{sessionId}/pins/{pinId}
func (h *SessionHandler) UnassignPin(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.Store.Unassign(chi.URLParam(r, "pinId"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	return lookupSession(h.sessions, w, r)
}

// lookupSession resolves {sessionId}, answering 404 when it is unknown
func lookupSession(sessions *SessionStore, w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := sessions.Get(chi.URLParam(r, "sessionId"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
	}
	return sess, ok
}

func bindStatus(err error) int {
	switch {
	case errors.Is(err, pinmap.ErrUnknownPin), errors.Is(err, pinmap.ErrUnknownSensor):
		return http.StatusNotFound
	case errors.Is(err, pinmap.ErrUnknownSensorPin):
		return http.StatusBadRequest
	case errors.Is(err, pinmap.ErrPowerPin), errors.Is(err, pinmap.ErrNoGPIO), errors.Is(err, pinmap.ErrIncompatible):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
