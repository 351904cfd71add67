package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"aquaflash/internal/events"
	"aquaflash/internal/firmware"
	"aquaflash/internal/flasher"
)

const (
	consolePollInterval = 250 * time.Millisecond
	consoleWriteTimeout = 5 * time.Second
	connectTimeout      = 10 * time.Second
)

// FlashHandler drives the serial flasher
type FlashHandler struct {
	driver   *flasher.Driver
	sessions *SessionStore
	logger   *log.Logger
	upgrader websocket.Upgrader

	// flashes run detached from the request that started them
	background context.Context
}

// NewFlashHandler creates new flash handler
func NewFlashHandler(driver *flasher.Driver, sessions *SessionStore, logger *log.Logger) *FlashHandler {
	h := &FlashHandler{
		driver:     driver,
		sessions:   sessions,
		logger:     logger,
		background: context.Background(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameOrigin,
	}
	return h
}

// StartRequest is the body of POST /api/flash/start
type StartRequest struct {
	SessionID string `json:"sessionId"`
}

// Status handles GET /api/flash/status
func (h *FlashHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.driver.Status())
}

// Log handles GET /api/flash/log?since=123 or ?limit=50
func (h *FlashHandler) Log(w http.ResponseWriter, r *http.Request) {
	store := h.driver.Log()

	var entries []events.Entry
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		sinceID, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be an event id"})
			return
		}
		entries = store.GetSince(sinceID)
	} else {
		limit := 100
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
		entries = store.GetLast(limit)
	}
	if entries == nil {
		entries = []events.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": entries,
		"lastId": store.LastID(),
	})
}

// Connect handles POST /api/flash/connect
func (h *FlashHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()

	if err := h.driver.Connect(ctx); err != nil {
		writeError(w, flashStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h.driver.Status())
}

// Start handles POST /api/flash/start. The session's last generated sketch
// is compiled and written in the background; progress is read from
// /api/flash/status or the console.
func (h *FlashHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess, ok := h.sessions.Get(req.SessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	fw := sess.Firmware()
	if fw == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Generate firmware before flashing"})
		return
	}
	if !sess.Board.Supported {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": sess.Board.Name + " is not supported for flashing"})
		return
	}

	st := h.driver.Status()
	if st.Busy {
		writeError(w, http.StatusConflict, flasher.ErrBusy)
		return
	}
	if st.State != flasher.StateConnected {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Connect to the board before flashing"})
		return
	}

	job := flasher.Request{
		Sketch:    fw.Source,
		Filename:  fw.Filename,
		FQBN:      sess.Board.FQBN,
		Libraries: firmware.LibraryNames(fw.Libraries),
	}
	go func() {
		if err := h.driver.Flash(h.background, job); err != nil {
			h.logger.Printf("[Flasher] Flash of %s failed: %v", job.Filename, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "filename": fw.Filename})
}

// Retry handles POST /api/flash/retry
func (h *FlashHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.driver.Retry())
}

// Again handles POST /api/flash/again
func (h *FlashHandler) Again(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.driver.FlashAgain())
}

// Disconnect handles POST /api/flash/disconnect
func (h *FlashHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.driver.Disconnect())
}

func (h *FlashHandler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, flashStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h.driver.Status())
}

// consoleMessage is one websocket frame of the flash console
type consoleMessage struct {
	Type    string          `json:"type"` // "log" or "status"
	Entries []events.Entry  `json:"entries,omitempty"`
	Status  *flasher.Status `json:"status,omitempty"`
}

// Console handles GET /api/flash/console (WebSocket). The log is replayed
// from ?since= (default: everything kept) and then streamed together with
// status changes until the client goes away.
func (h *FlashHandler) Console(w http.ResponseWriter, r *http.Request) {
	var lastID int64
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if id, err := strconv.ParseInt(sinceStr, 10, 64); err == nil {
			lastID = id
		}
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[Console] WebSocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	// read pump: only used to notice the client closing
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	store := h.driver.Log()
	var lastStatus flasher.Status
	first := true

	ticker := time.NewTicker(consolePollInterval)
	defer ticker.Stop()

	for {
		if entries := store.GetSince(lastID); len(entries) > 0 {
			lastID = entries[len(entries)-1].ID
			if err := h.send(ws, consoleMessage{Type: "log", Entries: entries}); err != nil {
				return
			}
		}
		if st := h.driver.Status(); first || st != lastStatus {
			first = false
			lastStatus = st
			if err := h.send(ws, consoleMessage{Type: "status", Status: &st}); err != nil {
				return
			}
		}

		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *FlashHandler) send(ws *websocket.Conn, msg consoleMessage) error {
	ws.SetWriteDeadline(time.Now().Add(consoleWriteTimeout))
	return ws.WriteJSON(msg)
}

func flashStatus(err error) int {
	switch {
	case errors.Is(err, flasher.ErrBusy), errors.Is(err, flasher.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, flasher.ErrNotConnected):
		return http.StatusPreconditionFailed
	default:
		return http.StatusBadGateway
	}
}

// sameOrigin accepts non-browser clients and pages served from this host
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
