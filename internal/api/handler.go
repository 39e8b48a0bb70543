package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ferhates/earshot/internal/config"
	"github.com/ferhates/earshot/internal/session"
	"github.com/ferhates/earshot/internal/storage/sqlite"
	"github.com/ferhates/earshot/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// Handler contains the API request handlers
type Handler struct {
	manager *session.Manager
	storage *sqlite.SessionStorage
	config  *config.Config
	logger  *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(manager *session.Manager, storage *sqlite.SessionStorage, config *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		manager: manager,
		storage: storage,
		config:  config,
		logger:  log.Named("api-handler"),
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}

// controlError maps session-layer errors onto HTTP statuses. A closed
// transport or missing session is a conflict, not a server fault.
func (h *Handler) controlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		h.respondError(w, http.StatusConflict, "no active session")
	case errors.Is(err, session.ErrNotConnected):
		h.respondError(w, http.StatusConflict, "not connected")
	default:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// GetSession returns the active session's identity and transport state
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.manager.SessionID()
	if !ok {
		h.respondError(w, http.StatusNotFound, "no active session")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    id,
		"channel_state": h.manager.ChannelState().String(),
		"mic_active":    h.manager.MicActive(),
	})
}

// LaunchSession switches to a new session, tearing down any previous one
func (h *Handler) LaunchSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		h.respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := h.manager.Launch(req.SessionID); err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"session_id": req.SessionID})
}

// EndSession tears the active session down
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.manager.Teardown()
	w.WriteHeader(http.StatusNoContent)
}

// GetState returns the reconciled session state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	state, ok := h.manager.Snapshot()
	if !ok {
		h.respondError(w, http.StatusNotFound, "no active session")
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

// GetTranscript returns the live transcript, newest last
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	state, ok := h.manager.Snapshot()
	if !ok {
		h.respondError(w, http.StatusNotFound, "no active session")
		return
	}

	transcript := state.Transcript
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit < len(transcript) {
			transcript = transcript[len(transcript)-limit:]
		}
	}
	h.respondJSON(w, http.StatusOK, transcript)
}

// GetWords returns the tracked trigger words and their status
func (h *Handler) GetWords(w http.ResponseWriter, r *http.Request) {
	state, ok := h.manager.Snapshot()
	if !ok {
		h.respondError(w, http.StatusNotFound, "no active session")
		return
	}
	h.respondJSON(w, http.StatusOK, state.Words)
}

// SetBetSize updates the operator's bet size
func (h *Handler) SetBetSize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dollars float64 `json:"dollars"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Dollars <= 0 {
		h.respondError(w, http.StatusBadRequest, "dollars must be positive")
		return
	}

	if err := h.manager.SetBetSize(req.Dollars); err != nil {
		// The local value is recorded even when the sync fails; the
		// channel re-sends it on the next open.
		if errors.Is(err, session.ErrNotConnected) {
			h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded, sync pending"})
			return
		}
		h.controlError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SendDTMF forwards touch-tone digits to the call
func (h *Handler) SendDTMF(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Digits string `json:"digits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Digits == "" {
		h.respondError(w, http.StatusBadRequest, "digits is required")
		return
	}

	if err := h.manager.SendDTMF(req.Digits); err != nil {
		h.controlError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetDetectionPaused pauses or resumes word detection
func (h *Handler) SetDetectionPaused(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.manager.SetDetectionPaused(req.Paused); err != nil {
		h.controlError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetQAStarted marks the Q&A portion of the call as started
func (h *Handler) SetQAStarted(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.SetQAStarted(); err != nil {
		h.controlError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Redial asks the server to re-dial the call
func (h *Handler) Redial(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Redial(); err != nil {
		h.controlError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ForceCallEnd asks the server to hang up the call
func (h *Handler) ForceCallEnd(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ForceCallEnd(); err != nil {
		h.controlError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetMuted toggles local playback mute
func (h *Handler) SetMuted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Muted bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.manager.SetMuted(req.Muted); err != nil {
		h.controlError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartMic acquires the microphone and begins streaming
func (h *Handler) StartMic(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.StartMic(); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			h.controlError(w, err)
			return
		}
		// Device or permission failure: surfaced immediately, no retry.
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StopMic releases the microphone
func (h *Handler) StopMic(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.StopMic(); err != nil {
		h.controlError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStoredTranscript returns the persisted transcript for a session
func (h *Handler) GetStoredTranscript(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		h.respondError(w, http.StatusNotFound, "history storage disabled")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	if startStr, endStr := r.URL.Query().Get("start"), r.URL.Query().Get("end"); startStr != "" || endStr != "" {
		start, err := strconv.ParseFloat(startStr, 64)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid start")
			return
		}
		end, err := strconv.ParseFloat(endStr, 64)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid end")
			return
		}
		records, err := h.storage.GetSegmentsByTimeRange(sessionID, start, end)
		if err != nil {
			h.logger.Error("Failed to query stored transcript", logger.Error(err))
			h.respondError(w, http.StatusInternalServerError, "failed to query stored transcript")
			return
		}
		h.respondJSON(w, http.StatusOK, records)
		return
	}

	limit := 500
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	records, err := h.storage.GetSegmentsBySession(sessionID, limit)
	if err != nil {
		h.logger.Error("Failed to query stored transcript", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to query stored transcript")
		return
	}
	h.respondJSON(w, http.StatusOK, records)
}

// GetStoredWordEvents returns the persisted trigger firings for a session
func (h *Handler) GetStoredWordEvents(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		h.respondError(w, http.StatusNotFound, "history storage disabled")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	records, err := h.storage.GetWordEventsBySession(sessionID)
	if err != nil {
		h.logger.Error("Failed to query word events", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to query word events")
		return
	}
	h.respondJSON(w, http.StatusOK, records)
}

// GetHealth returns the service health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
