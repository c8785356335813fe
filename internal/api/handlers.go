package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BTreeMap/ReEngage/internal/flow"
	"github.com/BTreeMap/ReEngage/internal/messaging"
	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/store"
)

// EventRequest is the body of POST /v1/conversants/{id}/events.
type EventRequest struct {
	MessageID string          `json:"message_id,omitempty"`
	Flow      models.FlowType `json:"flow,omitempty"`
	Event     flow.Payload    `json:"event"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// eventHandler handles POST /v1/conversants/{id}/events
func (s *Server) eventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	conversantID := r.PathValue("id")
	requestID := r.Header.Get(RequestIDHeader)

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.eventHandler: failed to decode JSON", "requestID", requestID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	ev, err := req.Event.Decode()
	if err != nil {
		slog.Warn("Server.eventHandler: invalid event", "requestID", requestID, "conversantID", conversantID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	reply, err := s.dispatcher.HandleInbound(r.Context(), messaging.Inbound{
		ConversantID: conversantID,
		MessageID:    req.MessageID,
		Flow:         req.Flow,
		Event:        ev,
	})
	switch {
	case err == nil:
		slog.Debug("Server.eventHandler: event handled", "requestID", requestID, "conversantID", conversantID, "state", reply.State)
		writeJSONResponse(w, http.StatusOK, models.Success(reply))
	case errors.Is(err, flow.ErrValidation), errors.Is(err, flow.ErrUnknownFlow):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		slog.Error("Server.eventHandler: event failed", "requestID", requestID, "conversantID", conversantID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to handle event"))
	}
}

// coordinatorID resolves the {id} path value to an existing coordinator. On failure it
// writes the response and returns false.
func (s *Server) coordinatorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid coordinator id"))
		return 0, false
	}
	if _, err := s.gw.GetCoordinator(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Coordinator not found"))
			return 0, false
		}
		slog.Error("Server.coordinatorID: lookup failed", "coordinatorID", id, "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Record store unavailable"))
		return 0, false
	}
	return id, true
}

func (s *Server) viewFailed(w http.ResponseWriter, view string, coordinatorID int64, err error) {
	slog.Error("Server.viewFailed: failed to compute view", "view", view, "coordinatorID", coordinatorID, "error", err)
	writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Failed to load "+view))
}

// priorityHandler handles GET /v1/coordinators/{id}/priority?limit=N
func (s *Server) priorityHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.coordinatorID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit"))
			return
		}
		limit = n
	}
	items, err := s.triage.Priority(r.Context(), id, s.opts.Clock(), limit)
	if err != nil {
		s.viewFailed(w, "priority", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(items))
}

func (s *Server) briefingHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.coordinatorID(w, r)
	if !ok {
		return
	}
	b, err := s.triage.Briefing(r.Context(), id, s.opts.Clock())
	if err != nil {
		s.viewFailed(w, "briefing", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(b))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.coordinatorID(w, r)
	if !ok {
		return
	}
	st, err := s.triage.Stats(r.Context(), id, s.opts.Clock())
	if err != nil {
		s.viewFailed(w, "stats", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(st))
}

func (s *Server) diaryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.coordinatorID(w, r)
	if !ok {
		return
	}
	d, err := s.triage.Diary(r.Context(), id, s.opts.Clock())
	if err != nil {
		s.viewFailed(w, "diary", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(d))
}
