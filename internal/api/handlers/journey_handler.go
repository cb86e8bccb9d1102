package handlers

import (
	"net/http"

	"github.com/zatekoja/patientjourney/internal/application/services"
	"github.com/zatekoja/patientjourney/internal/domain/entities"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

// JourneyHandler handles journey state machine requests
type JourneyHandler struct {
	journeys *services.JourneyService
	queue    *services.NotificationQueue
}

// NewJourneyHandler creates a new journey handler
func NewJourneyHandler(journeys *services.JourneyService, queue *services.NotificationQueue) *JourneyHandler {
	return &JourneyHandler{
		journeys: journeys,
		queue:    queue,
	}
}

// StartJourney handles POST /api/journeys
func (h *JourneyHandler) StartJourney(w http.ResponseWriter, r *http.Request) {
	var req services.StartJourneyRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	journey, err := h.journeys.Start(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, journey)
}

// ListJourneys handles GET /api/journeys?state=&coordinatorId=&limit=&offset=
func (h *JourneyHandler) ListJourneys(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter entities.JourneyFilter

	if s := query.Get("state"); s != "" {
		state := entities.JourneyState(s)
		filter.State = &state
	}
	if c := query.Get("coordinatorId"); c != "" {
		filter.CoordinatorID = &c
	}

	limit, _, err := queryInt(r, "limit")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	offset, _, err := queryInt(r, "offset")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	filter.Limit = limit
	filter.Offset = offset

	journeys, err := h.journeys.List(r.Context(), filter)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"journeys": journeys,
		"count":    len(journeys),
	})
}

// GetJourney handles GET /api/journeys/{id}
func (h *JourneyHandler) GetJourney(w http.ResponseWriter, r *http.Request) {
	journey, err := h.journeys.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, journey)
}

// TransitionJourney handles POST /api/journeys/{id}/transition
func (h *JourneyHandler) TransitionJourney(w http.ResponseWriter, r *http.Request) {
	var req services.TransitionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	journey, err := h.journeys.Transition(r.Context(), r.PathValue("id"), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, journey)
}

// GetTimeline handles GET /api/journeys/{id}/timeline
func (h *JourneyHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	journeyID := r.PathValue("id")
	events, err := h.journeys.Timeline(r.Context(), journeyID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"journey_id": journeyID,
		"events":     events,
		"count":      len(events),
	})
}

type assignCoordinatorRequest struct {
	CoordinatorID string         `json:"coordinatorId"`
	Notes         string         `json:"notes,omitempty"`
	Actor         entities.Actor `json:"actor"`
}

// AssignCoordinator handles POST /api/journeys/{id}/assign-coordinator
func (h *JourneyHandler) AssignCoordinator(w http.ResponseWriter, r *http.Request) {
	var req assignCoordinatorRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	journey, err := h.journeys.AssignCoordinator(r.Context(), r.PathValue("id"), req.CoordinatorID, req.Notes, req.Actor)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, journey)
}

// ListNotifications handles GET /api/journeys/{id}/notifications
func (h *JourneyHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	journeyID := r.PathValue("id")
	if _, err := h.journeys.Get(r.Context(), journeyID); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	if h.queue == nil {
		respondWithError(w, http.StatusServiceUnavailable, apperrors.ErrorTypeInternal, "notification queue not configured")
		return
	}

	notifications, err := h.queue.ListForJourney(r.Context(), journeyID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"journey_id":    journeyID,
		"notifications": notifications,
		"count":         len(notifications),
	})
}
