package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
)

func TestJourneyHandler_StartAndGet(t *testing.T) {
	h := newHarness(t)
	journey := h.startJourney(t, "intake-1")

	assert.NotEmpty(t, journey.ID)
	assert.Equal(t, "intake-1", journey.PatientIntakeID)
	assert.Equal(t, entities.JourneyStateInquiry, journey.CurrentState)

	w := h.do(t, http.MethodGet, "/api/journeys/"+journey.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var fetched entities.Journey
	decode(t, w, &fetched)
	assert.Equal(t, journey.ID, fetched.ID)
	assert.Equal(t, entities.JourneyStateInquiry, fetched.CurrentState)
}

func TestJourneyHandler_StartValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "missing intake", body: map[string]interface{}{}},
		{name: "blank intake", body: map[string]interface{}{"patientIntakeId": "   "}},
		{name: "malformed body", body: "{not json"},
		{name: "empty body", body: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/journeys", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "VALIDATION", decodeError(t, w).Type)
		})
	}
}

func TestJourneyHandler_GetNotFound(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/journeys/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Type)
}

func TestJourneyHandler_Transition(t *testing.T) {
	h := newHarness(t)
	journey := h.startJourney(t, "intake-2")

	w := h.do(t, http.MethodPost, "/api/journeys/"+journey.ID+"/transition", map[string]interface{}{
		"targetState": "SCREENING",
		"reason":      "documents received",
		"actor":       map[string]interface{}{"type": "coordinator", "id": "coord-1"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated entities.Journey
	decode(t, w, &updated)
	assert.Equal(t, entities.JourneyStateScreening, updated.CurrentState)
	require.Len(t, updated.StateHistory, 2)
	assert.Equal(t, "documents received", updated.StateHistory[1].Reason)
}

func TestJourneyHandler_TransitionRejected(t *testing.T) {
	h := newHarness(t)
	journey := h.startJourney(t, "intake-3")

	t.Run("outside the graph", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/journeys/"+journey.ID+"/transition", map[string]interface{}{
			"targetState": "BOOKING",
			"actor":       map[string]interface{}{"type": "system"},
		})
		require.Equal(t, http.StatusConflict, w.Code)

		body := decodeError(t, w)
		assert.Equal(t, "INVALID_TRANSITION", body.Type)
		assert.ElementsMatch(t, []interface{}{"SCREENING", "CANCELLED"}, body.Details["allowed_transitions"])
	})

	t.Run("coordinator without reason", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/journeys/"+journey.ID+"/transition", map[string]interface{}{
			"targetState": "SCREENING",
			"actor":       map[string]interface{}{"type": "coordinator", "id": "coord-1"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown state", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/journeys/"+journey.ID+"/transition", map[string]interface{}{
			"targetState": "LIMBO",
			"actor":       map[string]interface{}{"type": "system"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing journey", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/journeys/missing/transition", map[string]interface{}{
			"targetState": "SCREENING",
			"actor":       map[string]interface{}{"type": "system"},
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	w := h.do(t, http.MethodGet, "/api/journeys/"+journey.ID, nil)
	var current entities.Journey
	decode(t, w, &current)
	assert.Equal(t, entities.JourneyStateInquiry, current.CurrentState)
}

func TestJourneyHandler_TimelineOrdered(t *testing.T) {
	h := newHarness(t)
	journey := h.startJourney(t, "intake-4")

	for _, state := range []string{"SCREENING", "MATCHING"} {
		w := h.do(t, http.MethodPost, "/api/journeys/"+journey.ID+"/transition", map[string]interface{}{
			"targetState": state,
			"actor":       map[string]interface{}{"type": "system"},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := h.do(t, http.MethodGet, "/api/journeys/"+journey.ID+"/timeline", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		JourneyID string `json:"journey_id"`
		Count     int    `json:"count"`
		Events    []struct {
			Sequence  int64  `json:"sequence"`
			EventType string `json:"event_type"`
			ToState   string `json:"to_state"`
		} `json:"events"`
	}
	decode(t, w, &body)

	assert.Equal(t, journey.ID, body.JourneyID)
	require.Equal(t, 3, body.Count)
	assert.Equal(t, "JOURNEY_STARTED", body.Events[0].EventType)
	assert.Equal(t, "SCREENING", body.Events[1].ToState)
	assert.Equal(t, "MATCHING", body.Events[2].ToState)
	for i := 1; i < len(body.Events); i++ {
		assert.Greater(t, body.Events[i].Sequence, body.Events[i-1].Sequence)
	}
}

func TestJourneyHandler_ListAndAssign(t *testing.T) {
	h := newHarness(t)
	first := h.startJourney(t, "intake-5")
	h.startJourney(t, "intake-6")

	w := h.do(t, http.MethodPost, "/api/journeys/"+first.ID+"/assign-coordinator", map[string]interface{}{
		"coordinatorId": "coord-7",
		"notes":         "speaks Yoruba",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var assigned entities.Journey
	decode(t, w, &assigned)
	require.NotNil(t, assigned.AssignedCoordinatorID)
	assert.Equal(t, "coord-7", *assigned.AssignedCoordinatorID)
	assert.Equal(t, entities.JourneyStateInquiry, assigned.CurrentState)

	w = h.do(t, http.MethodGet, "/api/journeys?coordinatorId=coord-7", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Journeys []entities.Journey `json:"journeys"`
		Count    int                `json:"count"`
	}
	decode(t, w, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, first.ID, list.Journeys[0].ID)

	w = h.do(t, http.MethodGet, "/api/journeys?state=INQUIRY", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Equal(t, 2, list.Count)

	w = h.do(t, http.MethodGet, "/api/journeys?state=LIMBO", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/api/journeys?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/journeys/"+first.ID+"/assign-coordinator", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJourneyHandler_ListNotifications(t *testing.T) {
	h := newHarness(t)
	journey := h.startJourney(t, "intake-8")

	w := h.do(t, http.MethodGet, "/api/journeys/"+journey.ID+"/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		JourneyID     string                  `json:"journey_id"`
		Count         int                     `json:"count"`
		Notifications []entities.Notification `json:"notifications"`
	}
	decode(t, w, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "welcome", body.Notifications[0].TemplateName)
	assert.Equal(t, entities.NotificationStatusPending, body.Notifications[0].Status)

	w = h.do(t, http.MethodGet, "/api/journeys/missing/notifications", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
