package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zatekoja/patientjourney/internal/application/services"
	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/providers"
	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

const sseHeartbeatInterval = 30 * time.Second

// SSEHandler streams live journey events to dashboards
type SSEHandler struct {
	eventBus providers.EventBus
	journeys *services.JourneyService
	clients  map[string]map[chan *entities.JourneyEvent]bool // channel -> clients
	mu       sync.RWMutex
}

// NewSSEHandler creates a new SSE handler. journeys may be nil, in which case
// the journey is not checked before subscribing.
func NewSSEHandler(eventBus providers.EventBus, journeys *services.JourneyService) *SSEHandler {
	return &SSEHandler{
		eventBus: eventBus,
		journeys: journeys,
		clients:  make(map[string]map[chan *entities.JourneyEvent]bool),
	}
}

// StreamJourneyEvents handles GET /api/journeys/{id}/stream
func (h *SSEHandler) StreamJourneyEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx)

	journeyID := r.PathValue("id")
	if journeyID == "" {
		respondWithError(w, http.StatusBadRequest, apperrors.ErrorTypeValidation, "journey ID is required")
		return
	}
	if h.journeys != nil {
		if _, err := h.journeys.Get(ctx, journeyID); err != nil {
			respondWithAppError(w, r, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, apperrors.ErrorTypeInternal, "streaming not supported")
		return
	}

	channel := providers.GetJourneyChannel(journeyID)
	eventChan, err := h.eventBus.Subscribe(ctx, channel)
	if err != nil {
		logger.Error().Err(err).Str("channel", channel).Msg("Failed to subscribe to journey channel")
		respondWithError(w, http.StatusServiceUnavailable, apperrors.ErrorTypeInternal, "event stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientChan := make(chan *entities.JourneyEvent, 10)
	h.registerClient(channel, clientChan)
	defer h.unregisterClient(channel, clientChan)

	h.sendEvent(w, "connected", map[string]interface{}{
		"journey_id": journeyID,
		"timestamp":  time.Now().UTC(),
	})
	flusher.Flush()

	go h.forwardEvents(ctx, eventChan, clientChan)

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str("journey_id", journeyID).Msg("Client disconnected from journey stream")
			return
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", map[string]interface{}{
				"timestamp": time.Now().UTC(),
			})
			flusher.Flush()
		case event := <-clientChan:
			if event == nil {
				continue
			}
			h.sendEvent(w, string(event.EventType), event)
			flusher.Flush()
		}
	}
}

// forwardEvents forwards events from the event bus to a client channel
func (h *SSEHandler) forwardEvents(ctx context.Context, eventChan <-chan *entities.JourneyEvent, clientChan chan<- *entities.JourneyEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			select {
			case clientChan <- event:
			default:
				// slow client, drop
			}
		}
	}
}

func (h *SSEHandler) registerClient(channel string, clientChan chan *entities.JourneyEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[channel] == nil {
		h.clients[channel] = make(map[chan *entities.JourneyEvent]bool)
	}
	h.clients[channel][clientChan] = true
}

func (h *SSEHandler) unregisterClient(channel string, clientChan chan *entities.JourneyEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, exists := h.clients[channel]; exists {
		delete(clients, clientChan)
		if len(clients) == 0 {
			delete(h.clients, channel)
		}
	}
}

// sendEvent writes one SSE frame
func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// GetClientCount returns the number of connected clients
func (h *SSEHandler) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
