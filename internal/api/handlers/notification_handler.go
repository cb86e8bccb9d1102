package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/zatekoja/patientjourney/internal/application/services"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

// NotificationHandler exposes the notification queue to cron callers and operators
type NotificationHandler struct {
	queue      *services.NotificationQueue
	cronSecret string
	batchSize  int
}

// NewNotificationHandler creates a new notification handler. An empty
// cronSecret leaves the process endpoint open.
func NewNotificationHandler(queue *services.NotificationQueue, cronSecret string, batchSize int) *NotificationHandler {
	return &NotificationHandler{
		queue:      queue,
		cronSecret: cronSecret,
		batchSize:  batchSize,
	}
}

func (h *NotificationHandler) authorized(r *http.Request) bool {
	if h.cronSecret == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}

// ProcessQueue handles POST /api/notifications/process (GET for simple cron services)
func (h *NotificationHandler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		respondWithError(w, http.StatusUnauthorized, apperrors.ErrorTypeUnauthorized, "unauthorized")
		return
	}

	batchSize, set, err := queryInt(r, "batchSize")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if !set {
		batchSize = h.batchSize
	}

	result, err := h.queue.Drain(r.Context(), batchSize)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// Requeue handles POST /api/notifications/{id}/requeue
func (h *NotificationHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.Requeue(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, n)
}
