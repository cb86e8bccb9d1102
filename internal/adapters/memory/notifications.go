package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

type notificationStore struct{ *Store }

func (n *notificationStore) Enqueue(ctx context.Context, notifications []*entities.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, item := range notifications {
		if _, ok := n.notificationIdx[item.ID]; ok {
			return apperrors.NewConflictError(fmt.Sprintf("notification %s already exists", item.ID))
		}
	}
	for _, item := range notifications {
		n.notificationIdx[item.ID] = len(n.notifications)
		n.notifications = append(n.notifications, copyNotification(item))
	}
	return nil
}

func (n *notificationStore) ClaimPending(ctx context.Context, limit int, now time.Time) ([]*entities.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var pending []*entities.Notification
	for _, item := range n.notifications {
		if item.Status == entities.NotificationStatusPending {
			pending = append(pending, item)
		}
	}
	// Stable sort keeps insertion order for equal priority and timestamp.
	sort.SliceStable(pending, func(i, k int) bool {
		ri, rk := pending[i].Priority.Rank(), pending[k].Priority.Rank()
		if ri != rk {
			return ri > rk
		}
		return pending[i].CreatedAt.Before(pending[k].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	claimed := make([]*entities.Notification, 0, len(pending))
	for _, item := range pending {
		item.Status = entities.NotificationStatusProcessing
		item.ClaimedAt = timePtr(now)
		item.UpdatedAt = now
		claimed = append(claimed, copyNotification(item))
	}
	return claimed, nil
}

func (n *notificationStore) Complete(ctx context.Context, outcome entities.DeliveryOutcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx, ok := n.notificationIdx[outcome.NotificationID]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("notification not found: %s", outcome.NotificationID))
	}
	item := n.notifications[idx]
	if item.Status != entities.NotificationStatusProcessing {
		return apperrors.NewConflictError(fmt.Sprintf("notification %s is %s, not processing", item.ID, item.Status))
	}
	if outcome.Sent {
		item.Status = entities.NotificationStatusSent
		item.SentAt = timePtr(outcome.At)
		if outcome.ExternalID != "" {
			ext := outcome.ExternalID
			item.ExternalID = &ext
		}
	} else {
		item.Status = entities.NotificationStatusFailed
		msg := outcome.ErrorMessage
		item.ErrorMessage = &msg
	}
	item.UpdatedAt = outcome.At
	return nil
}

func (n *notificationStore) RenewClaim(ctx context.Context, id string, now time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx, ok := n.notificationIdx[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("notification not found: %s", id))
	}
	item := n.notifications[idx]
	if item.Status != entities.NotificationStatusProcessing {
		return apperrors.NewConflictError(fmt.Sprintf("notification %s is %s, not processing", item.ID, item.Status))
	}
	item.ClaimedAt = timePtr(now)
	item.UpdatedAt = now
	return nil
}

func (n *notificationStore) FailStaleClaims(ctx context.Context, cutoff time.Time, message string) ([]*entities.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var failed []*entities.Notification
	for _, item := range n.notifications {
		if item.Status != entities.NotificationStatusProcessing || item.ClaimedAt == nil || !item.ClaimedAt.Before(cutoff) {
			continue
		}
		msg := message
		item.Status = entities.NotificationStatusFailed
		item.ErrorMessage = &msg
		item.UpdatedAt = time.Now().UTC()
		failed = append(failed, copyNotification(item))
	}
	return failed, nil
}

func (n *notificationStore) GetByID(ctx context.Context, id string) (*entities.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx, ok := n.notificationIdx[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("notification not found: %s", id))
	}
	return copyNotification(n.notifications[idx]), nil
}

func (n *notificationStore) ListByJourney(ctx context.Context, journeyID string) ([]*entities.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := []*entities.Notification{}
	for _, item := range n.notifications {
		if item.JourneyID == journeyID {
			out = append(out, copyNotification(item))
		}
	}
	return out, nil
}
