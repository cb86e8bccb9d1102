package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

const notificationSelect = `id, journey_id, template_name, channel, priority, data, status,
	sent_at, external_id, error_message, claimed_at, retry_of, created_at, updated_at`

// priorityRank must agree with NotificationPriority.Rank
const priorityRank = `CASE priority WHEN 'high' THEN 3 WHEN 'normal' THEN 2 WHEN 'low' THEN 1 ELSE 0 END`

// notificationRow is the table shape of a notification
type notificationRow struct {
	ID           string         `db:"id"`
	JourneyID    string         `db:"journey_id"`
	TemplateName string         `db:"template_name"`
	Channel      string         `db:"channel"`
	Priority     string         `db:"priority"`
	Data         types.JSONText `db:"data"`
	Status       string         `db:"status"`
	SentAt       sql.NullTime   `db:"sent_at"`
	ExternalID   sql.NullString `db:"external_id"`
	ErrorMessage sql.NullString `db:"error_message"`
	ClaimedAt    sql.NullTime   `db:"claimed_at"`
	RetryOf      sql.NullString `db:"retry_of"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func toNotificationRow(n *entities.Notification) (notificationRow, error) {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return notificationRow{}, err
	}
	row := notificationRow{
		ID:           n.ID,
		JourneyID:    n.JourneyID,
		TemplateName: n.TemplateName,
		Channel:      string(n.Channel),
		Priority:     string(n.Priority),
		Data:         types.JSONText(data),
		Status:       string(n.Status),
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
	if n.SentAt != nil {
		row.SentAt = sql.NullTime{Time: *n.SentAt, Valid: true}
	}
	if n.ExternalID != nil {
		row.ExternalID = sql.NullString{String: *n.ExternalID, Valid: true}
	}
	if n.ErrorMessage != nil {
		row.ErrorMessage = sql.NullString{String: *n.ErrorMessage, Valid: true}
	}
	if n.ClaimedAt != nil {
		row.ClaimedAt = sql.NullTime{Time: *n.ClaimedAt, Valid: true}
	}
	if n.RetryOf != nil {
		row.RetryOf = sql.NullString{String: *n.RetryOf, Valid: true}
	}
	return row, nil
}

func (r notificationRow) toEntity() (*entities.Notification, error) {
	n := &entities.Notification{
		ID:           r.ID,
		JourneyID:    r.JourneyID,
		TemplateName: r.TemplateName,
		Channel:      entities.NotificationChannel(r.Channel),
		Priority:     entities.NotificationPriority(r.Priority),
		Status:       entities.NotificationStatus(r.Status),
		Data:         map[string]interface{}{},
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if len(r.Data) > 0 {
		if err := r.Data.Unmarshal(&n.Data); err != nil {
			return nil, fmt.Errorf("decode notification data: %w", err)
		}
	}
	n.SentAt = nullTimePtr(r.SentAt)
	n.ClaimedAt = nullTimePtr(r.ClaimedAt)
	if r.ExternalID.Valid {
		n.ExternalID = &r.ExternalID.String
	}
	if r.ErrorMessage.Valid {
		n.ErrorMessage = &r.ErrorMessage.String
	}
	if r.RetryOf.Valid {
		n.RetryOf = &r.RetryOf.String
	}
	return n, nil
}

func toNotifications(rows []notificationRow) ([]*entities.Notification, error) {
	out := make([]*entities.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// NotificationAdapter implements the NotificationRepository interface
type NotificationAdapter struct {
	db *sqlx.DB
}

// NewNotificationAdapter creates a new notification queue adapter
func NewNotificationAdapter(db *sqlx.DB) repositories.NotificationRepository {
	return &NotificationAdapter{db: db}
}

// Enqueue inserts the notifications in one statement
func (a *NotificationAdapter) Enqueue(ctx context.Context, notifications []*entities.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	rows := make([]notificationRow, 0, len(notifications))
	for _, n := range notifications {
		row, err := toNotificationRow(n)
		if err != nil {
			return apperrors.NewInternalError("failed to encode notification", err)
		}
		rows = append(rows, row)
	}

	query := `
		INSERT INTO notifications (
			id, journey_id, template_name, channel, priority, data, status,
			sent_at, external_id, error_message, claimed_at, retry_of, created_at, updated_at
		) VALUES (
			:id, :journey_id, :template_name, :channel, :priority, :data, :status,
			:sent_at, :external_id, :error_message, :claimed_at, :retry_of, :created_at, :updated_at
		)`

	if _, err := a.db.NamedExecContext(ctx, query, rows); err != nil {
		return apperrors.NewInternalError("failed to enqueue notifications", err)
	}
	return nil
}

// ClaimPending moves up to limit pending rows to processing. SKIP LOCKED keeps
// concurrent workers from claiming the same row.
func (a *NotificationAdapter) ClaimPending(ctx context.Context, limit int, now time.Time) ([]*entities.Notification, error) {
	if limit <= 0 {
		return []*entities.Notification{}, nil
	}

	query := `
		UPDATE notifications
		SET status = 'processing', claimed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'pending'
			ORDER BY ` + priorityRank + ` DESC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + notificationSelect

	var rows []notificationRow
	if err := a.db.SelectContext(ctx, &rows, query, now, limit); err != nil {
		return nil, apperrors.NewInternalError("failed to claim notifications", err)
	}

	claimed, err := toNotifications(rows)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to decode notifications", err)
	}
	// RETURNING does not preserve the subquery order
	sort.SliceStable(claimed, func(i, j int) bool {
		ri, rj := claimed[i].Priority.Rank(), claimed[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

// Complete writes the terminal status of a processing row
func (a *NotificationAdapter) Complete(ctx context.Context, outcome entities.DeliveryOutcome) error {
	var (
		result sql.Result
		err    error
	)
	if outcome.Sent {
		result, err = a.db.ExecContext(ctx, `
			UPDATE notifications
			SET status = 'sent', sent_at = $2, external_id = NULLIF($3, ''), error_message = NULL, updated_at = $2
			WHERE id = $1 AND status = 'processing'`,
			outcome.NotificationID, outcome.At, outcome.ExternalID)
	} else {
		result, err = a.db.ExecContext(ctx, `
			UPDATE notifications
			SET status = 'failed', error_message = $3, updated_at = $2
			WHERE id = $1 AND status = 'processing'`,
			outcome.NotificationID, outcome.At, outcome.ErrorMessage)
	}
	if err != nil {
		return apperrors.NewInternalError("failed to complete notification", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get affected rows", err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = a.db.GetContext(ctx, &status, `SELECT status FROM notifications WHERE id = $1`, outcome.NotificationID)
	if err == sql.ErrNoRows {
		return apperrors.NewNotFoundError(fmt.Sprintf("notification with id %s not found", outcome.NotificationID))
	}
	if err != nil {
		return apperrors.NewInternalError("failed to read notification status", err)
	}
	return apperrors.NewConflictError(fmt.Sprintf("notification %s is %s, not processing", outcome.NotificationID, status))
}

// RenewClaim restamps the claim of a row that is still processing
func (a *NotificationAdapter) RenewClaim(ctx context.Context, id string, now time.Time) error {
	result, err := a.db.ExecContext(ctx, `
		UPDATE notifications
		SET claimed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'processing'`,
		id, now)
	if err != nil {
		return apperrors.NewInternalError("failed to renew notification claim", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get affected rows", err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = a.db.GetContext(ctx, &status, `SELECT status FROM notifications WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return apperrors.NewNotFoundError(fmt.Sprintf("notification with id %s not found", id))
	}
	if err != nil {
		return apperrors.NewInternalError("failed to read notification status", err)
	}
	return apperrors.NewConflictError(fmt.Sprintf("notification %s is %s, not processing", id, status))
}

// FailStaleClaims fails rows whose claim is older than cutoff
func (a *NotificationAdapter) FailStaleClaims(ctx context.Context, cutoff time.Time, message string) ([]*entities.Notification, error) {
	query := `
		UPDATE notifications
		SET status = 'failed', error_message = $2, updated_at = $3
		WHERE status = 'processing' AND claimed_at < $1
		RETURNING ` + notificationSelect

	var rows []notificationRow
	if err := a.db.SelectContext(ctx, &rows, query, cutoff, message, time.Now().UTC()); err != nil {
		return nil, apperrors.NewInternalError("failed to sweep stale notifications", err)
	}
	failed, err := toNotifications(rows)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to decode notifications", err)
	}
	return failed, nil
}

// GetByID retrieves a notification by ID
func (a *NotificationAdapter) GetByID(ctx context.Context, id string) (*entities.Notification, error) {
	var row notificationRow
	err := a.db.GetContext(ctx, &row, `SELECT `+notificationSelect+` FROM notifications WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("notification with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get notification", err)
	}
	n, err := row.toEntity()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to decode notification", err)
	}
	return n, nil
}

// ListByJourney retrieves a journey's notifications, oldest first
func (a *NotificationAdapter) ListByJourney(ctx context.Context, journeyID string) ([]*entities.Notification, error) {
	var rows []notificationRow
	err := a.db.SelectContext(ctx, &rows,
		`SELECT `+notificationSelect+` FROM notifications WHERE journey_id = $1 ORDER BY created_at ASC, id ASC`,
		journeyID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list notifications", err)
	}
	list, err := toNotifications(rows)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to decode notifications", err)
	}
	return list, nil
}
