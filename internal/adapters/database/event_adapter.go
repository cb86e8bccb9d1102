package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/lib/pq"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	"github.com/zatekoja/patientjourney/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var eventColumns = []interface{}{
	"id", "sequence", "journey_id", "event_type", "from_state", "to_state",
	"actor_type", "actor_id", "event_data", "created_at",
}

// queryRower is satisfied by *sql.DB and *sql.Tx
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// EventAdapter implements the EventRepository interface
type EventAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewEventAdapter creates a new event adapter
func NewEventAdapter(client *postgres.Client) repositories.EventRepository {
	return &EventAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Append inserts a single event
func (a *EventAdapter) Append(ctx context.Context, event *entities.JourneyEvent) error {
	return insertEvent(ctx, a.db, a.client.DB(), event)
}

// ListByJourney returns a journey's events ordered by created_at, then sequence
func (a *EventAdapter) ListByJourney(ctx context.Context, journeyID string) ([]*entities.JourneyEvent, error) {
	query, args, err := a.db.From("journey_events").
		Select(eventColumns...).
		Where(goqu.Ex{"journey_id": journeyID}).
		Order(goqu.I("created_at").Asc(), goqu.I("sequence").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list journey events", err)
	}
	defer rows.Close()

	var events []*entities.JourneyEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate journey events", err)
	}
	return events, nil
}

// insertEvent writes event through q and stores the assigned sequence on it
func insertEvent(ctx context.Context, db *goqu.Database, q queryRower, event *entities.JourneyEvent) error {
	if event == nil {
		return nil
	}
	payload, err := event.MarshalPayload()
	if err != nil {
		return apperrors.NewInternalError("failed to encode event payload", err)
	}

	record := goqu.Record{
		"id":         event.ID,
		"journey_id": event.JourneyID,
		"event_type": string(event.EventType),
		"from_state": nullableState(event.FromState),
		"to_state":   nullableState(event.ToState),
		"actor_type": string(event.ActorType),
		"actor_id":   nullableString(event.ActorID),
		"event_data": string(payload),
		"created_at": event.CreatedAt,
	}

	query, args, err := db.Insert("journey_events").Rows(record).Returning("sequence").ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if err := q.QueryRowContext(ctx, query, args...).Scan(&event.Sequence); err != nil {
		return apperrors.NewInternalError("failed to append journey event", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*entities.JourneyEvent, error) {
	event := &entities.JourneyEvent{}
	var fromState, toState, actorID sql.NullString
	var payload []byte

	err := row.Scan(
		&event.ID,
		&event.Sequence,
		&event.JourneyID,
		&event.EventType,
		&fromState,
		&toState,
		&event.ActorType,
		&actorID,
		&payload,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to scan journey event", err)
	}

	if fromState.Valid {
		s := entities.JourneyState(fromState.String)
		event.FromState = &s
	}
	if toState.Valid {
		s := entities.JourneyState(toState.String)
		event.ToState = &s
	}
	if actorID.Valid {
		event.ActorID = &actorID.String
	}

	event.Payload, err = entities.DecodeEventPayload(event.EventType, payload)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to decode event payload", err)
	}
	return event, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableState(s *entities.JourneyState) interface{} {
	if s == nil {
		return nil
	}
	return string(*s)
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
