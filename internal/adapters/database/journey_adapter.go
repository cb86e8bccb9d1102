package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	"github.com/zatekoja/patientjourney/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

var journeyColumns = []interface{}{
	"id", "patient_intake_id", "current_state", "state_data", "state_history",
	"assigned_coordinator_id", "created_at", "updated_at",
}

// JourneyAdapter implements the JourneyRepository interface
type JourneyAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewJourneyAdapter creates a new journey adapter
func NewJourneyAdapter(client *postgres.Client) repositories.JourneyRepository {
	return &JourneyAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create stores a new journey with its JOURNEY_STARTED event
func (a *JourneyAdapter) Create(ctx context.Context, journey *entities.Journey, started *entities.JourneyEvent) error {
	stateData, err := encodeJSON(journey.StateData)
	if err != nil {
		return apperrors.NewInternalError("failed to encode state data", err)
	}
	history, err := encodeJSON(journey.StateHistory)
	if err != nil {
		return apperrors.NewInternalError("failed to encode state history", err)
	}

	record := goqu.Record{
		"id":                      journey.ID,
		"patient_intake_id":       journey.PatientIntakeID,
		"current_state":           string(journey.CurrentState),
		"state_data":              stateData,
		"state_history":           history,
		"assigned_coordinator_id": nullableString(journey.AssignedCoordinatorID),
		"created_at":              journey.CreatedAt,
		"updated_at":              journey.UpdatedAt,
	}

	query, args, err := a.db.Insert("patient_journeys").Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	return a.client.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return apperrors.NewConflictError(fmt.Sprintf("journey already exists for patient intake %s", journey.PatientIntakeID))
			}
			if isForeignKeyViolation(err) {
				return apperrors.NewNotFoundError(fmt.Sprintf("patient intake with id %s not found", journey.PatientIntakeID))
			}
			return apperrors.NewInternalError("failed to create journey", err)
		}
		return insertEvent(ctx, a.db, tx, started)
	})
}

// GetByID retrieves a journey by ID
func (a *JourneyAdapter) GetByID(ctx context.Context, id string) (*entities.Journey, error) {
	query, args, err := a.db.From("patient_journeys").
		Select(journeyColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	journey, err := scanJourney(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("journey with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get journey", err)
	}
	return journey, nil
}

// List retrieves journeys matching the filter, most recently updated first
func (a *JourneyAdapter) List(ctx context.Context, filter entities.JourneyFilter) ([]*entities.Journey, error) {
	ds := a.db.From("patient_journeys").Select(journeyColumns...)
	if filter.State != nil {
		ds = ds.Where(goqu.Ex{"current_state": string(*filter.State)})
	}
	if filter.CoordinatorID != nil {
		ds = ds.Where(goqu.Ex{"assigned_coordinator_id": *filter.CoordinatorID})
	}
	ds = ds.Order(goqu.I("updated_at").Desc(), goqu.I("id").Asc())
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list journeys", err)
	}
	defer rows.Close()

	journeys := []*entities.Journey{}
	for rows.Next() {
		journey, err := scanJourney(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan journey", err)
		}
		journeys = append(journeys, journey)
	}
	return journeys, rows.Err()
}

// ApplyTransition updates current_state only if it still equals params.FromState
// and inserts the transition event in the same transaction.
func (a *JourneyAdapter) ApplyTransition(ctx context.Context, params entities.TransitionParams) (*entities.Journey, error) {
	entry, err := encodeJSON([]entities.StateHistoryEntry{params.Entry})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode history entry", err)
	}

	query, args, err := a.db.Update("patient_journeys").
		Set(goqu.Record{
			"current_state": string(params.ToState),
			"state_history": goqu.L("state_history || ?::jsonb", entry),
			"updated_at":    params.UpdatedAt,
		}).
		Where(goqu.Ex{
			"id":            params.JourneyID,
			"current_state": string(params.FromState),
		}).
		Returning(journeyColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build update query", err)
	}

	var updated *entities.Journey
	err = a.client.WithTx(ctx, func(tx *sql.Tx) error {
		journey, err := scanJourney(tx.QueryRowContext(ctx, query, args...))
		if err == sql.ErrNoRows {
			return a.transitionMiss(ctx, tx, params)
		}
		if err != nil {
			return apperrors.NewInternalError("failed to apply transition", err)
		}
		if err := insertEvent(ctx, a.db, tx, params.Event); err != nil {
			return err
		}
		updated = journey
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// transitionMiss distinguishes a missing journey from a lost compare-and-set
func (a *JourneyAdapter) transitionMiss(ctx context.Context, tx *sql.Tx, params entities.TransitionParams) error {
	query, args, err := a.db.From("patient_journeys").
		Select("current_state").
		Where(goqu.Ex{"id": params.JourneyID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build query", err)
	}

	var current string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&current)
	if err == sql.ErrNoRows {
		return apperrors.NewNotFoundError(fmt.Sprintf("journey with id %s not found", params.JourneyID))
	}
	if err != nil {
		return apperrors.NewInternalError("failed to read journey state", err)
	}
	return apperrors.NewConflictError(fmt.Sprintf("journey %s is in %s, not %s", params.JourneyID, current, params.FromState))
}

// AssignCoordinator sets the coordinator and appends the event atomically
func (a *JourneyAdapter) AssignCoordinator(ctx context.Context, journeyID, coordinatorID string, event *entities.JourneyEvent) (*entities.Journey, error) {
	query, args, err := a.db.Update("patient_journeys").
		Set(goqu.Record{
			"assigned_coordinator_id": coordinatorID,
			"updated_at":              event.CreatedAt,
		}).
		Where(goqu.Ex{"id": journeyID}).
		Returning(journeyColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build update query", err)
	}

	var updated *entities.Journey
	err = a.client.WithTx(ctx, func(tx *sql.Tx) error {
		journey, err := scanJourney(tx.QueryRowContext(ctx, query, args...))
		if err == sql.ErrNoRows {
			return apperrors.NewNotFoundError(fmt.Sprintf("journey with id %s not found", journeyID))
		}
		if err != nil {
			return apperrors.NewInternalError("failed to assign coordinator", err)
		}
		if err := insertEvent(ctx, a.db, tx, event); err != nil {
			return err
		}
		updated = journey
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanJourney(row rowScanner) (*entities.Journey, error) {
	journey := &entities.Journey{}
	var stateData, history []byte
	var coordinatorID sql.NullString

	err := row.Scan(
		&journey.ID,
		&journey.PatientIntakeID,
		&journey.CurrentState,
		&stateData,
		&history,
		&coordinatorID,
		&journey.CreatedAt,
		&journey.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if coordinatorID.Valid {
		journey.AssignedCoordinatorID = &coordinatorID.String
	}
	journey.StateData = map[string]interface{}{}
	if len(stateData) > 0 {
		if err := json.Unmarshal(stateData, &journey.StateData); err != nil {
			return nil, fmt.Errorf("decode state_data: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &journey.StateHistory); err != nil {
			return nil, fmt.Errorf("decode state_history: %w", err)
		}
	}
	return journey, nil
}
