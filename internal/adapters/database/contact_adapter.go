package database

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

// ContactAdapter reads patient contact details through the journey's intake
type ContactAdapter struct {
	db *sqlx.DB
}

// NewContactAdapter creates a new contact adapter
func NewContactAdapter(db *sqlx.DB) repositories.ContactRepository {
	return &ContactAdapter{db: db}
}

// GetByJourneyIDs loads the contacts of several journeys with one query
func (a *ContactAdapter) GetByJourneyIDs(ctx context.Context, journeyIDs []string) (map[string]*entities.PatientContact, error) {
	contacts := make(map[string]*entities.PatientContact, len(journeyIDs))
	if len(journeyIDs) == 0 {
		return contacts, nil
	}

	query, args, err := sqlx.In(`
		SELECT j.id AS journey_id, i.id AS patient_intake_id, i.full_name, i.email, i.phone, i.preferred_language
		FROM patient_journeys j
		JOIN patient_intakes i ON i.id = j.patient_intake_id
		WHERE j.id IN (?)`, journeyIDs)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var rows []entities.PatientContact
	if err := a.db.SelectContext(ctx, &rows, a.db.Rebind(query), args...); err != nil {
		return nil, apperrors.NewInternalError("failed to load patient contacts", err)
	}
	for i := range rows {
		contacts[rows[i].JourneyID] = &rows[i]
	}
	return contacts, nil
}
