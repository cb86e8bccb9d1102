package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	"github.com/zatekoja/patientjourney/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

var quoteColumns = []interface{}{
	"id", "journey_id", "hospital_id", "treatment_id", "status",
	"treatment_cost", "accommodation_cost", "transport_cost", "misc_cost", "total_amount",
	"currency", "payment_schedule", "valid_until", "notes", "version",
	"sent_at", "accepted_at", "rejected_at", "created_at", "updated_at",
}

// QuoteAdapter implements the QuoteRepository interface
type QuoteAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewQuoteAdapter creates a new quote adapter
func NewQuoteAdapter(client *postgres.Client) repositories.QuoteRepository {
	return &QuoteAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

func quoteRecord(q *entities.Quote) (goqu.Record, error) {
	schedule, err := encodeJSON(q.PaymentSchedule)
	if err != nil {
		return nil, err
	}
	return goqu.Record{
		"hospital_id":        q.HospitalID,
		"treatment_id":       q.TreatmentID,
		"status":             string(q.Status),
		"treatment_cost":     q.TreatmentCost.String(),
		"accommodation_cost": q.AccommodationCost.String(),
		"transport_cost":     q.TransportCost.String(),
		"misc_cost":          q.MiscCost.String(),
		"total_amount":       q.TotalAmount.String(),
		"currency":           q.Currency,
		"payment_schedule":   schedule,
		"valid_until":        q.ValidUntil,
		"notes":              q.Notes,
		"version":            q.Version,
		"sent_at":            q.SentAt,
		"accepted_at":        q.AcceptedAt,
		"rejected_at":        q.RejectedAt,
		"updated_at":         q.UpdatedAt,
	}, nil
}

// Create stores a new quote and its QUOTE_CREATED event
func (a *QuoteAdapter) Create(ctx context.Context, quote *entities.Quote, event *entities.JourneyEvent) error {
	record, err := quoteRecord(quote)
	if err != nil {
		return apperrors.NewInternalError("failed to encode quote", err)
	}
	record["id"] = quote.ID
	record["journey_id"] = quote.JourneyID
	record["created_at"] = quote.CreatedAt

	query, args, err := a.db.Insert("quotes").Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	return a.client.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return apperrors.NewInternalError("failed to create quote", err)
		}
		return insertEvent(ctx, a.db, tx, event)
	})
}

// GetByID retrieves a quote by ID
func (a *QuoteAdapter) GetByID(ctx context.Context, id string) (*entities.Quote, error) {
	query, args, err := a.db.From("quotes").
		Select(quoteColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	quote, err := scanQuote(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("quote with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get quote", err)
	}
	return quote, nil
}

// ListByJourney retrieves a journey's quotes, newest first
func (a *QuoteAdapter) ListByJourney(ctx context.Context, journeyID string) ([]*entities.Quote, error) {
	query, args, err := a.db.From("quotes").
		Select(quoteColumns...).
		Where(goqu.Ex{"journey_id": journeyID}).
		Order(goqu.I("created_at").Desc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list quotes", err)
	}
	defer rows.Close()

	quotes := []*entities.Quote{}
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan quote", err)
		}
		quotes = append(quotes, quote)
	}
	return quotes, rows.Err()
}

// Update persists quote if its stored status and version still equal expected
func (a *QuoteAdapter) Update(ctx context.Context, quote *entities.Quote, expected entities.QuoteRevision, event *entities.JourneyEvent) error {
	return a.client.WithTx(ctx, func(tx *sql.Tx) error {
		if err := a.updateIfRevision(ctx, tx, quote, expected); err != nil {
			return err
		}
		return insertEvent(ctx, a.db, tx, event)
	})
}

// Accept marks the quote ACCEPTED, creates the booking and appends the event atomically
func (a *QuoteAdapter) Accept(ctx context.Context, quote *entities.Quote, expected entities.QuoteRevision, booking *entities.Booking, event *entities.JourneyEvent) error {
	schedule, err := encodeJSON(booking.PaymentSchedule)
	if err != nil {
		return apperrors.NewInternalError("failed to encode payment schedule", err)
	}

	bookingQuery, bookingArgs, err := a.db.Insert("bookings").Rows(goqu.Record{
		"id":               booking.ID,
		"journey_id":       booking.JourneyID,
		"quote_id":         booking.QuoteID,
		"status":           string(booking.Status),
		"total_amount":     booking.TotalAmount.String(),
		"amount_paid":      booking.AmountPaid.String(),
		"currency":         booking.Currency,
		"payment_schedule": schedule,
		"created_at":       booking.CreatedAt,
		"updated_at":       booking.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	return a.client.WithTx(ctx, func(tx *sql.Tx) error {
		if err := a.updateIfRevision(ctx, tx, quote, expected); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, bookingQuery, bookingArgs...); err != nil {
			if isUniqueViolation(err) {
				return apperrors.NewConflictError(fmt.Sprintf("quote %s already has a booking", quote.ID))
			}
			return apperrors.NewInternalError("failed to create booking", err)
		}
		return insertEvent(ctx, a.db, tx, event)
	})
}

func (a *QuoteAdapter) updateIfRevision(ctx context.Context, tx *sql.Tx, quote *entities.Quote, expected entities.QuoteRevision) error {
	record, err := quoteRecord(quote)
	if err != nil {
		return apperrors.NewInternalError("failed to encode quote", err)
	}

	query, args, err := a.db.Update("quotes").
		Set(record).
		Where(goqu.Ex{"id": quote.ID, "status": string(expected.Status), "version": expected.Version}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update quote", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get affected rows", err)
	}
	if affected > 0 {
		return nil
	}

	statusQuery, statusArgs, err := a.db.From("quotes").Select("status", "version").Where(goqu.Ex{"id": quote.ID}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build query", err)
	}
	var current string
	var version int
	err = tx.QueryRowContext(ctx, statusQuery, statusArgs...).Scan(&current, &version)
	if err == sql.ErrNoRows {
		return apperrors.NewNotFoundError(fmt.Sprintf("quote with id %s not found", quote.ID))
	}
	if err != nil {
		return apperrors.NewInternalError("failed to read quote status", err)
	}
	return apperrors.NewConflictError(fmt.Sprintf("quote %s is %s version %d, expected %s version %d",
		quote.ID, current, version, expected.Status, expected.Version))
}

func scanQuote(row rowScanner) (*entities.Quote, error) {
	q := &entities.Quote{}
	var treatmentID, notes sql.NullString
	var schedule []byte
	var sentAt, acceptedAt, rejectedAt sql.NullTime

	err := row.Scan(
		&q.ID,
		&q.JourneyID,
		&q.HospitalID,
		&treatmentID,
		&q.Status,
		&q.TreatmentCost,
		&q.AccommodationCost,
		&q.TransportCost,
		&q.MiscCost,
		&q.TotalAmount,
		&q.Currency,
		&schedule,
		&q.ValidUntil,
		&notes,
		&q.Version,
		&sentAt,
		&acceptedAt,
		&rejectedAt,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	q.TreatmentID = treatmentID.String
	q.Notes = notes.String
	q.SentAt = nullTimePtr(sentAt)
	q.AcceptedAt = nullTimePtr(acceptedAt)
	q.RejectedAt = nullTimePtr(rejectedAt)
	q.PaymentSchedule = []entities.PaymentInstallment{}
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &q.PaymentSchedule); err != nil {
			return nil, fmt.Errorf("decode payment_schedule: %w", err)
		}
	}
	return q, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
