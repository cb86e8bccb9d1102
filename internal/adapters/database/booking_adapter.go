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

var bookingColumns = []interface{}{
	"id", "journey_id", "quote_id", "status", "total_amount", "amount_paid",
	"currency", "payment_schedule", "payment_reference", "last_payment_error",
	"created_at", "updated_at",
}

// BookingAdapter implements the BookingRepository interface
type BookingAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewBookingAdapter creates a new booking adapter
func NewBookingAdapter(client *postgres.Client) repositories.BookingRepository {
	return &BookingAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// GetByID retrieves a booking by ID
func (a *BookingAdapter) GetByID(ctx context.Context, id string) (*entities.Booking, error) {
	query, args, err := a.db.From("bookings").
		Select(bookingColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	booking, err := scanBooking(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("booking with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get booking", err)
	}
	return booking, nil
}

// ListByJourney retrieves a journey's bookings, newest first
func (a *BookingAdapter) ListByJourney(ctx context.Context, journeyID string) ([]*entities.Booking, error) {
	query, args, err := a.db.From("bookings").
		Select(bookingColumns...).
		Where(goqu.Ex{"journey_id": journeyID}).
		Order(goqu.I("created_at").Desc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list bookings", err)
	}
	defer rows.Close()

	bookings := []*entities.Booking{}
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan booking", err)
		}
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}

// ApplyPayment records the receipt, updates the booking and appends the
// events in one transaction. A receipt that already exists aborts the
// whole write with a DuplicateEvent error; a booking whose status or
// amount paid moved since app.Expected aborts it with a Conflict.
func (a *BookingAdapter) ApplyPayment(ctx context.Context, app entities.PaymentApplication) error {
	receiptQuery, receiptArgs, err := a.db.Insert("payment_receipts").
		Rows(goqu.Record{
			"dedupe_key":        app.DedupeKey,
			"provider_event_id": app.ProviderEventID,
			"booking_id":        app.Booking.ID,
		}).
		OnConflict(goqu.DoNothing()).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	var updateQuery string
	var updateArgs []interface{}
	if app.UpdateBooking {
		b := app.Booking
		updateQuery, updateArgs, err = a.db.Update("bookings").
			Set(goqu.Record{
				"status":             string(b.Status),
				"amount_paid":        b.AmountPaid.String(),
				"payment_reference":  nullableString(b.PaymentReference),
				"last_payment_error": nullableString(b.LastPaymentError),
				"updated_at":         b.UpdatedAt,
			}).
			Where(goqu.Ex{
				"id":          b.ID,
				"status":      string(app.Expected.Status),
				"amount_paid": app.Expected.AmountPaid.String(),
			}).
			ToSQL()
		if err != nil {
			return apperrors.NewInternalError("failed to build update query", err)
		}
	}

	return a.client.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, receiptQuery, receiptArgs...)
		if err != nil {
			return apperrors.NewInternalError("failed to record payment receipt", err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return apperrors.NewInternalError("failed to get affected rows", err)
		}
		if inserted == 0 {
			return apperrors.NewDuplicateEventError(fmt.Sprintf("payment %s already applied", app.DedupeKey))
		}

		if updateQuery != "" {
			result, err := tx.ExecContext(ctx, updateQuery, updateArgs...)
			if err != nil {
				return apperrors.NewInternalError("failed to update booking", err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return apperrors.NewInternalError("failed to get affected rows", err)
			}
			if affected == 0 {
				return a.staleBooking(ctx, tx, app.Booking.ID)
			}
		}

		for _, event := range app.Events {
			if err := insertEvent(ctx, a.db, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

// staleBooking explains a booking update that matched no row
func (a *BookingAdapter) staleBooking(ctx context.Context, tx *sql.Tx, id string) error {
	query, args, err := a.db.From("bookings").Select("status").Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build query", err)
	}
	var current string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&current)
	if err == sql.ErrNoRows {
		return apperrors.NewNotFoundError(fmt.Sprintf("booking with id %s not found", id))
	}
	if err != nil {
		return apperrors.NewInternalError("failed to read booking status", err)
	}
	return apperrors.NewConflictError(fmt.Sprintf("booking %s changed since it was read", id))
}

func scanBooking(row rowScanner) (*entities.Booking, error) {
	b := &entities.Booking{}
	var schedule []byte
	var reference, lastError sql.NullString

	err := row.Scan(
		&b.ID,
		&b.JourneyID,
		&b.QuoteID,
		&b.Status,
		&b.TotalAmount,
		&b.AmountPaid,
		&b.Currency,
		&schedule,
		&reference,
		&lastError,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reference.Valid {
		b.PaymentReference = &reference.String
	}
	if lastError.Valid {
		b.LastPaymentError = &lastError.String
	}
	b.PaymentSchedule = []entities.PaymentInstallment{}
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &b.PaymentSchedule); err != nil {
			return nil, fmt.Errorf("decode payment_schedule: %w", err)
		}
	}
	return b, nil
}
