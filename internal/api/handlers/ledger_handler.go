package handlers

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zatekoja/patientjourney/internal/application/services"
	"github.com/zatekoja/patientjourney/internal/domain/entities"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

// LedgerHandler handles quote, booking and checkout requests
type LedgerHandler struct {
	ledger *services.LedgerService
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledger *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// CreateQuote handles POST /api/quotes
func (h *LedgerHandler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req services.CreateQuoteRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	quote, err := h.ledger.CreateQuote(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, quote)
}

// ListQuotes handles GET /api/quotes?journeyId=
func (h *LedgerHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.ledger.ListQuotes(r.Context(), r.URL.Query().Get("journeyId"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"quotes": quotes,
		"count":  len(quotes),
	})
}

// GetQuote handles GET /api/quotes/{id}
func (h *LedgerHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.ledger.GetQuote(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

type updateQuoteRequest struct {
	HospitalID        *string                        `json:"hospitalId,omitempty"`
	TreatmentID       *string                        `json:"treatmentId,omitempty"`
	TreatmentCost     *decimal.Decimal               `json:"treatmentCost,omitempty"`
	AccommodationCost *decimal.Decimal               `json:"accommodationCost,omitempty"`
	TransportCost     *decimal.Decimal               `json:"transportCost,omitempty"`
	MiscCost          *decimal.Decimal               `json:"miscCost,omitempty"`
	Currency          *string                        `json:"currency,omitempty"`
	PaymentSchedule   *[]entities.PaymentInstallment `json:"paymentSchedule,omitempty"`
	ValidUntil        *time.Time                     `json:"validUntil,omitempty"`
	Notes             *string                        `json:"notes,omitempty"`
	Actor             entities.Actor                 `json:"actor"`
}

func (req updateQuoteRequest) patch() entities.QuotePatch {
	return entities.QuotePatch{
		HospitalID:        req.HospitalID,
		TreatmentID:       req.TreatmentID,
		TreatmentCost:     req.TreatmentCost,
		AccommodationCost: req.AccommodationCost,
		TransportCost:     req.TransportCost,
		MiscCost:          req.MiscCost,
		Currency:          req.Currency,
		PaymentSchedule:   req.PaymentSchedule,
		ValidUntil:        req.ValidUntil,
		Notes:             req.Notes,
	}
}

// UpdateQuote handles PATCH /api/quotes/{id}
func (h *LedgerHandler) UpdateQuote(w http.ResponseWriter, r *http.Request) {
	var req updateQuoteRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	quote, err := h.ledger.UpdateQuote(r.Context(), r.PathValue("id"), req.patch(), req.Actor)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

type quoteActionRequest struct {
	Reason string         `json:"reason,omitempty"`
	Actor  entities.Actor `json:"actor"`
}

// SendQuote handles POST /api/quotes/{id}/send
func (h *LedgerHandler) SendQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteActionRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	quote, err := h.ledger.SendQuote(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

// AcceptQuote handles POST /api/quotes/{id}/accept and answers with the new booking
func (h *LedgerHandler) AcceptQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteActionRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	quote, booking, err := h.ledger.AcceptQuote(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"quote":   quote,
		"booking": booking,
	})
}

// RejectQuote handles POST /api/quotes/{id}/reject
func (h *LedgerHandler) RejectQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteActionRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	quote, err := h.ledger.RejectQuote(r.Context(), r.PathValue("id"), req.Reason, req.Actor)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

// GetBooking handles GET /api/bookings/{id}
func (h *LedgerHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.ledger.GetBooking(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, booking)
}

// ListBookings handles GET /api/bookings?journeyId=
func (h *LedgerHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.ledger.ListBookings(r.Context(), r.URL.Query().Get("journeyId"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

type checkoutRequest struct {
	BookingID   string               `json:"bookingId"`
	PaymentType entities.PaymentType `json:"paymentType,omitempty"`
}

// CreateCheckout handles POST /api/payments/checkout. The answer carries what a
// payment provider needs to open a checkout session, metadata included.
func (h *LedgerHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if req.BookingID == "" {
		respondWithError(w, http.StatusBadRequest, apperrors.ErrorTypeValidation, "bookingId is required")
		return
	}

	intent, err := h.ledger.CreateCheckout(r.Context(), req.BookingID, req.PaymentType)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, intent)
}
