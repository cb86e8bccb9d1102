package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zatekoja/patientjourney/internal/application/services"
	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
	"github.com/zatekoja/patientjourney/pkg/config"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

// PaymentSignatureHeader carries the provider's webhook signature
const PaymentSignatureHeader = "Stripe-Signature"

// Handled provider event types
const (
	paymentEventCheckoutCompleted = "checkout.session.completed"
	paymentEventCheckoutExpired   = "checkout.session.expired"
	paymentEventIntentFailed      = "payment_intent.payment_failed"
)

var (
	errMissingSignature = errors.New("missing signature header")
	errBadSignature     = errors.New("no matching signature")
	errStaleSignature   = errors.New("timestamp outside tolerance")
)

// PaymentWebhookHandler receives signed payment provider events
type PaymentWebhookHandler struct {
	ledger    *services.LedgerService
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewPaymentWebhookHandler creates a new payment webhook handler
func NewPaymentWebhookHandler(ledger *services.LedgerService, cfg config.PaymentsConfig) *PaymentWebhookHandler {
	tolerance := cfg.SignatureTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &PaymentWebhookHandler{
		ledger:    ledger,
		secret:    cfg.WebhookSecret,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// paymentWebhookEvent is the provider's event envelope
type paymentWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object paymentObject `json:"object"`
	} `json:"data"`
}

// paymentObject covers the fields read from checkout sessions and payment intents
type paymentObject struct {
	ID               string            `json:"id"`
	Metadata         map[string]string `json:"metadata"`
	PaymentIntent    string            `json:"payment_intent"`
	Currency         string            `json:"currency"`
	AmountTotal      int64             `json:"amount_total"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// HandleWebhook handles POST /webhooks/payments. Only signature problems are
// answered with an error; anything after verification is acknowledged so the
// provider stops redelivering.
func (h *PaymentWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx)

	if h.secret == "" {
		respondWithError(w, http.StatusServiceUnavailable, apperrors.ErrorTypeInternal, "payment webhooks not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, apperrors.ErrorTypeValidation, "failed to read body")
		return
	}

	if err := VerifyPaymentSignature(body, r.Header.Get(PaymentSignatureHeader), h.secret, h.tolerance, h.now()); err != nil {
		logger.Warn().Err(err).Msg("Payment webhook signature verification failed")
		respondWithError(w, http.StatusBadRequest, apperrors.ErrorTypeValidation, "invalid signature")
		return
	}

	var event paymentWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		respondWithError(w, http.StatusBadRequest, apperrors.ErrorTypeValidation, "invalid JSON")
		return
	}

	verified, ok := h.toVerifiedEvent(event)
	if !ok {
		logger.Debug().Str("event_type", event.Type).Str("event_id", event.ID).Msg("Ignoring payment event type")
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"received": true, "ignored": true})
		return
	}

	if verified.BookingID == "" {
		logger.Error().Str("event_type", event.Type).Str("event_id", event.ID).Msg("Payment event has no booking_id in metadata")
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"received": true})
		return
	}

	if _, err := h.ledger.ApplyPaymentEvent(ctx, verified); err != nil {
		logger.Error().Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Str("booking_id", verified.BookingID).
			Msg("Failed to apply payment event")
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"received": true})
}

// toVerifiedEvent maps a handled provider event onto the ledger's event
func (h *PaymentWebhookHandler) toVerifiedEvent(event paymentWebhookEvent) (entities.VerifiedPaymentEvent, bool) {
	obj := event.Data.Object
	occurred := h.now().UTC()
	if event.Created > 0 {
		occurred = time.Unix(event.Created, 0).UTC()
	}

	verified := entities.VerifiedPaymentEvent{
		ProviderEventID: event.ID,
		BookingID:       obj.Metadata["booking_id"],
		JourneyID:       obj.Metadata["journey_id"],
		PaymentType:     entities.PaymentType(obj.Metadata["payment_type"]),
		Currency:        strings.ToUpper(obj.Currency),
		OccurredAt:      occurred,
	}

	switch event.Type {
	case paymentEventCheckoutCompleted:
		verified.Kind = entities.PaymentEventCompleted
		verified.PaymentReference = obj.PaymentIntent
		if verified.PaymentReference == "" {
			verified.PaymentReference = obj.ID
		}
		verified.Amount = paymentAmount(obj)
	case paymentEventCheckoutExpired:
		verified.Kind = entities.PaymentEventExpired
		verified.PaymentReference = obj.ID
	case paymentEventIntentFailed:
		verified.Kind = entities.PaymentEventFailed
		verified.PaymentReference = obj.ID
		if obj.LastPaymentError != nil {
			verified.ErrorMessage = obj.LastPaymentError.Message
		}
	default:
		return entities.VerifiedPaymentEvent{}, false
	}
	return verified, true
}

// paymentAmount prefers the amount recorded at checkout and falls back to the
// session total, which the provider reports in minor units.
func paymentAmount(obj paymentObject) decimal.Decimal {
	if raw := obj.Metadata["payment_amount"]; raw != "" {
		if amount, err := decimal.NewFromString(raw); err == nil {
			return amount
		}
	}
	return decimal.New(obj.AmountTotal, -2)
}

// VerifyPaymentSignature checks a "t=<unix>,v1=<hex>" header against
// HMAC-SHA256(secret, "<t>.<body>") and rejects timestamps further than
// tolerance from now.
func VerifyPaymentSignature(body []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return errMissingSignature
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("malformed signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed signature timestamp: %w", err)
	}
	if age := now.Sub(time.Unix(ts, 0)); age > tolerance || age < -tolerance {
		return errStaleSignature
	}

	expected := computePaymentSignature(secret, timestamp, body)
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return errBadSignature
}

// SignPaymentPayload builds the signature header a provider would send for body at ts
func SignPaymentPayload(body []byte, secret string, ts time.Time) string {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(computePaymentSignature(secret, timestamp, body))
}

func computePaymentSignature(secret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
