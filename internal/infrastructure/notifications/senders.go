package notifications

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/zatekoja/patientjourney/internal/domain/providers"
	"github.com/zatekoja/patientjourney/pkg/config"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

// UnconfiguredSender fails every send. It stands in for a channel whose
// credentials are missing so the queue records a failure instead of panicking.
type UnconfiguredSender struct {
	Channel string
}

func (u UnconfiguredSender) err() error {
	return apperrors.NewTransportError(u.Channel+" service not configured", nil)
}

// SendEmail implements providers.EmailSender
func (u UnconfiguredSender) SendEmail(ctx context.Context, msg providers.EmailMessage) (*providers.SendResult, error) {
	return nil, u.err()
}

// SendWhatsApp implements providers.WhatsAppSender
func (u UnconfiguredSender) SendWhatsApp(ctx context.Context, msg providers.WhatsAppMessage) (*providers.SendResult, error) {
	return nil, u.err()
}

// BreakerSettings tunes the circuit breaker placed around a channel adapter
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings trips after five straight failures and probes after a minute
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: time.Minute}
}

func newBreaker(name string, s BreakerSettings, logger *zerolog.Logger) *gobreaker.CircuitBreaker {
	threshold := s.ConsecutiveFailures
	if threshold == 0 {
		threshold = DefaultBreakerSettings().ConsecutiveFailures
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Bad input is the caller's fault, not the provider's.
			return err == nil || apperrors.IsType(err, apperrors.ErrorTypeValidation)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("channel circuit breaker changed state")
			}
		},
	})
}

// breakerError turns gobreaker's sentinel errors into transport failures
func breakerError(channel string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewTransportError(channel+" circuit breaker open", err)
	}
	return err
}

// BreakerEmailSender guards an EmailSender with a circuit breaker
type BreakerEmailSender struct {
	next providers.EmailSender
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerEmailSender wraps next
func NewBreakerEmailSender(next providers.EmailSender, s BreakerSettings, logger *zerolog.Logger) *BreakerEmailSender {
	return &BreakerEmailSender{next: next, cb: newBreaker("email", s, logger)}
}

// SendEmail implements providers.EmailSender
func (b *BreakerEmailSender) SendEmail(ctx context.Context, msg providers.EmailMessage) (*providers.SendResult, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.SendEmail(ctx, msg)
	})
	if err != nil {
		return nil, breakerError("email", err)
	}
	return res.(*providers.SendResult), nil
}

// BreakerWhatsAppSender guards a WhatsAppSender with a circuit breaker
type BreakerWhatsAppSender struct {
	next providers.WhatsAppSender
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerWhatsAppSender wraps next
func NewBreakerWhatsAppSender(next providers.WhatsAppSender, s BreakerSettings, logger *zerolog.Logger) *BreakerWhatsAppSender {
	return &BreakerWhatsAppSender{next: next, cb: newBreaker("whatsapp", s, logger)}
}

// SendWhatsApp implements providers.WhatsAppSender
func (b *BreakerWhatsAppSender) SendWhatsApp(ctx context.Context, msg providers.WhatsAppMessage) (*providers.SendResult, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.SendWhatsApp(ctx, msg)
	})
	if err != nil {
		return nil, breakerError("whatsapp", err)
	}
	return res.(*providers.SendResult), nil
}

// NewEmailSender builds the email channel from configuration: Resend behind a
// breaker when an API key is set, otherwise an UnconfiguredSender.
func NewEmailSender(cfg config.EmailConfig, client *http.Client, logger *zerolog.Logger) providers.EmailSender {
	sender, err := NewResendSender(cfg, client)
	if err != nil {
		if logger != nil {
			logger.Warn().Msg("email channel not configured, email notifications will fail")
		}
		return UnconfiguredSender{Channel: "email"}
	}
	return NewBreakerEmailSender(sender, DefaultBreakerSettings(), logger)
}

// NewWhatsAppSender builds the WhatsApp channel from configuration
func NewWhatsAppSender(cfg config.WhatsAppConfig, client *http.Client, logger *zerolog.Logger) providers.WhatsAppSender {
	sender, err := NewWhatsAppCloudSender(cfg, client)
	if err != nil {
		if logger != nil {
			logger.Warn().Msg("whatsapp channel not configured, whatsapp notifications will fail")
		}
		return UnconfiguredSender{Channel: "whatsapp"}
	}
	return NewBreakerWhatsAppSender(sender, DefaultBreakerSettings(), logger)
}

var (
	_ providers.EmailSender    = UnconfiguredSender{}
	_ providers.WhatsAppSender = UnconfiguredSender{}
	_ providers.EmailSender    = (*ResendSender)(nil)
	_ providers.WhatsAppSender = (*WhatsAppCloudSender)(nil)
	_ providers.EmailSender    = (*BreakerEmailSender)(nil)
	_ providers.WhatsAppSender = (*BreakerWhatsAppSender)(nil)
)
