package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/patientjourney/internal/application/loaders"
	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/providers"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

const (
	DefaultDrainBatchSize = 50
	DefaultSendTimeout    = 10 * time.Second
	DefaultClaimTTL       = 15 * time.Minute
)

// QueueOptions tunes the notification queue
type QueueOptions struct {
	BatchSize   int
	SendTimeout time.Duration
	ClaimTTL    time.Duration
	PortalURL   string
}

// DrainResult summarizes one drain. Skipped rows lost their claim to a
// sweep before they were sent and were left as the sweep recorded them.
type DrainResult struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// NotificationQueue delivers queued notifications through the channel adapters
type NotificationQueue struct {
	notifications repositories.NotificationRepository
	contacts      repositories.ContactRepository
	recorder      EventRecorder
	renderer      providers.MessageRenderer
	email         providers.EmailSender
	whatsapp      providers.WhatsAppSender
	opts          QueueOptions
	metrics       *observability.Metrics
	now           func() time.Time
}

// NewNotificationQueue creates a new notification queue
func NewNotificationQueue(
	notifications repositories.NotificationRepository,
	contacts repositories.ContactRepository,
	recorder EventRecorder,
	renderer providers.MessageRenderer,
	email providers.EmailSender,
	whatsapp providers.WhatsAppSender,
	opts QueueOptions,
	metrics *observability.Metrics,
) *NotificationQueue {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultDrainBatchSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = DefaultClaimTTL
	}
	return &NotificationQueue{
		notifications: notifications,
		contacts:      contacts,
		recorder:      recorder,
		renderer:      renderer,
		email:         email,
		whatsapp:      whatsapp,
		opts:          opts,
		metrics:       metrics,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Drain claims up to batchSize pending notifications and delivers them one by
// one, highest priority first and oldest first within a priority. Every
// claimed row ends sent or failed; nothing is retried automatically.
func (q *NotificationQueue) Drain(ctx context.Context, batchSize int) (*DrainResult, error) {
	ctx, span := observability.StartSpan(ctx, "NotificationQueue.Drain")
	defer span.End()
	started := time.Now()

	if batchSize <= 0 {
		batchSize = q.opts.BatchSize
	}
	if limit := q.maxBatch(); batchSize > limit {
		batchSize = limit
	}

	claimed, err := q.notifications.ClaimPending(ctx, batchSize, q.now())
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("claim pending notifications: %w", err)
	}
	result := &DrainResult{Claimed: len(claimed)}
	if len(claimed) == 0 {
		return result, nil
	}

	// Queue every lookup before resolving any so the loader sees one batch.
	contactLoader := loaders.NewLoaders(q.contacts).ContactLoader
	contacts := make([]func() (*entities.PatientContact, error), len(claimed))
	for i, n := range claimed {
		contacts[i] = contactLoader.Load(ctx, n.JourneyID)
	}

	logger := observability.LoggerFromContext(ctx)
	for i, n := range claimed {
		if err := q.notifications.RenewClaim(ctx, n.ID, q.now()); err != nil {
			result.Skipped++
			logger.Warn().Err(err).
				Str("notification_id", n.ID).
				Msg("Notification claim lost before send, skipping")
			continue
		}
		outcome := q.deliver(ctx, n, contacts[i])

		if err := q.notifications.Complete(ctx, outcome); err != nil {
			logger.Error().Err(err).
				Str("notification_id", n.ID).
				Msg("Failed to record notification outcome")
			continue
		}

		if outcome.Sent {
			result.Sent++
		} else {
			result.Failed++
			logger.Warn().
				Str("notification_id", n.ID).
				Str("journey_id", n.JourneyID).
				Str("template", n.TemplateName).
				Str("channel", string(n.Channel)).
				Str("error", outcome.ErrorMessage).
				Msg("Notification delivery failed")
		}
		q.audit(ctx, n, outcome)
	}

	observability.RecordDrain(ctx, q.metrics, len(claimed), time.Since(started))
	logger.Info().
		Int("claimed", result.Claimed).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("Notification queue drained")
	return result, nil
}

// maxBatch is the largest batch whose sends all finish inside the claim TTL
func (q *NotificationQueue) maxBatch() int {
	limit := int(q.opts.ClaimTTL/q.opts.SendTimeout) - 1
	if limit < 1 {
		return 1
	}
	return limit
}

func (q *NotificationQueue) deliver(ctx context.Context, n *entities.Notification, loadContact func() (*entities.PatientContact, error)) entities.DeliveryOutcome {
	fail := func(format string, args ...interface{}) entities.DeliveryOutcome {
		return entities.DeliveryOutcome{
			NotificationID: n.ID,
			ErrorMessage:   fmt.Sprintf(format, args...),
			At:             q.now(),
		}
	}

	contact, err := loadContact()
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return fail("no patient contact found for journey %s", n.JourneyID)
		}
		return fail("patient contact lookup failed: %v", err)
	}

	address := contact.AddressFor(n.Channel)
	if address == "" {
		switch n.Channel {
		case entities.ChannelWhatsApp:
			return fail("patient has no phone number for whatsapp delivery")
		case entities.ChannelEmail:
			return fail("patient has no email address for email delivery")
		default:
			return fail("unsupported notification channel %q", n.Channel)
		}
	}

	data := providers.MessageData{
		PatientName: contact.FullName,
		Language:    contact.Language(),
		PortalURL:   q.opts.PortalURL,
		JourneyID:   n.JourneyID,
		Fields:      n.Data,
	}

	var send func(context.Context) (*providers.SendResult, error)
	switch n.Channel {
	case entities.ChannelEmail:
		content, err := q.renderer.RenderEmail(n.TemplateName, data)
		if err != nil {
			return fail("render email template %q: %v", n.TemplateName, err)
		}
		msg := providers.EmailMessage{To: address, Subject: content.Subject, HTML: content.HTML, Text: content.Text}
		send = func(ctx context.Context) (*providers.SendResult, error) { return q.email.SendEmail(ctx, msg) }
	case entities.ChannelWhatsApp:
		content, err := q.renderer.RenderWhatsApp(n.TemplateName, data)
		if err != nil {
			return fail("render whatsapp template %q: %v", n.TemplateName, err)
		}
		msg := providers.WhatsAppMessage{
			To:           address,
			TemplateName: content.TemplateName,
			Language:     data.Language,
			Parameters:   content.Parameters,
		}
		send = func(ctx context.Context) (*providers.SendResult, error) { return q.whatsapp.SendWhatsApp(ctx, msg) }
	default:
		return fail("unsupported notification channel %q", n.Channel)
	}

	res, err := sendWithTimeout(ctx, q.opts.SendTimeout, send)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fail("%s send timed out after %s", n.Channel, q.opts.SendTimeout)
		}
		return fail("%s send failed: %v", n.Channel, err)
	}

	outcome := entities.DeliveryOutcome{NotificationID: n.ID, Sent: true, At: q.now()}
	if res != nil {
		outcome.ExternalID = res.MessageID
	}
	return outcome
}

// sendWithTimeout bounds send even when the adapter ignores its context
func sendWithTimeout(ctx context.Context, timeout time.Duration, send func(context.Context) (*providers.SendResult, error)) (*providers.SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		res *providers.SendResult
		err error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := send(ctx)
		done <- reply{res, err}
	}()

	select {
	case r := <-done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// audit appends the NOTIFICATION_SENT or NOTIFICATION_FAILED event for outcome
func (q *NotificationQueue) audit(ctx context.Context, n *entities.Notification, outcome entities.DeliveryOutcome) {
	observability.RecordNotification(ctx, q.metrics, string(n.Channel), n.TemplateName, outcome.Sent)

	var payload entities.EventPayload
	if outcome.Sent {
		payload = &entities.NotificationSentPayload{
			NotificationID: n.ID,
			TemplateName:   n.TemplateName,
			Channel:        n.Channel,
			ExternalID:     outcome.ExternalID,
		}
	} else {
		payload = &entities.NotificationFailedPayload{
			NotificationID: n.ID,
			TemplateName:   n.TemplateName,
			Channel:        n.Channel,
			Error:          outcome.ErrorMessage,
		}
	}

	event, err := entities.NewJourneyEvent(n.JourneyID, payload, entities.SystemActor(), outcome.At)
	if err == nil {
		err = q.recorder.RecordEvent(ctx, event)
	}
	if err != nil {
		observability.LoggerFromContext(ctx).Error().Err(err).
			Str("notification_id", n.ID).
			Msg("Failed to record notification audit event")
	}
}

// SweepStaleClaims fails notifications left in processing longer than the
// claim TTL, e.g. by a worker that crashed mid-drain
func (q *NotificationQueue) SweepStaleClaims(ctx context.Context) (int, error) {
	now := q.now()
	message := fmt.Sprintf("processing claim expired after %s", q.opts.ClaimTTL)

	stale, err := q.notifications.FailStaleClaims(ctx, now.Add(-q.opts.ClaimTTL), message)
	if err != nil {
		return 0, fmt.Errorf("fail stale claims: %w", err)
	}
	for _, n := range stale {
		q.audit(ctx, n, entities.DeliveryOutcome{NotificationID: n.ID, ErrorMessage: message, At: now})
	}
	if len(stale) > 0 {
		observability.LoggerFromContext(ctx).Warn().Int("count", len(stale)).Msg("Failed stale notification claims")
	}
	return len(stale), nil
}

// Requeue creates a new pending copy of a failed notification
func (q *NotificationQueue) Requeue(ctx context.Context, notificationID string) (*entities.Notification, error) {
	original, err := q.notifications.GetByID(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if original.Status != entities.NotificationStatusFailed {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("only failed notifications can be requeued; notification %s is %s",
			original.ID, original.Status))
	}

	data := make(map[string]interface{}, len(original.Data))
	for k, v := range original.Data {
		data[k] = v
	}
	retry := entities.NewNotification(uuid.NewString(), original.JourneyID, original.TemplateName,
		original.Channel, original.Priority, data, q.now())
	retry.RetryOf = &original.ID

	if err := q.notifications.Enqueue(ctx, []*entities.Notification{retry}); err != nil {
		return nil, err
	}
	return retry, nil
}

// ListForJourney returns a journey's notifications, oldest first
func (q *NotificationQueue) ListForJourney(ctx context.Context, journeyID string) ([]*entities.Notification, error) {
	list, err := q.notifications.ListByJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*entities.Notification{}
	}
	return list, nil
}

// Run sweeps and drains every interval until ctx is done
func (q *NotificationQueue) Run(ctx context.Context, interval time.Duration) {
	logger := observability.LoggerFromContext(ctx)
	logger.Info().Dur("interval", interval).Msg("Notification worker started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		q.tick(ctx)
		select {
		case <-ctx.Done():
			logger.Info().Msg("Notification worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (q *NotificationQueue) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	logger := observability.LoggerFromContext(ctx)
	if _, err := q.SweepStaleClaims(ctx); err != nil {
		logger.Error().Err(err).Msg("Stale claim sweep failed")
	}
	if _, err := q.Drain(ctx, 0); err != nil {
		logger.Error().Err(err).Msg("Notification drain failed")
	}
}
