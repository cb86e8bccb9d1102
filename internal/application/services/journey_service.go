package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/providers"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
	"github.com/zatekoja/patientjourney/pkg/retry"
)

const (
	// maxTransitionAttempts bounds re-reads after a lost compare-and-set
	maxTransitionAttempts = 3

	defaultJourneyPageSize = 50
	maxJourneyPageSize     = 200
)

// Dispatcher reacts to committed journey events
type Dispatcher interface {
	Handle(ctx context.Context, event *entities.JourneyEvent) error
}

// EventRecorder appends standalone events and announces committed ones
type EventRecorder interface {
	// RecordEvent appends event and announces it
	RecordEvent(ctx context.Context, event *entities.JourneyEvent) error
	// Committed hands events already written by another transaction to the
	// dispatcher and the event publisher
	Committed(ctx context.Context, events ...*entities.JourneyEvent)
}

// TransitionRequest asks for a journey state change
type TransitionRequest struct {
	TargetState entities.JourneyState  `json:"targetState"`
	Reason      string                 `json:"reason"`
	Actor       entities.Actor         `json:"actor"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StartJourneyRequest opens a journey for a patient intake
type StartJourneyRequest struct {
	PatientIntakeID string                 `json:"patientIntakeId"`
	Source          string                 `json:"source,omitempty"`
	InitialData     map[string]interface{} `json:"initialData,omitempty"`
}

// JourneyService owns the journey state machine and the event log
type JourneyService struct {
	journeys   repositories.JourneyRepository
	events     repositories.EventRepository
	dispatcher Dispatcher
	publisher  providers.EventPublisher
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewJourneyService creates a new journey service. publisher and metrics may be nil.
func NewJourneyService(
	journeys repositories.JourneyRepository,
	events repositories.EventRepository,
	dispatcher Dispatcher,
	publisher providers.EventPublisher,
	metrics *observability.Metrics,
) *JourneyService {
	return &JourneyService{
		journeys:   journeys,
		events:     events,
		dispatcher: dispatcher,
		publisher:  publisher,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start creates a journey in INQUIRY together with its JOURNEY_STARTED event
func (s *JourneyService) Start(ctx context.Context, req StartJourneyRequest) (*entities.Journey, error) {
	ctx, span := observability.StartSpan(ctx, "JourneyService.Start")
	defer span.End()

	intakeID := strings.TrimSpace(req.PatientIntakeID)
	if intakeID == "" {
		return nil, apperrors.NewValidationError("patientIntakeId is required")
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	now := s.now()
	journey := entities.NewJourney(uuid.NewString(), intakeID, req.InitialData, now)
	started, err := entities.NewJourneyEvent(journey.ID, &entities.JourneyStartedPayload{
		Source:          source,
		PatientIntakeID: intakeID,
		InitialData:     req.InitialData,
	}, entities.SystemActor(), now)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	inquiry := entities.JourneyStateInquiry
	started.ToState = &inquiry

	if err := s.journeys.Create(ctx, journey, started); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Str("journey_id", journey.ID).
		Str("patient_intake_id", intakeID).
		Msg("Journey started")

	s.Committed(ctx, started)
	return journey, nil
}

// Get retrieves a journey by ID
func (s *JourneyService) Get(ctx context.Context, id string) (*entities.Journey, error) {
	return s.journeys.GetByID(ctx, id)
}

// List retrieves journeys for the coordinator dashboard
func (s *JourneyService) List(ctx context.Context, filter entities.JourneyFilter) ([]*entities.Journey, error) {
	if filter.State != nil && !filter.State.IsValid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown journey state %q", *filter.State))
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultJourneyPageSize
	}
	if filter.Limit > maxJourneyPageSize {
		filter.Limit = maxJourneyPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.journeys.List(ctx, filter)
}

// Transition moves a journey to req.TargetState. The state change and its
// STATE_TRANSITION event commit together; a concurrent change to the same
// journey is detected and the request is re-validated against the new state.
func (s *JourneyService) Transition(ctx context.Context, journeyID string, req TransitionRequest) (*entities.Journey, error) {
	ctx, span := observability.StartSpan(ctx, "JourneyService.Transition")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("journey.id", journeyID),
		attribute.String("journey.target_state", string(req.TargetState)),
	)

	if err := validateTransitionRequest(req); err != nil {
		return nil, err
	}

	var (
		updated *entities.Journey
		event   *entities.JourneyEvent
		from    entities.JourneyState
	)
	err := retry.Do(ctx, retry.OptimisticConfig(maxTransitionAttempts), func() error {
		journey, err := s.journeys.GetByID(ctx, journeyID)
		if err != nil {
			return retry.Permanent(err)
		}
		from = journey.CurrentState
		if !from.CanTransitionTo(req.TargetState) {
			return retry.Permanent(invalidTransition(from, req.TargetState))
		}

		now := s.now()
		event, err = entities.NewTransitionEvent(journeyID, from, req.TargetState, req.Actor, req.Reason, req.Metadata, now)
		if err != nil {
			return retry.Permanent(apperrors.NewValidationError(err.Error()))
		}

		updated, err = s.journeys.ApplyTransition(ctx, entities.TransitionParams{
			JourneyID: journeyID,
			FromState: from,
			ToState:   req.TargetState,
			Entry: entities.StateHistoryEntry{
				State:     req.TargetState,
				EnteredAt: now,
				Actor:     req.Actor.Label(),
				Reason:    req.Reason,
				Metadata:  req.Metadata,
			},
			Event:     event,
			UpdatedAt: now,
		})
		if apperrors.IsType(err, apperrors.ErrorTypeConflict) {
			observability.LoggerFromContext(ctx).Debug().Err(err).Str("journey_id", journeyID).Msg("Transition lost a concurrent update, retrying")
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.RecordTransition(ctx, s.metrics, string(from), string(req.TargetState))
	observability.LoggerFromContext(ctx).Info().
		Str("journey_id", journeyID).
		Str("from_state", string(from)).
		Str("to_state", string(req.TargetState)).
		Str("actor", req.Actor.Label()).
		Msg("Journey transitioned")

	s.Committed(ctx, event)
	return updated, nil
}

// Timeline returns the journey's events in order
func (s *JourneyService) Timeline(ctx context.Context, journeyID string) ([]*entities.JourneyEvent, error) {
	if _, err := s.journeys.GetByID(ctx, journeyID); err != nil {
		return nil, err
	}
	events, err := s.events.ListByJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*entities.JourneyEvent{}
	}
	return events, nil
}

// AssignCoordinator hands the journey to a coordinator; the state is untouched
func (s *JourneyService) AssignCoordinator(ctx context.Context, journeyID, coordinatorID, notes string, actor entities.Actor) (*entities.Journey, error) {
	coordinatorID = strings.TrimSpace(coordinatorID)
	if coordinatorID == "" {
		return nil, apperrors.NewValidationError("coordinatorId is required")
	}
	if actor.Type == "" {
		actor = entities.SystemActor()
	}
	if !actor.Type.IsValid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown actor type %q", actor.Type))
	}

	current, err := s.journeys.GetByID(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	event, err := entities.NewJourneyEvent(journeyID, &entities.CoordinatorAssignedPayload{
		PreviousCoordinatorID: current.AssignedCoordinatorID,
		NewCoordinatorID:      coordinatorID,
		Notes:                 notes,
	}, actor, s.now())
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	updated, err := s.journeys.AssignCoordinator(ctx, journeyID, coordinatorID, event)
	if err != nil {
		return nil, err
	}
	s.Committed(ctx, event)
	return updated, nil
}

// RecordEvent appends a standalone event and announces it
func (s *JourneyService) RecordEvent(ctx context.Context, event *entities.JourneyEvent) error {
	if event.EventType == entities.EventTypeStateTransition || event.EventType == entities.EventTypeJourneyStarted {
		return apperrors.NewValidationError(fmt.Sprintf("%s events are written by the state machine", event.EventType))
	}
	if err := s.events.Append(ctx, event); err != nil {
		return err
	}
	s.Committed(ctx, event)
	return nil
}

// Committed dispatches and publishes events after their transaction.
// Failures here are logged only; the write they follow has already happened.
func (s *JourneyService) Committed(ctx context.Context, events ...*entities.JourneyEvent) {
	logger := observability.LoggerFromContext(ctx)
	for _, event := range events {
		if s.dispatcher != nil {
			if err := s.dispatcher.Handle(ctx, event); err != nil {
				logger.Error().Err(err).
					Str("journey_id", event.JourneyID).
					Str("event_id", event.ID).
					Str("event_type", string(event.EventType)).
					Msg("Failed to dispatch notifications for event")
			}
		}
		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, event); err != nil {
				logger.Warn().Err(err).
					Str("journey_id", event.JourneyID).
					Str("event_id", event.ID).
					Msg("Failed to publish journey event")
			}
		}
	}
}

func validateTransitionRequest(req TransitionRequest) error {
	if !req.TargetState.IsValid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown target state %q", req.TargetState))
	}
	if !req.Actor.Type.IsValid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown actor type %q", req.Actor.Type))
	}
	if req.Actor.Type == entities.ActorTypeCoordinator && strings.TrimSpace(req.Reason) == "" {
		return apperrors.NewValidationError("reason is required for coordinator transitions")
	}
	return nil
}

func invalidTransition(from, to entities.JourneyState) *apperrors.AppError {
	allowed := from.AllowedTransitions()
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}

	var msg string
	if len(names) == 0 {
		msg = fmt.Sprintf("cannot transition from %s to %s: %s is terminal", from, to, from)
	} else {
		msg = fmt.Sprintf("cannot transition from %s to %s; allowed: %s", from, to, strings.Join(names, ", "))
	}
	return apperrors.NewInvalidTransitionError(msg).
		WithDetail("current_state", string(from)).
		WithDetail("allowed_transitions", names)
}
