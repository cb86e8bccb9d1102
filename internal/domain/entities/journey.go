package entities

import (
	"time"
)

// JourneyState represents a stage of the patient journey
type JourneyState string

const (
	JourneyStateInquiry   JourneyState = "INQUIRY"
	JourneyStateScreening JourneyState = "SCREENING"
	JourneyStateMatching  JourneyState = "MATCHING"
	JourneyStateQuote     JourneyState = "QUOTE"
	JourneyStateBooking   JourneyState = "BOOKING"
	JourneyStatePreTravel JourneyState = "PRE_TRAVEL"
	JourneyStateTreatment JourneyState = "TREATMENT"
	JourneyStatePostCare  JourneyState = "POST_CARE"
	JourneyStateFollowup  JourneyState = "FOLLOWUP"
	JourneyStateCompleted JourneyState = "COMPLETED"
	JourneyStateCancelled JourneyState = "CANCELLED"
)

// AllJourneyStates lists every state in lifecycle order.
var AllJourneyStates = []JourneyState{
	JourneyStateInquiry,
	JourneyStateScreening,
	JourneyStateMatching,
	JourneyStateQuote,
	JourneyStateBooking,
	JourneyStatePreTravel,
	JourneyStateTreatment,
	JourneyStatePostCare,
	JourneyStateFollowup,
	JourneyStateCompleted,
	JourneyStateCancelled,
}

// journeyTransitions is the only source of allowed state changes.
var journeyTransitions = map[JourneyState][]JourneyState{
	JourneyStateInquiry:   {JourneyStateScreening, JourneyStateCancelled},
	JourneyStateScreening: {JourneyStateMatching, JourneyStateCancelled},
	JourneyStateMatching:  {JourneyStateQuote, JourneyStateCancelled},
	JourneyStateQuote:     {JourneyStateBooking, JourneyStateMatching, JourneyStateCancelled},
	JourneyStateBooking:   {JourneyStatePreTravel, JourneyStateCancelled},
	JourneyStatePreTravel: {JourneyStateTreatment, JourneyStateCancelled},
	JourneyStateTreatment: {JourneyStatePostCare, JourneyStateCancelled},
	JourneyStatePostCare:  {JourneyStateFollowup, JourneyStateCompleted},
	JourneyStateFollowup:  {JourneyStateCompleted},
	JourneyStateCompleted: {},
	JourneyStateCancelled: {},
}

// IsValid reports whether s is a known journey state
func (s JourneyState) IsValid() bool {
	_, ok := journeyTransitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves s
func (s JourneyState) IsTerminal() bool {
	return len(journeyTransitions[s]) == 0
}

// AllowedTransitions returns a copy of the states reachable from s
func (s JourneyState) AllowedTransitions() []JourneyState {
	next := journeyTransitions[s]
	out := make([]JourneyState, len(next))
	copy(out, next)
	return out
}

// CanTransitionTo reports whether target is directly reachable from s
func (s JourneyState) CanTransitionTo(target JourneyState) bool {
	for _, next := range journeyTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// ActorType identifies who caused a change
type ActorType string

const (
	ActorTypeSystem      ActorType = "system"
	ActorTypeCoordinator ActorType = "coordinator"
	ActorTypePatient     ActorType = "patient"
)

// IsValid reports whether t is a known actor type
func (t ActorType) IsValid() bool {
	switch t {
	case ActorTypeSystem, ActorTypeCoordinator, ActorTypePatient:
		return true
	}
	return false
}

// Actor is the principal behind a transition or event
type Actor struct {
	Type ActorType `json:"type"`
	ID   *string   `json:"id,omitempty"`
}

// SystemActor returns the actor used for automated changes
func SystemActor() Actor {
	return Actor{Type: ActorTypeSystem}
}

// Label returns the string recorded in state history
func (a Actor) Label() string {
	if a.ID != nil && *a.ID != "" {
		return string(a.Type) + ":" + *a.ID
	}
	return string(a.Type)
}

// StateHistoryEntry is one step of a journey's denormalized history
type StateHistoryEntry struct {
	State     JourneyState           `json:"state"`
	EnteredAt time.Time              `json:"entered_at"`
	Actor     string                 `json:"actor"`
	Reason    string                 `json:"reason"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Journey is a patient's end-to-end case
type Journey struct {
	ID                    string                 `json:"id" db:"id"`
	PatientIntakeID       string                 `json:"patient_intake_id" db:"patient_intake_id"`
	CurrentState          JourneyState           `json:"current_state" db:"current_state"`
	StateData             map[string]interface{} `json:"state_data" db:"state_data"`
	StateHistory          []StateHistoryEntry    `json:"state_history" db:"state_history"`
	AssignedCoordinatorID *string                `json:"assigned_coordinator_id,omitempty" db:"assigned_coordinator_id"`
	CreatedAt             time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at" db:"updated_at"`
}

// NewJourney builds a journey in INQUIRY with its opening history entry
func NewJourney(id, patientIntakeID string, initialData map[string]interface{}, now time.Time) *Journey {
	if initialData == nil {
		initialData = map[string]interface{}{}
	}
	return &Journey{
		ID:              id,
		PatientIntakeID: patientIntakeID,
		CurrentState:    JourneyStateInquiry,
		StateData:       initialData,
		StateHistory: []StateHistoryEntry{{
			State:     JourneyStateInquiry,
			EnteredAt: now,
			Actor:     string(ActorTypeSystem),
			Reason:    "Journey started",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep enough copy for callers that mutate history or state data
func (j *Journey) Clone() *Journey {
	if j == nil {
		return nil
	}
	c := *j
	c.StateHistory = append([]StateHistoryEntry(nil), j.StateHistory...)
	c.StateData = make(map[string]interface{}, len(j.StateData))
	for k, v := range j.StateData {
		c.StateData[k] = v
	}
	if j.AssignedCoordinatorID != nil {
		id := *j.AssignedCoordinatorID
		c.AssignedCoordinatorID = &id
	}
	return &c
}

// JourneyFilter narrows journey listings for the coordinator dashboard
type JourneyFilter struct {
	State         *JourneyState
	CoordinatorID *string
	Limit         int
	Offset        int
}

// TransitionParams is the persisted outcome of a validated transition
type TransitionParams struct {
	JourneyID string
	FromState JourneyState
	ToState   JourneyState
	Entry     StateHistoryEntry
	Event     *JourneyEvent
	UpdatedAt time.Time
}
