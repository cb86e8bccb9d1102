package entities

import (
	"time"
)

// NotificationChannel represents the delivery channel
type NotificationChannel string

const (
	ChannelEmail    NotificationChannel = "email"
	ChannelWhatsApp NotificationChannel = "whatsapp"
)

// NotificationPriority orders the queue; higher drains first
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// Rank maps the priority to its sort weight
func (p NotificationPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// NotificationStatus represents the delivery status
type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "pending"
	NotificationStatusProcessing NotificationStatus = "processing"
	NotificationStatusSent       NotificationStatus = "sent"
	NotificationStatusFailed     NotificationStatus = "failed"
)

// IsTerminal reports whether the row has reached its final outcome
func (s NotificationStatus) IsTerminal() bool {
	return s == NotificationStatusSent || s == NotificationStatusFailed
}

// Notification is one queued outbound message for a journey's patient
type Notification struct {
	ID           string                 `json:"id" db:"id"`
	JourneyID    string                 `json:"journey_id" db:"journey_id"`
	TemplateName string                 `json:"template_name" db:"template_name"`
	Channel      NotificationChannel    `json:"channel" db:"channel"`
	Priority     NotificationPriority   `json:"priority" db:"priority"`
	Data         map[string]interface{} `json:"data" db:"data"`
	Status       NotificationStatus     `json:"status" db:"status"`
	SentAt       *time.Time             `json:"sent_at,omitempty" db:"sent_at"`
	ExternalID   *string                `json:"external_id,omitempty" db:"external_id"`
	ErrorMessage *string                `json:"error_message,omitempty" db:"error_message"`
	ClaimedAt    *time.Time             `json:"claimed_at,omitempty" db:"claimed_at"`
	RetryOf      *string                `json:"retry_of,omitempty" db:"retry_of"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at" db:"updated_at"`
}

// NewNotification builds a pending notification
func NewNotification(id, journeyID, template string, channel NotificationChannel, priority NotificationPriority, data map[string]interface{}, now time.Time) *Notification {
	if data == nil {
		data = map[string]interface{}{}
	}
	if priority == "" {
		priority = PriorityNormal
	}
	return &Notification{
		ID:           id,
		JourneyID:    journeyID,
		TemplateName: template,
		Channel:      channel,
		Priority:     priority,
		Data:         data,
		Status:       NotificationStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// DeliveryOutcome is the terminal result of one processing attempt
type DeliveryOutcome struct {
	NotificationID string
	Sent           bool
	ExternalID     string
	ErrorMessage   string
	At             time.Time
}

// PatientContact is the read-only contact record of a journey's patient
type PatientContact struct {
	JourneyID         string  `json:"journey_id" db:"journey_id"`
	PatientIntakeID   string  `json:"patient_intake_id" db:"patient_intake_id"`
	FullName          string  `json:"full_name" db:"full_name"`
	Email             *string `json:"email,omitempty" db:"email"`
	Phone             *string `json:"phone,omitempty" db:"phone"`
	PreferredLanguage *string `json:"preferred_language,omitempty" db:"preferred_language"`
}

// AddressFor returns the destination for channel, or "" when the patient has none
func (c *PatientContact) AddressFor(channel NotificationChannel) string {
	switch channel {
	case ChannelEmail:
		if c.Email != nil {
			return *c.Email
		}
	case ChannelWhatsApp:
		if c.Phone != nil {
			return *c.Phone
		}
	}
	return ""
}

// Language returns the preferred language code, defaulting to English
func (c *PatientContact) Language() string {
	if c.PreferredLanguage != nil && *c.PreferredLanguage != "" {
		return *c.PreferredLanguage
	}
	return "en"
}
