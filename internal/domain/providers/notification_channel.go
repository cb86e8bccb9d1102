package providers

import (
	"context"
)

// EmailMessage is a rendered email ready for delivery
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
	ReplyTo string
}

// WhatsAppMessage is a WhatsApp template message ready for delivery
type WhatsAppMessage struct {
	To           string
	TemplateName string
	Language     string
	Parameters   []string
}

// SendResult is returned by a channel adapter on success
type SendResult struct {
	MessageID string
}

// EmailSender delivers email
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) (*SendResult, error)
}

// WhatsAppSender delivers WhatsApp template messages
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, msg WhatsAppMessage) (*SendResult, error)
}

// MessageData is what templates are rendered against
type MessageData struct {
	PatientName string
	Language    string
	PortalURL   string
	JourneyID   string
	// Fields holds the notification's data, usually the triggering event payload.
	Fields map[string]interface{}
}

// EmailContent is a rendered email body
type EmailContent struct {
	Subject string
	HTML    string
	Text    string
}

// WhatsAppContent is a WhatsApp template reference with its body parameters
type WhatsAppContent struct {
	TemplateName string
	Parameters   []string
}

// MessageRenderer turns a notification template name into channel content.
// Unknown template names are errors.
type MessageRenderer interface {
	RenderEmail(template string, data MessageData) (*EmailContent, error)
	RenderWhatsApp(template string, data MessageData) (*WhatsAppContent, error)
}
