package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zatekoja/patientjourney/internal/domain/providers"
	"github.com/zatekoja/patientjourney/pkg/config"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

const defaultWhatsAppLanguage = "en_US"

// WhatsAppCloudSender sends template messages via WhatsApp Cloud API
type WhatsAppCloudSender struct {
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
	baseURL       string
}

// NewWhatsAppCloudSender creates a new WhatsApp sender from configuration.
// A nil client gets a 30 second timeout.
func NewWhatsAppCloudSender(cfg config.WhatsAppConfig, client *http.Client) (*WhatsAppCloudSender, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("WHATSAPP_ACCESS_TOKEN and WHATSAPP_PHONE_NUMBER_ID must be set")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIVersion != "" {
		baseURL += "/" + cfg.APIVersion
	}

	return &WhatsAppCloudSender{
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		httpClient:    client,
		baseURL:       baseURL,
	}, nil
}

// WhatsAppTemplateMessage represents a template message
type WhatsAppTemplateMessage struct {
	MessagingProduct string                      `json:"messaging_product"`
	RecipientType    string                      `json:"recipient_type"`
	To               string                      `json:"to"`
	Type             string                      `json:"type"`
	Template         WhatsAppTemplateMessageBody `json:"template"`
}

// WhatsAppTemplateMessageBody represents the template body
type WhatsAppTemplateMessageBody struct {
	Name       string                             `json:"name"`
	Language   WhatsAppLanguage                   `json:"language"`
	Components []WhatsAppTemplateMessageComponent `json:"components,omitempty"`
}

// WhatsAppLanguage represents the language code
type WhatsAppLanguage struct {
	Code string `json:"code"`
}

// WhatsAppTemplateMessageComponent represents a template component
type WhatsAppTemplateMessageComponent struct {
	Type       string                             `json:"type"`
	Parameters []WhatsAppTemplateMessageParameter `json:"parameters"`
}

// WhatsAppTemplateMessageParameter represents a template parameter
type WhatsAppTemplateMessageParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// WhatsAppResponse represents the API response
type WhatsAppResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendWhatsApp sends a template message with its body parameters
func (w *WhatsAppCloudSender) SendWhatsApp(ctx context.Context, msg providers.WhatsAppMessage) (*providers.SendResult, error) {
	if msg.To == "" || msg.TemplateName == "" {
		return nil, apperrors.NewValidationError("whatsapp message needs a recipient and a template name")
	}

	var components []WhatsAppTemplateMessageComponent
	if len(msg.Parameters) > 0 {
		params := make([]WhatsAppTemplateMessageParameter, len(msg.Parameters))
		for i, param := range msg.Parameters {
			params[i] = WhatsAppTemplateMessageParameter{
				Type: "text",
				Text: param,
			}
		}
		components = append(components, WhatsAppTemplateMessageComponent{
			Type:       "body",
			Parameters: params,
		})
	}

	language := msg.Language
	if language == "" {
		language = defaultWhatsAppLanguage
	}

	message := WhatsAppTemplateMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.To,
		Type:             "template",
		Template: WhatsAppTemplateMessageBody{
			Name:       msg.TemplateName,
			Language:   WhatsAppLanguage{Code: language},
			Components: components,
		},
	}

	id, err := w.sendMessage(ctx, message)
	if err != nil {
		return nil, err
	}
	return &providers.SendResult{MessageID: id}, nil
}

// sendMessage posts a message to WhatsApp Cloud API
func (w *WhatsAppCloudSender) sendMessage(ctx context.Context, message interface{}) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)

	jsonData, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+w.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewTransportError("whatsapp request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.NewTransportError("failed to read whatsapp response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewTransportError(
			fmt.Sprintf("WhatsApp API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var whatsappResp WhatsAppResponse
	if err := json.Unmarshal(body, &whatsappResp); err != nil {
		return "", apperrors.NewTransportError("failed to unmarshal whatsapp response", err)
	}

	if len(whatsappResp.Messages) > 0 {
		return whatsappResp.Messages[0].ID, nil
	}

	return "", apperrors.NewTransportError("no message ID in whatsapp response", nil)
}
