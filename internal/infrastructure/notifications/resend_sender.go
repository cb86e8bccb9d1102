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

// ResendSender sends email through the Resend HTTP API
type ResendSender struct {
	apiKey     string
	from       string
	httpClient *http.Client
	baseURL    string
}

// NewResendSender creates an email sender from configuration
func NewResendSender(cfg config.EmailConfig, client *http.Client) (*ResendSender, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("RESEND_API_KEY must be set")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ResendSender{
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		httpClient: client,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

type resendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type resendEmailResponse struct {
	ID string `json:"id"`
}

// SendEmail delivers one message. Any non-2xx answer is a transport error.
func (s *ResendSender) SendEmail(ctx context.Context, msg providers.EmailMessage) (*providers.SendResult, error) {
	if msg.To == "" || msg.Subject == "" {
		return nil, apperrors.NewValidationError("email needs a recipient and a subject")
	}

	payload, err := json.Marshal(resendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewTransportError("email request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransportError("failed to read email response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewTransportError(
			fmt.Sprintf("Resend API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var out resendEmailResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperrors.NewTransportError("failed to unmarshal email response", err)
	}
	if out.ID == "" {
		return nil, apperrors.NewTransportError("no message ID in email response", nil)
	}
	return &providers.SendResult{MessageID: out.ID}, nil
}
