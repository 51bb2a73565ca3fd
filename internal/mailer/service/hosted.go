package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/corvusHold/certmail/internal/mailer/domain"
)

// Ensure Hosted implements domain.Sender
var _ domain.Sender = (*Hosted)(nil)

// DefaultHostedEndpoint is the Brevo transactional email endpoint.
const DefaultHostedEndpoint = "https://api.brevo.com/v3/smtp/email"

// Hosted sends through the Brevo transactional API with a server-held key.
type Hosted struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

func NewHosted(apiKey, endpoint string) *Hosted {
	if endpoint == "" {
		endpoint = DefaultHostedEndpoint
	}
	return &Hosted{apiKey: apiKey, endpoint: endpoint, http: &http.Client{Timeout: 30 * time.Second}}
}

type brevoAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type brevoEmail struct {
	Sender      brevoAddress      `json:"sender"`
	To          []brevoAddress    `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	Attachment  []brevoAttachment `json:"attachment,omitempty"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (h *Hosted) Send(ctx context.Context, msg domain.Message) (string, error) {
	if h.apiKey == "" || msg.From == "" {
		return "", fmt.Errorf("hosted email not configured")
	}
	payload := brevoEmail{
		Sender:      brevoAddress{Email: msg.From, Name: msg.FromName},
		To:          []brevoAddress{{Email: msg.To, Name: msg.ToName}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	}
	for _, a := range msg.Attachments {
		if a.Inline {
			continue
		}
		payload.Attachment = append(payload.Attachment, brevoAttachment{
			Name:    a.FileName,
			Content: base64.StdEncoding.EncodeToString(a.Data),
		})
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", h.apiKey)
	resp, err := h.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out brevoResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode >= 300 {
		if out.Message != "" {
			return "", fmt.Errorf("brevo send failed: %s: %s", resp.Status, out.Message)
		}
		return "", fmt.Errorf("brevo send failed: %s", resp.Status)
	}
	return out.MessageID, nil
}
