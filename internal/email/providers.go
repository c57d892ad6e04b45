package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider API endpoints.
const (
	resendEndpoint = "https://api.resend.com/emails"
	brevoEndpoint  = "https://api.brevo.com/v3/smtp/email"
)

// ResendSender delivers through the Resend HTTP API.
type ResendSender struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewResendSender builds a Resend sender.
func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{apiKey: apiKey, endpoint: resendEndpoint, client: &http.Client{Timeout: 15 * time.Second}}
}

// Name returns "resend".
func (s *ResendSender) Name() string { return "resend" }

// Send posts msg to Resend.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"from":    formatAddress(msg.FromName, msg.From),
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
		"text":    msg.Text,
	}
	if msg.ReplyTo != "" {
		payload["reply_to"] = msg.ReplyTo
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.apiKey)
	return postJSON(ctx, s.client, s.endpoint, headers, payload)
}

// BrevoSender delivers through the Brevo transactional email API.
type BrevoSender struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewBrevoSender builds a Brevo sender.
func NewBrevoSender(apiKey string) *BrevoSender {
	return &BrevoSender{apiKey: apiKey, endpoint: brevoEndpoint, client: &http.Client{Timeout: 15 * time.Second}}
}

// Name returns "brevo".
func (s *BrevoSender) Name() string { return "brevo" }

// Send posts msg to Brevo.
func (s *BrevoSender) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"sender":      map[string]string{"name": msg.FromName, "email": msg.From},
		"to":          []map[string]string{{"email": msg.To}},
		"subject":     msg.Subject,
		"htmlContent": msg.HTML,
		"textContent": msg.Text,
	}
	if msg.ReplyTo != "" {
		payload["replyTo"] = map[string]string{"email": msg.ReplyTo}
	}
	headers := http.Header{}
	headers.Set("api-key", s.apiKey)
	return postJSON(ctx, s.client, s.endpoint, headers, payload)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, headers http.Header, payload any) error {
	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return errMarshal
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if errReq != nil {
		return errReq
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, errDo := client.Do(req)
	if errDo != nil {
		return fmt.Errorf("email: request: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email: provider status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}
