package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WebhookSender posts deliveries to external push and SMS gateways as
// JSON. Either URL may be empty, in which case that channel is a no-op.
type WebhookSender struct {
	pushURL string
	smsURL  string
	client  *http.Client
}

func NewWebhookSender(pushURL, smsURL string) *WebhookSender {
	return &WebhookSender{
		pushURL: pushURL,
		smsURL:  smsURL,
		client:  &http.Client{Timeout: sendBudget},
	}
}

func (w *WebhookSender) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	if w.pushURL == "" {
		return nil
	}
	return w.post(ctx, w.pushURL, map[string]any{
		"token": token,
		"title": title,
		"body":  body,
		"data":  data,
	})
}

func (w *WebhookSender) SMS(ctx context.Context, phone, message string) error {
	if w.smsURL == "" {
		return nil
	}
	return w.post(ctx, w.smsURL, map[string]any{
		"to":      phone,
		"message": message,
	})
}

func (w *WebhookSender) post(ctx context.Context, url string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}

// NopSender drops every delivery. Used when no gateway is configured and
// in tests.
type NopSender struct{}

func (NopSender) Push(context.Context, string, string, string, map[string]string) error { return nil }
func (NopSender) SMS(context.Context, string, string) error                             { return nil }

var _ Sender = (*WebhookSender)(nil)
var _ Sender = NopSender{}
