package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// WebhookChannel is a one-way notification channel that POSTs events as JSON
// to a configured endpoint. It never answers questions: AskQuestion always
// returns "" so the bridge falls through to interactive channels.
type WebhookChannel struct {
	url    string
	client *http.Client
}

var _ Channel = (*WebhookChannel)(nil)

// NewWebhookChannel creates a webhook channel targeting the given URL.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

type webhookEvent struct {
	Event   string `json:"event"`
	ChatID  string `json:"chat_id,omitempty"`
	Text    string `json:"text,omitempty"`
	Caption string `json:"caption,omitempty"`
	PNG     string `json:"png,omitempty"` // base64
}

func (w *WebhookChannel) SendMessage(ctx context.Context, chatID, text string) error {
	return w.post(ctx, webhookEvent{Event: "message", ChatID: chatID, Text: text})
}

func (w *WebhookChannel) SendPhoto(ctx context.Context, chatID, caption string, png []byte) error {
	return w.post(ctx, webhookEvent{
		Event:   "photo",
		ChatID:  chatID,
		Caption: caption,
		PNG:     base64.StdEncoding.EncodeToString(png),
	})
}

// AskQuestion is a no-op: webhooks cannot carry replies.
func (w *WebhookChannel) AskQuestion(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

// OnMessage is a no-op: the channel is outbound-only.
func (w *WebhookChannel) OnMessage(_ func(chatID, messageID, text string)) {}

func (w *WebhookChannel) post(ctx context.Context, ev webhookEvent) error {
	ctx, span := otel.Tracer("gateway").Start(ctx, "webhook.post")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.url", w.url),
		attribute.String("webhook.event", ev.Event),
	)

	body, err := json.Marshal(ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return fmt.Errorf("webhook call to %s: %w", w.url, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("webhook %s returned status %d", w.url, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return err
	}
	return nil
}
