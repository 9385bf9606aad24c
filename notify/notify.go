// Package notify delivers guardian and owner notifications and publishes
// lifecycle events. Delivery is best-effort everywhere: state transitions
// never roll back because an email bounced or a webhook endpoint was down.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

// LogNotifier writes notifications to the log. It is the default sink for
// development and tests.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, recipient, template string, payload map[string]any) error {
	n.log.Info("Notification",
		slog.String("recipient", recipient),
		slog.String("template", template),
		slog.Any("payload", payload))
	return nil
}

// WebhookNotifier POSTs notifications to an external delivery service, such
// as a mail gateway, as JSON.
type WebhookNotifier struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger
}

// NewWebhookNotifier creates a notifier delivering to the given endpoint.
func NewWebhookNotifier(endpoint string, log *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

type webhookEnvelope struct {
	Recipient string         `json:"recipient,omitempty"`
	Template  string         `json:"template,omitempty"`
	VaultID   string         `json:"vault_id,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	Payload   map[string]any `json:"payload"`
	SentAt    time.Time      `json:"sent_at"`
}

func (n *WebhookNotifier) Send(ctx context.Context, recipient, template string, payload map[string]any) error {
	return postJSON(ctx, n.client, n.endpoint, webhookEnvelope{
		Recipient: recipient,
		Template:  template,
		Payload:   payload,
		SentAt:    time.Now().UTC(),
	})
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, envelope webhookEnvelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// LogPublisher writes lifecycle events to the log.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher creates a log-backed event publisher.
func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(vaultID interfaces.VaultID, eventType string, payload map[string]any) {
	p.log.Info("Event",
		slog.String("vault_id", vaultID.String()),
		slog.String("event_type", eventType),
		slog.Any("payload", payload))
}

// WebhookPublisher POSTs lifecycle events to an external endpoint. Failures
// are logged and dropped; events are advisory, the store is authoritative.
type WebhookPublisher struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger
}

// NewWebhookPublisher creates a publisher delivering to the given endpoint.
func NewWebhookPublisher(endpoint string, log *slog.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

func (p *WebhookPublisher) Publish(vaultID interfaces.VaultID, eventType string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := postJSON(ctx, p.client, p.endpoint, webhookEnvelope{
		VaultID:   vaultID.String(),
		EventType: eventType,
		Payload:   payload,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		p.log.Warn("Event delivery failed",
			slog.String("event_type", eventType),
			slog.String("vault_id", vaultID.String()),
			"err", err)
	}
}
