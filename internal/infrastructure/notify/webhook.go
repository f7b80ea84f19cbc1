// Package notify delivers engine events to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/ports"
)

// Webhook posts events as JSON to a configured URL. An empty URL makes
// every Notify a no-op so callers never branch on configuration.
type Webhook struct {
	url    string
	client *http.Client
	log    ports.Logger
}

func NewWebhook(settings domain.NotificationSettings, log ports.Logger) *Webhook {
	timeout := settings.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    settings.WebhookURL,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Notify implements ports.Notifier.
func (w *Webhook) Notify(ctx context.Context, event domain.NotificationEvent) error {
	if w.url == "" {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s event: %w", event.Type, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d for %s event", resp.StatusCode, event.Type)
	}
	w.log.Debug("notification delivered", map[string]interface{}{
		"event": string(event.Type),
		"item":  event.WorkItemID,
	})
	return nil
}

var _ ports.Notifier = (*Webhook)(nil)
