package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"scorekeeper/utils"
)

const notifyTimeout = 10 * time.Second

// Notification is handed to the email relay after a state change commits.
type Notification struct {
	Kind      string         `json:"kind"`
	EventID   string         `json:"event_id"`
	EventName string         `json:"event_name"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data,omitempty"`
}

// Notifier delivers notifications. Failures are logged by the caller and never
// undo the change that triggered them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. Used when no relay is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.Printf("📨 [NOTIFY] %s for event %s -> %s", n.Kind, n.EventID, n.Recipient)
	return nil
}

// WebhookNotifier posts notifications as JSON to the email relay service.
type WebhookNotifier struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewWebhookNotifier(url, token string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Token: token, Client: utils.HTTPClient}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification relay returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}

// dispatchNotification sends n in the background with its own timeout.
func dispatchNotification(notifier Notifier, n Notification) {
	if notifier == nil || n.Recipient == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := notifier.Notify(ctx, n); err != nil {
			log.Printf("⚠️ [NOTIFY] %s for event %s failed: %v", n.Kind, n.EventID, err)
		}
	}()
}
