// Package notify posts pipeline outcomes to an optional webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jo-hoe/reelcaster/internal/common"
	"github.com/jo-hoe/reelcaster/internal/config"
)

const (
	defaultRetries = 3
	defaultBackoff = 2 * time.Second
	requestTimeout = 10 * time.Second
)

// Event is the webhook payload.
type Event struct {
	Event       string    `json:"event"` // published|recreated|produced|failed
	RunID       string    `json:"run_id"`
	Task        string    `json:"task"`
	Outcome     string    `json:"outcome"`
	Stream      string    `json:"stream"`
	Part        int       `json:"part,omitempty"`
	FileID      string    `json:"file_id,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	MediaID     string    `json:"media_id,omitempty"`
	Segments    int       `json:"segments,omitempty"`
	Error       *string   `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

// Notifier delivers events with linear backoff between attempts.
type Notifier struct {
	url     string
	retries int
	backoff time.Duration
	client  *http.Client
}

// New returns nil when no webhook is configured; a nil Notifier drops events.
func New(cfg config.NotifyConfig) *Notifier {
	if cfg.WebhookURL == "" {
		return nil
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Notifier{
		url:     cfg.WebhookURL,
		retries: retries,
		backoff: backoff,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// Send posts ev, retrying failed attempts until retries are used up or ctx ends.
func (n *Notifier) Send(ctx context.Context, ev Event) error {
	if n == nil {
		return nil
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	var lastErr error
	for attempt := 1; attempt <= n.retries; attempt++ {
		err := n.postJSON(ctx, ev)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == n.retries {
			break
		}
		timer := time.NewTimer(time.Duration(attempt) * n.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("webhook: %w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", n.retries, lastErr)
}

func (n *Notifier) postJSON(ctx context.Context, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", common.ContentTypeJSON)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
