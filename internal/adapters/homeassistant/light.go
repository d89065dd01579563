// Package homeassistant triggers Home Assistant automations through webhooks.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/melih/goal-listener/internal/core/ports"
)

// Light activates the goal light automation bound to a Home Assistant webhook.
type Light struct {
	url    string
	client *http.Client
}

var _ ports.Light = (*Light)(nil)

// NewLight creates a light client posting to webhookURL.
func NewLight(webhookURL string, timeout time.Duration) *Light {
	return &Light{
		url:    webhookURL,
		client: &http.Client{Timeout: timeout},
	}
}

type payload struct {
	Text string `json:"text"`
}

// Activate posts {"text": message} to the webhook.
func (l *Light) Activate(ctx context.Context, message string) error {
	body, err := json.Marshal(payload{Text: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call goal light webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("goal light webhook returned %s", resp.Status)
	}
	return nil
}
