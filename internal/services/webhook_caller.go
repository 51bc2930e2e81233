package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// HTTPWebhookCaller delivers webhook action payloads as JSON POSTs.
// Network failures and 5xx responses are transient; 4xx responses mean
// the automation's webhook config is wrong and retrying will not help.
type HTTPWebhookCaller struct {
	client *http.Client
	logger *logger.Logger
}

// NewHTTPWebhookCaller creates a new outbound webhook caller
func NewHTTPWebhookCaller(timeout time.Duration, log *logger.Logger) *HTTPWebhookCaller {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &HTTPWebhookCaller{
		client: &http.Client{Timeout: timeout},
		logger: log,
	}
}

// Call posts the payload to the URL
func (c *HTTPWebhookCaller) Call(ctx context.Context, url string, payload map[string]interface{}) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "automation-engine/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return engine.Transient(fmt.Errorf("failed to call webhook %s: %w", url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return engine.Transient(fmt.Errorf("webhook %s returned status %d", url, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook %s rejected payload with status %d", url, resp.StatusCode)
	}

	c.logger.Debugf("Webhook delivered to %s (status %d)", url, resp.StatusCode)
	return nil
}
