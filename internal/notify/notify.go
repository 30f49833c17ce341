// Package notify dispatches check and analysis events to the upstream
// catalog service over a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Notifier delivers one flat, colon-namespaced document about a resource.
type Notifier interface {
	Notify(ctx context.Context, datasetID, resourceID string, document map[string]any) error
}

// Noop is the Notifier used when the webhook is disabled.
type Noop struct{}

// Notify discards the document.
func (Noop) Notify(ctx context.Context, datasetID, resourceID string, document map[string]any) error {
	return nil
}

// Webhook PUTs JSON documents to a configured URL, retrying transient
// failures with exponential backoff.
type Webhook struct {
	URL        string
	Token      string
	client     *http.Client
	maxRetries uint64
}

// NewWebhook builds a webhook notifier. Token is optional.
func NewWebhook(url, token string, timeout time.Duration) *Webhook {
	return &Webhook{
		URL:        url,
		Token:      token,
		client:     &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

// Notify sends the document. The payload mirrors the upstream contract: the
// resource coordinates plus the flat document.
func (w *Webhook) Notify(ctx context.Context, datasetID, resourceID string, document map[string]any) error {
	payload := map[string]any{
		"dataset_id":  datasetID,
		"resource_id": resourceID,
	}
	for k, v := range document {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	operation := func() error {
		return w.put(ctx, body)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		log.Warn().Err(err).Str("resource_id", resourceID).Msg("Webhook notification failed")
		return err
	}
	return nil
}

func (w *Webhook) put(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, w.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		// 4xx other than 429 will not improve with retries.
		return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
}
