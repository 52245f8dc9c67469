/*
notify.go - Employee notification providers

PURPOSE:
  Implementations of ledger.Notifier. The ledger sends at most one message
  per committed operation and never retries; a provider only has to make a
  single delivery attempt and report failure.

PROVIDERS:
  - HTTPGateway: POSTs {to, from, message} JSON to an SMS/WhatsApp gateway
  - LogNotifier: writes the message to the structured log (development)
*/
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPGateway sends messages through an HTTP SMS gateway.
type HTTPGateway struct {
	URL      string
	APIKey   string
	SenderID string
	Client   *http.Client
}

// NewHTTPGateway creates a gateway client with the given per-request timeout.
func NewHTTPGateway(url, apiKey, senderID string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		URL:      url,
		APIKey:   apiKey,
		SenderID: senderID,
		Client:   &http.Client{Timeout: timeout},
	}
}

type gatewayMessage struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

func (g *HTTPGateway) Notify(ctx context.Context, phone, message string) error {
	body, err := json.Marshal(gatewayMessage{To: phone, From: g.SenderID, Message: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// LogNotifier logs messages instead of sending them.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, phone, message string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		slog.String("phone", phone),
		slog.String("message", message),
	)
	return nil
}
