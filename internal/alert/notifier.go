package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tally/internal/core"
)

// Notifier delivers a raised alert to the user-facing channel.
type Notifier interface {
	Notify(ctx context.Context, ev core.AlertEvent) error
}

// LogNotifier writes alerts to the structured log. It is the default sink
// and the fallback when no webhook is configured.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

func (LogNotifier) Notify(ctx context.Context, ev core.AlertEvent) error {
	slog.WarnContext(ctx, "Budget alert",
		"kind", string(ev.Kind),
		"category", string(ev.Category),
		"month", ev.Month,
		"band", ev.Band,
		"spent_cents", ev.SpentCents,
		"limit_cents", ev.LimitCents,
		"percentage_used", ev.PercentUsed)
	return nil
}

// WebhookNotifier POSTs the alert as JSON to a configured URL.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

var _ Notifier = (*WebhookNotifier)(nil)

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev core.AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
