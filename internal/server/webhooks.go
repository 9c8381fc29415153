package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"statusboard/internal/config"
	"statusboard/internal/logging"
	"statusboard/internal/notify"
	"statusboard/internal/observability"
)

const defaultWebhookTimeout = 5 * time.Second

type webhookDispatcher struct {
	hooks  []config.WebhookConfig
	client *http.Client
	logger logging.Logger
	ctx    context.Context
}

type webhookPayload struct {
	Token      notify.Token `json:"token"`
	DeliveryID string       `json:"delivery_id"`
}

// RunWebhooks posts a change token to every active hook whenever the state
// document changes, until ctx is done. It returns immediately when no hook
// is active.
func RunWebhooks(ctx context.Context, cfg Config, hooks []config.WebhookConfig) error {
	var active []config.WebhookConfig
	for _, h := range hooks {
		if h.Active() {
			active = append(active, h)
		}
	}
	if len(active) == 0 {
		return nil
	}
	d := &webhookDispatcher{
		hooks:  active,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: cfg.logger(),
		ctx:    ctx,
	}
	w := notify.Watcher{
		Probe:    cfg.Engine.Store.LastModified,
		Interval: cfg.Interval,
		Primed:   true,
		Logger:   cfg.logger(),
	}
	return w.Run(ctx, d)
}

// Notify delivers tok to each hook. Delivery failures are logged and not
// retried; the next change produces a fresh delivery.
func (d *webhookDispatcher) Notify(tok notify.Token) error {
	for _, hook := range d.hooks {
		if err := d.post(d.ctx, hook, tok); err != nil {
			d.logger.Warn("webhook delivery failed", "url", hook.URL, "error", err)
			continue
		}
		observability.RecordNotification("webhook")
	}
	return nil
}

func (d *webhookDispatcher) KeepAlive() error { return nil }

func (d *webhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, tok notify.Token) error {
	deliveryID := uuid.NewString()
	data, err := json.Marshal(webhookPayload{Token: tok, DeliveryID: deliveryID})
	if err != nil {
		return err
	}
	client := d.client
	if hook.Timeout > 0 && hook.Timeout != d.client.Timeout {
		client = &http.Client{Timeout: hook.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Statusboard-Delivery", deliveryID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Statusboard-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
