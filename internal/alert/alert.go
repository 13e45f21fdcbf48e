// Package alert delivers best-effort error notifications for pipeline failures.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/metrics"
)

// Alert is the JSON body posted to the webhook.
type Alert struct {
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Webhook posts alerts as JSON to a URL.
type Webhook struct {
	url    string
	client *http.Client
	clock  catalog.Clock
	logger *zap.Logger
}

// NewWebhook returns a webhook notifier.
func NewWebhook(url string, timeout time.Duration, clock catalog.Clock, logger *zap.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		clock:  clock,
		logger: logger.Named("alert"),
	}
}

// Notify implements catalog.Notifier. Delivery failures are logged, never returned.
func (w *Webhook) Notify(ctx context.Context, err error, fields map[string]string) {
	if err == nil {
		return
	}
	alert := Alert{Message: err.Error(), Fields: fields, Timestamp: w.clock.Now()}
	if sendErr := w.send(ctx, alert); sendErr != nil {
		metrics.ObserveAlert("webhook", "error")
		w.logger.Error("failed to send alert", zap.String("message", alert.Message), zap.Error(sendErr))
		return
	}
	metrics.ObserveAlert("webhook", "sent")
}

func (w *Webhook) send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Log writes alerts to the logger at error level.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a notifier that only logs.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("alert")}
}

// Notify implements catalog.Notifier.
func (l *Log) Notify(_ context.Context, err error, fields map[string]string) {
	if err == nil {
		return
	}
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.Error(err))
	for k, v := range fields {
		zf = append(zf, zap.String(k, v))
	}
	l.logger.Error("alert", zf...)
	metrics.ObserveAlert("log", "sent")
}

// Multi fans a notification out to several notifiers.
type Multi []catalog.Notifier

// Notify implements catalog.Notifier.
func (m Multi) Notify(ctx context.Context, err error, fields map[string]string) {
	for _, n := range m {
		n.Notify(ctx, err, fields)
	}
}
