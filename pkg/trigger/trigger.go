package trigger

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/getmentor/airtable-connector/pkg/logger"
	"github.com/getmentor/airtable-connector/pkg/metrics"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Payload is the JSON body posted to a trigger callback
type Payload struct {
	TriggerID string `json:"triggerId"`
	Items     any    `json:"items"`
}

// Webhook delivers trigger batches to a host callback URL
type Webhook struct {
	client  *resty.Client
	url     string
	pending sync.WaitGroup
}

// NewWebhook creates a webhook for callbackURL. Connection errors and 5xx
// responses are retried up to retries times.
func NewWebhook(callbackURL string, timeout time.Duration, retries int) *Webhook {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})

	return &Webhook{
		client: client,
		url:    callbackURL,
	}
}

// Send posts one batch and waits for the response
func (w *Webhook) Send(ctx context.Context, triggerID string, items any) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(Payload{TriggerID: triggerID, Items: items}).
		Post(w.url)
	if err != nil {
		metrics.TriggerDeliveries.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to call trigger callback: %w", err)
	}

	if !resp.IsSuccess() {
		metrics.TriggerDeliveries.WithLabelValues("rejected").Inc()
		return fmt.Errorf("trigger callback returned status %d", resp.StatusCode())
	}

	metrics.TriggerDeliveries.WithLabelValues("success").Inc()
	return nil
}

// SendAsync posts a batch in the background. Failures are logged and do not
// reach the caller. Cancelling ctx does not abort the delivery.
func (w *Webhook) SendAsync(ctx context.Context, triggerID string, items any) {
	ctx = context.WithoutCancel(ctx)

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()

		if err := w.Send(ctx, triggerID, items); err != nil {
			logger.Error("Failed to deliver trigger batch",
				zap.Error(err),
				zap.String("trigger_id", triggerID),
				zap.String("url", w.url))
			return
		}

		logger.Debug("Trigger batch delivered",
			zap.String("trigger_id", triggerID),
			zap.String("url", w.url))
	}()
}

// Wait blocks until every SendAsync delivery has finished
func (w *Webhook) Wait() {
	w.pending.Wait()
}
