package handler

import (
	"context"
	"sync"
	"time"

	"settlement-engine/internal/adapter/fiat/mpesa"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/metrics"
	"settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// queueTimeoutCode marks a payout the provider dropped from its queue unprocessed.
const queueTimeoutCode = -1

// WebhookHandler receives fiat rail callbacks. Every callback is acknowledged
// before reconciliation runs; reconciliation happens on a background goroutine.
type WebhookHandler struct {
	reconciler ports.Reconciler
	timeout    time.Duration
	log        zerolog.Logger
	wg         sync.WaitGroup
}

// NewWebhookHandler creates a WebhookHandler. timeout bounds each reconciliation.
func NewWebhookHandler(reconciler ports.Reconciler, timeout time.Duration, log zerolog.Logger) *WebhookHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &WebhookHandler{
		reconciler: reconciler,
		timeout:    timeout,
		log:        log.With().Str("component", "webhooks").Logger(),
	}
}

// Collection handles POST /api/v1/webhooks/mpesa/collection.
func (h *WebhookHandler) Collection(c *gin.Context) {
	body, err := c.GetRawData()
	response.Ack(c)
	if err != nil {
		h.malformed("collection", err)
		return
	}

	res, err := mpesa.ParseCollectionCallback(body)
	if err != nil {
		h.malformed("collection", err)
		return
	}

	h.dispatch("collection", res.ProviderRef, func(ctx context.Context) error {
		return h.reconciler.HandleCollection(ctx, res)
	})
}

// Payout handles POST /api/v1/webhooks/mpesa/payout.
func (h *WebhookHandler) Payout(c *gin.Context) {
	h.payout(c, false)
}

// PayoutTimeout handles POST /api/v1/webhooks/mpesa/payout/timeout.
// The provider calls it when a payout expired in its queue, so it always counts as a failure.
func (h *WebhookHandler) PayoutTimeout(c *gin.Context) {
	h.payout(c, true)
}

func (h *WebhookHandler) payout(c *gin.Context, timedOut bool) {
	body, err := c.GetRawData()
	response.Ack(c)
	if err != nil {
		h.malformed("payout", err)
		return
	}

	res, err := mpesa.ParsePayoutCallback(body)
	if err != nil {
		h.malformed("payout", err)
		return
	}
	if timedOut && res.Succeeded() {
		res.ResultCode = queueTimeoutCode
	}
	if timedOut && res.ResultDesc == "" {
		res.ResultDesc = "payout request timed out in provider queue"
	}

	h.dispatch("payout", res.ProviderRef, func(ctx context.Context) error {
		return h.reconciler.HandlePayout(ctx, res)
	})
}

// Wait blocks until in-flight reconciliations finish.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}

func (h *WebhookHandler) dispatch(kind, providerRef string, fn func(ctx context.Context) error) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				h.log.Error().Interface("panic", r).Str("kind", kind).Str("provider_ref", providerRef).Msg("reconciliation panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			h.log.Error().Err(err).Str("kind", kind).Str("provider_ref", providerRef).Msg("reconciliation failed")
		}
	}()
}

func (h *WebhookHandler) malformed(kind string, err error) {
	metrics.WebhookCallbacksTotal.WithLabelValues(kind, "malformed").Inc()
	h.log.Warn().Err(err).Str("kind", kind).Msg("malformed callback dropped")
}
