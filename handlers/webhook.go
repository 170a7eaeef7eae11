package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"reconciler-svc/middleware"
	"reconciler-svc/models"
	"reconciler-svc/stripe"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxEventAttempts = 3

// WebhookHandler receives signed event deliveries from the payment
// provider. Once the signature checks out the delivery is always
// acknowledged with 200: redelivery is governed by the idempotency
// record, not by response codes.
type WebhookHandler struct {
	reconciler Reconciler
	events     EventRecordStore
	secret     string
	tolerance  time.Duration
	logger     *zap.Logger
}

func NewWebhookHandler(reconciler Reconciler, events EventRecordStore, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		events:     events,
		secret:     secret,
		tolerance:  5 * time.Minute,
		logger:     logger,
	}
}

func (h *WebhookHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("reconciler-svc").Start(c.Request.Context(), "StripeWebhook")
	defer span.End()

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read request body"})
		return
	}

	signature := c.GetHeader(stripe.SignatureHeader)
	if err := stripe.VerifySignature(body, signature, h.secret, h.tolerance); err != nil {
		middleware.RecordSignatureFailure()
		span.RecordError(err)
		h.logger.Error("Webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	var event models.Event
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" || event.Type == "" {
		h.logger.Error("Invalid webhook event payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event object"})
		return
	}

	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", event.Type),
	)

	// Event-level idempotency: the same delivery may arrive from the
	// provider's retries concurrently with the poller.
	record, err := h.events.Get(ctx, event.ID)
	if err != nil {
		// Cache unavailability must not drop deliveries; the
		// reconciler's own captured-flag check still holds.
		h.logger.Warn("Event record lookup failed", zap.String("event_id", event.ID), zap.Error(err))
	}
	if record != nil {
		switch {
		case record.Status == models.EventRecordCompleted:
			c.JSON(http.StatusOK, gin.H{
				"received": true,
				"message":  "Event already processed",
				"order_id": record.OrderID,
			})
			return
		case record.Status == models.EventRecordProcessing:
			c.JSON(http.StatusOK, gin.H{
				"received": true,
				"message":  "Event is being processed",
			})
			return
		case record.AttemptCount >= maxEventAttempts:
			h.logger.Error("Giving up on webhook event",
				zap.String("event_id", event.ID),
				zap.Int("attempts", record.AttemptCount),
			)
			c.JSON(http.StatusOK, gin.H{
				"received": true,
				"message":  "Event failed too many times",
				"error":    record.LastError,
			})
			return
		}
	}

	attempt := 1
	if record != nil {
		attempt = record.AttemptCount + 1
	}
	current := &models.EventRecord{
		EventID:      event.ID,
		Status:       models.EventRecordProcessing,
		AttemptCount: attempt,
		ProcessedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	h.putRecord(ctx, current)

	var res models.ReconcileResult
	switch event.Type {
	case models.EventPaymentIntentSucceeded:
		intent, err := event.PaymentIntent()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment intent payload"})
			return
		}
		res = h.reconciler.ReconcileSucceeded(ctx, models.SourceWebhook, intent)

	case models.EventPaymentIntentFailed, models.EventPaymentIntentCanceled:
		intent, err := event.PaymentIntent()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment intent payload"})
			return
		}
		res = h.reconciler.SyncTerminalStatus(ctx, models.SourceWebhook, event.Type, intent)

	case models.EventChargeSucceeded:
		charge, err := event.Charge()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid charge payload"})
			return
		}
		if charge.PaymentIntent == "" {
			current.Status = models.EventRecordCompleted
			h.putRecord(ctx, current)
			c.JSON(http.StatusOK, gin.H{
				"received": true,
				"warning":  "Charge succeeded but no payment intent id",
			})
			return
		}
		res = h.reconciler.ReconcileSucceeded(ctx, models.SourceWebhook, intentFromCharge(charge))

	default:
		// Acknowledge unhandled types so the provider stops retrying.
		current.Status = models.EventRecordCompleted
		h.putRecord(ctx, current)
		c.JSON(http.StatusOK, gin.H{"received": true, "message": "Event type not handled"})
		return
	}

	if res.Outcome == models.OutcomeFailed {
		current.Status = models.EventRecordFailed
		if res.Err != nil {
			current.LastError = res.Err.Error()
		}
		h.putRecord(ctx, current)
		span.RecordError(res.Err)
		c.JSON(http.StatusOK, gin.H{
			"received":      true,
			"error":         res.Message,
			"event_id":      event.ID,
			"attempt_count": attempt,
			"warning":       "Error occurred but delivery acknowledged; retry is left to the poller",
		})
		return
	}

	current.Status = models.EventRecordCompleted
	current.OrderID = res.OrderID
	h.putRecord(ctx, current)

	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"message":  "Event processed",
		"outcome":  res.Outcome,
		"order_id": res.OrderID,
	})
}

func (h *WebhookHandler) putRecord(ctx context.Context, record *models.EventRecord) {
	if err := h.events.Put(ctx, record); err != nil {
		h.logger.Warn("Failed to store event record",
			zap.String("event_id", record.EventID),
			zap.Error(err),
		)
	}
}

// intentFromCharge projects a charge event onto the intent shape the
// reconciler consumes. Charge events carry no metadata, so correlation
// runs on the payment intent id alone.
func intentFromCharge(charge *models.Charge) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:             charge.PaymentIntent,
		Amount:         charge.Amount,
		AmountReceived: charge.AmountCaptured,
		Status:         models.PaymentIntentStatusSucceeded,
		Metadata:       map[string]string{},
		Charges:        models.ChargeList{Data: []models.Charge{*charge}},
	}
}
