package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"reconciler-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultLookback  = 2 * time.Hour
	maxLookbackHours = 24
	pageLimit        = 50
)

// PendingPaymentsHandler is the catch-up path for deliveries the
// webhook missed: it pulls recent succeeded events straight from the
// provider and runs each through the reconciler.
type PendingPaymentsHandler struct {
	provider   ProviderClient
	reconciler Reconciler
	logger     *zap.Logger
}

func NewPendingPaymentsHandler(provider ProviderClient, reconciler Reconciler, logger *zap.Logger) *PendingPaymentsHandler {
	return &PendingPaymentsHandler{
		provider:   provider,
		reconciler: reconciler,
		logger:     logger,
	}
}

// ProcessRecent handles the bulk trigger. One event's failure never
// aborts the batch; every event is accounted for in the summary.
func (h *PendingPaymentsHandler) ProcessRecent(c *gin.Context) {
	ctx, span := otel.Tracer("reconciler-svc").Start(c.Request.Context(), "ProcessPendingPayments")
	defer span.End()

	lookback := defaultLookback
	if raw := c.Query("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 1 || hours > maxLookbackHours {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   fmt.Sprintf("hours must be between 1 and %d", maxLookbackHours),
			})
			return
		}
		lookback = time.Duration(hours) * time.Hour
	}

	events, err := h.provider.ListSucceededEvents(ctx, time.Now().Add(-lookback), pageLimit)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list payment events", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "Failed to list payment events",
		})
		return
	}

	span.SetAttributes(attribute.Int("events.count", len(events)))

	summary := models.PendingSummary{
		Success: true,
		Checked: len(events),
		Orders:  []models.PendingOrderResult{},
	}

	for _, event := range events {
		intent, err := event.PaymentIntent()
		if err != nil {
			h.logger.Error("Skipping undecodable event",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			summary.Failed++
			continue
		}

		res := h.reconciler.ReconcileSucceeded(ctx, models.SourcePoller, intent)
		switch res.Outcome {
		case models.OutcomeAlreadyReconciled:
			summary.Skipped++
		case models.OutcomeOrderUpdated:
			summary.Processed++
			summary.Orders = append(summary.Orders, models.PendingOrderResult{
				OrderID:       res.OrderID,
				Type:          "updated",
				PaymentAmount: float64(intent.Amount) / 100,
			})
		case models.OutcomeOrderCreated:
			summary.Processed++
			orderType := "created"
			if res.Degraded {
				orderType = "created_fallback"
			}
			summary.Orders = append(summary.Orders, models.PendingOrderResult{
				OrderID:       res.OrderID,
				Type:          orderType,
				PaymentAmount: float64(intent.Amount) / 100,
			})
		case models.OutcomeUnresolvable:
			summary.Unresolvable++
		default:
			summary.Failed++
		}
	}

	summary.Message = fmt.Sprintf("Processed %d payments, skipped %d (already processed)",
		summary.Processed, summary.Skipped)

	c.JSON(http.StatusOK, summary)
}

// ProcessOne handles the manual single-event trigger.
func (h *PendingPaymentsHandler) ProcessOne(c *gin.Context) {
	ctx, span := otel.Tracer("reconciler-svc").Start(c.Request.Context(), "ProcessPendingPayment")
	defer span.End()

	var req models.ProcessPendingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "payment_intent_id required in request body",
		})
		return
	}

	span.SetAttributes(attribute.String("payment_intent.id", req.PaymentIntentID))

	intent, err := h.provider.RetrievePaymentIntent(ctx, req.PaymentIntentID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to retrieve payment intent",
			zap.String("payment_intent_id", req.PaymentIntentID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "Failed to retrieve payment intent",
		})
		return
	}

	if intent.Status != models.PaymentIntentStatusSucceeded {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Payment intent status is %s, not succeeded", intent.Status),
		})
		return
	}

	res := h.reconciler.ReconcileSucceeded(ctx, models.SourceManual, intent)
	if res.Outcome == models.OutcomeFailed {
		span.RecordError(res.Err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   res.Message,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"outcome":  res.Outcome,
		"order_id": res.OrderID,
		"amount":   float64(intent.Amount) / 100,
	})
}
