package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"reconciler-svc/medusa"
	"reconciler-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ConfirmHandler lets the storefront request reconciliation right after
// the client-side payment flow completes, instead of waiting for
// webhook delivery. The client's claim of success is never trusted; the
// intent status is re-verified with the provider first.
type ConfirmHandler struct {
	provider   ProviderClient
	reconciler Reconciler
	logger     *zap.Logger
}

func NewConfirmHandler(provider ProviderClient, reconciler Reconciler, logger *zap.Logger) *ConfirmHandler {
	return &ConfirmHandler{
		provider:   provider,
		reconciler: reconciler,
		logger:     logger,
	}
}

func (h *ConfirmHandler) Confirm(c *gin.Context) {
	ctx, span := otel.Tracer("reconciler-svc").Start(c.Request.Context(), "ConfirmPayment")
	defer span.End()

	var req models.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ConfirmPaymentResponse{
			Success: false,
			Error:   "payment_intent_id is required",
		})
		return
	}

	span.SetAttributes(attribute.String("payment_intent.id", req.PaymentIntentID))

	intent, err := h.provider.RetrievePaymentIntent(ctx, req.PaymentIntentID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to verify payment with provider",
			zap.String("payment_intent_id", req.PaymentIntentID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, models.ConfirmPaymentResponse{
			Success: false,
			Error:   "Could not verify payment with provider",
		})
		return
	}

	if intent.Status != models.PaymentIntentStatusSucceeded {
		c.JSON(http.StatusBadRequest, models.ConfirmPaymentResponse{
			Success:       false,
			Error:         fmt.Sprintf("Payment not successful. Status: %s", intent.Status),
			PaymentStatus: string(intent.Status),
		})
		return
	}

	res := h.reconciler.Confirm(ctx, models.SourceConfirmation, intent, req.OrderID)

	switch res.Outcome {
	case models.OutcomeUnresolvable:
		c.JSON(http.StatusBadRequest, models.ConfirmPaymentResponse{
			Success:         false,
			Error:           "No order_id found in request or payment metadata",
			PaymentIntentID: intent.ID,
		})

	case models.OutcomeFailed:
		span.RecordError(res.Err)
		if errors.Is(res.Err, medusa.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ConfirmPaymentResponse{
				Success: false,
				Error:   res.Message,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ConfirmPaymentResponse{
			Success: false,
			Error:   "Payment confirmation failed",
		})

	case models.OutcomeAlreadyReconciled:
		c.JSON(http.StatusOK, models.ConfirmPaymentResponse{
			Success:          true,
			Message:          "Payment already confirmed",
			OrderID:          res.OrderID,
			PaymentIntentID:  intent.ID,
			PaymentStatus:    string(models.PaymentStatusCaptured),
			AlreadyProcessed: true,
		})

	default:
		c.JSON(http.StatusOK, models.ConfirmPaymentResponse{
			Success:         true,
			Message:         "Payment confirmed successfully",
			OrderID:         res.OrderID,
			PaymentIntentID: intent.ID,
			PaymentStatus:   string(models.PaymentStatusCaptured),
			Amount:          intent.Amount,
			Currency:        intent.Currency,
			ReceiptURL:      intent.ReceiptURL(),
			ConfirmedAt:     time.Now().UTC().Format(time.RFC3339),
		})
	}
}
