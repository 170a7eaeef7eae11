package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"reconciler-svc/kafka"
	"reconciler-svc/medusa"
	"reconciler-svc/middleware"
	"reconciler-svc/models"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderStore is the order-side surface the reconciler needs from the
// commerce backend.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	FindOrderByMetadata(ctx context.Context, key, value string) (*models.Order, error)
	UpdateOrderMetadata(ctx context.Context, id string, metadata map[string]any) (*models.Order, error)
	CreateOrder(ctx context.Context, input models.CreateOrderInput) (*models.Order, error)
	CompleteCart(ctx context.Context, cartID string) (*models.Order, error)
}

// OutcomeRecorder persists the durable per-intent reconciliation row.
type OutcomeRecorder interface {
	Record(ctx context.Context, rec models.ReconciliationRecord) error
}

// Reconciler ensures exactly one order reflects each succeeded payment
// event. It is safe to invoke repeatedly for the same event: the
// captured-flag check runs before any mutation, so replays are no-ops.
type Reconciler struct {
	store    OrderStore
	records  OutcomeRecorder
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func New(store OrderStore, records OutcomeRecorder, producer sarama.SyncProducer, topic string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		records:  records,
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// ReconcileSucceeded processes one succeeded payment intent from any
// entry point. The caller filters non-success events.
func (r *Reconciler) ReconcileSucceeded(ctx context.Context, source string, intent *models.PaymentIntent) models.ReconcileResult {
	ctx, span := otel.Tracer("reconciler").Start(ctx, "ReconcileSucceeded")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment_intent.id", intent.ID),
		attribute.String("source", source),
	)

	orderID := intent.Metadata["order_id"]
	cartID := intent.Metadata["cart_id"]

	order, failed := r.locateOrder(ctx, intent, orderID, cartID)
	if failed != nil {
		return r.finish(ctx, source, intent, *failed)
	}

	if order != nil {
		if order.Captured() {
			return r.finish(ctx, source, intent, models.ReconcileResult{
				Outcome: models.OutcomeAlreadyReconciled,
				OrderID: order.ID,
				Message: "payment already captured",
			})
		}
		return r.finish(ctx, source, intent, r.stampCapture(ctx, order, intent, models.OutcomeOrderUpdated, false))
	}

	// No order yet. A cart identifier means checkout started but never
	// completed; run the backend's native completion and fall back to a
	// synthesized order if the cart did not survive.
	if cartID != "" {
		completed, err := r.store.CompleteCart(ctx, cartID)
		if err == nil {
			return r.finish(ctx, source, intent, r.stampCapture(ctx, completed, intent, models.OutcomeOrderCreated, false))
		}
		r.logger.Warn("Cart completion failed, synthesizing fallback order",
			zap.String("payment_intent_id", intent.ID),
			zap.String("cart_id", cartID),
			zap.Error(err),
		)
		return r.finish(ctx, source, intent, r.createFallbackOrder(ctx, intent, cartID))
	}

	if orderID != "" {
		err := fmt.Errorf("order %s not found in store", orderID)
		r.logger.Error("Reconciliation target missing",
			zap.String("payment_intent_id", intent.ID),
			zap.String("order_id", orderID),
			zap.String("operation", "get_order"),
		)
		return r.finish(ctx, source, intent, models.ReconcileResult{
			Outcome: models.OutcomeFailed,
			Message: err.Error(),
			Err:     err,
		})
	}

	return r.finish(ctx, source, intent, models.ReconcileResult{
		Outcome: models.OutcomeUnresolvable,
		Message: "no correlation identifier in payment metadata",
	})
}

// Confirm is the client-synchronous path. It only confirms against an
// order some other path already created; with less context than the
// webhook path it never synthesizes one.
func (r *Reconciler) Confirm(ctx context.Context, source string, intent *models.PaymentIntent, explicitOrderID string) models.ReconcileResult {
	ctx, span := otel.Tracer("reconciler").Start(ctx, "Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("payment_intent.id", intent.ID))

	targetID := explicitOrderID
	if targetID == "" {
		targetID = intent.Metadata["order_id"]
	}
	if targetID == "" {
		return r.finish(ctx, source, intent, models.ReconcileResult{
			Outcome: models.OutcomeUnresolvable,
			Message: "no order_id in request or payment metadata",
		})
	}

	order, err := r.store.GetOrder(ctx, targetID)
	if err != nil {
		if errors.Is(err, medusa.ErrNotFound) {
			return r.finish(ctx, source, intent, models.ReconcileResult{
				Outcome: models.OutcomeFailed,
				Message: fmt.Sprintf("order not found: %s", targetID),
				Err:     err,
			})
		}
		r.logger.Error("Order lookup failed",
			zap.String("payment_intent_id", intent.ID),
			zap.String("order_id", targetID),
			zap.String("operation", "get_order"),
			zap.Error(err),
		)
		return r.finish(ctx, source, intent, models.ReconcileResult{
			Outcome: models.OutcomeFailed,
			Message: "order store lookup failed",
			Err:     err,
		})
	}

	if order.Captured() {
		return r.finish(ctx, source, intent, models.ReconcileResult{
			Outcome: models.OutcomeAlreadyReconciled,
			OrderID: order.ID,
			Message: "payment already confirmed",
		})
	}

	return r.finish(ctx, source, intent, r.stampCapture(ctx, order, intent, models.OutcomeOrderUpdated, false))
}

// SyncTerminalStatus mirrors a non-success terminal payment state onto
// an existing order. It never creates orders.
func (r *Reconciler) SyncTerminalStatus(ctx context.Context, source, eventType string, intent *models.PaymentIntent) models.ReconcileResult {
	ctx, span := otel.Tracer("reconciler").Start(ctx, "SyncTerminalStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment_intent.id", intent.ID),
		attribute.String("event.type", eventType),
	)

	order, failed := r.locateOrder(ctx, intent, intent.Metadata["order_id"], "")
	if failed != nil {
		return r.finish(ctx, source, intent, *failed)
	}
	if order == nil {
		return r.finish(ctx, source, intent, models.ReconcileResult{
			Outcome: models.OutcomeUnresolvable,
			Message: fmt.Sprintf("no order associated with payment %s", intent.ID),
		})
	}

	now := time.Now().UTC().Format(time.RFC3339)
	metadata := cloneMetadata(order.Metadata)
	metadata[models.MetaPaymentIntentID] = intent.ID

	var entry models.ActivityEntry
	switch eventType {
	case models.EventPaymentIntentCanceled:
		metadata[models.MetaPaymentStatus] = string(models.PaymentStatusCanceled)
		metadata["payment_canceled_at"] = now
		if intent.CancellationReason != "" {
			metadata["cancellation_reason"] = intent.CancellationReason
		}
		entry = models.ActivityEntry{
			Timestamp: now,
			Action:    "payment_canceled",
			Details:   fmt.Sprintf("Payment %s canceled (%s)", intent.ID, intent.CancellationReason),
			Status:    string(models.PaymentStatusCanceled),
		}
	default:
		metadata[models.MetaPaymentCaptured] = false
		metadata[models.MetaPaymentStatus] = string(models.PaymentStatusFailed)
		metadata["payment_failed_at"] = now
		errMsg := "Payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Message != "" {
			errMsg = intent.LastPaymentError.Message
		}
		metadata["last_payment_error"] = errMsg
		entry = models.ActivityEntry{
			Timestamp: now,
			Action:    "payment_failed",
			Details:   errMsg,
			Status:    string(models.PaymentStatusFailed),
		}
	}
	metadata[models.MetaActivityLog] = appendActivity(order.Metadata, entry)

	if _, err := r.store.UpdateOrderMetadata(ctx, order.ID, metadata); err != nil {
		r.logger.Error("Failed to sync payment status",
			zap.String("payment_intent_id", intent.ID),
			zap.String("order_id", order.ID),
			zap.String("operation", "update_order_metadata"),
			zap.Error(err),
		)
		return r.finish(ctx, source, intent, models.ReconcileResult{
			Outcome: models.OutcomeFailed,
			OrderID: order.ID,
			Message: "order store update failed",
			Err:     err,
		})
	}

	return r.finish(ctx, source, intent, models.ReconcileResult{
		Outcome: models.OutcomeOrderUpdated,
		OrderID: order.ID,
		Message: fmt.Sprintf("payment status synced from %s", eventType),
	})
}

// locateOrder resolves the correlation identifier to an order: explicit
// order id first, then cart id tag, then the payment intent id itself.
// Returns (nil, nil) when nothing matched, or a Failed result on a
// store error.
func (r *Reconciler) locateOrder(ctx context.Context, intent *models.PaymentIntent, orderID, cartID string) (*models.Order, *models.ReconcileResult) {
	if orderID != "" {
		order, err := r.store.GetOrder(ctx, orderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, medusa.ErrNotFound) {
			return nil, r.lookupFailure(intent, orderID, "get_order", err)
		}
	}

	if cartID != "" {
		order, err := r.store.FindOrderByMetadata(ctx, models.MetaCartID, cartID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, medusa.ErrNotFound) {
			return nil, r.lookupFailure(intent, cartID, "find_order_by_cart", err)
		}
	}

	order, err := r.store.FindOrderByMetadata(ctx, models.MetaPaymentIntentID, intent.ID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, medusa.ErrNotFound) {
		return nil, r.lookupFailure(intent, intent.ID, "find_order_by_payment_intent", err)
	}

	return nil, nil
}

func (r *Reconciler) lookupFailure(intent *models.PaymentIntent, correlationID, operation string, err error) *models.ReconcileResult {
	r.logger.Error("Order lookup failed",
		zap.String("payment_intent_id", intent.ID),
		zap.String("correlation_id", correlationID),
		zap.String("operation", operation),
		zap.Error(err),
	)
	return &models.ReconcileResult{
		Outcome: models.OutcomeFailed,
		Message: "order store lookup failed",
		Err:     err,
	}
}

// stampCapture merges capture metadata over the order's current bag and
// appends one activity-log entry. Prior entries are never replaced.
func (r *Reconciler) stampCapture(ctx context.Context, order *models.Order, intent *models.PaymentIntent, outcome models.Outcome, degraded bool) models.ReconcileResult {
	now := time.Now().UTC().Format(time.RFC3339)

	details := fmt.Sprintf("Payment of %.2f %s confirmed",
		float64(intent.Amount)/100, strings.ToUpper(intent.Currency))

	if order.Total > 0 {
		orderMinor := int64(math.Round(order.Total * 100))
		if diff := intent.Amount - orderMinor; diff > 1 || diff < -1 {
			r.logger.Warn("Payment amount differs from order total",
				zap.String("payment_intent_id", intent.ID),
				zap.String("order_id", order.ID),
				zap.Int64("payment_amount", intent.Amount),
				zap.Int64("order_amount", orderMinor),
			)
			details += fmt.Sprintf("; amount differs from order total by %d minor units", diff)
		}
	}

	metadata := cloneMetadata(order.Metadata)
	metadata[models.MetaPaymentCaptured] = true
	metadata[models.MetaPaymentStatus] = string(models.PaymentStatusCaptured)
	metadata[models.MetaPaymentIntentID] = intent.ID
	metadata[models.MetaPaymentConfirmedAt] = now
	metadata["provider_payment_status"] = string(intent.Status)
	metadata["provider_amount_received"] = amountReceived(intent)
	metadata["provider_currency"] = intent.Currency
	metadata["ready_for_fulfillment"] = true
	if receipt := intent.ReceiptURL(); receipt != "" {
		metadata[models.MetaReceiptURL] = receipt
	}
	metadata[models.MetaActivityLog] = appendActivity(order.Metadata, models.ActivityEntry{
		Timestamp: now,
		Action:    "payment_confirmed",
		Details:   details,
		Status:    string(models.PaymentStatusCaptured),
	})

	if _, err := r.store.UpdateOrderMetadata(ctx, order.ID, metadata); err != nil {
		r.logger.Error("Failed to stamp payment capture",
			zap.String("payment_intent_id", intent.ID),
			zap.String("order_id", order.ID),
			zap.String("operation", "update_order_metadata"),
			zap.Error(err),
		)
		return models.ReconcileResult{
			Outcome: models.OutcomeFailed,
			OrderID: order.ID,
			Message: "order store update failed",
			Err:     err,
		}
	}

	return models.ReconcileResult{
		Outcome:  outcome,
		OrderID:  order.ID,
		Degraded: degraded,
	}
}

// createFallbackOrder synthesizes a minimal order from the payment
// itself. Cart state is not guaranteed to survive between payment
// initiation and event delivery; this path keeps the payment from
// going orderless.
func (r *Reconciler) createFallbackOrder(ctx context.Context, intent *models.PaymentIntent, cartID string) models.ReconcileResult {
	now := time.Now().UTC().Format(time.RFC3339)

	email := intent.Metadata["email"]
	if email == "" {
		email = intent.ReceiptEmail
	}
	if email == "" {
		email = "noemail@example.com"
	}

	currency := intent.Currency
	if currency == "" {
		currency = "usd"
	}

	total := float64(intent.Amount) / 100

	title := intent.Description
	if title == "" {
		title = "Order from " + email
	}

	input := models.CreateOrderInput{
		Email:        email,
		CurrencyCode: currency,
		Total:        total,
		Subtotal:     total,
		Items: []models.OrderItemInput{{
			Title:     title,
			Quantity:  1,
			UnitPrice: total,
			Metadata: map[string]any{
				models.MetaPaymentIntentID: intent.ID,
				models.MetaCreatedFrom:     "fallback",
			},
		}},
		Metadata: map[string]any{
			models.MetaCartID:          orDefault(cartID, "no-cart"),
			models.MetaPaymentIntentID: intent.ID,
			models.MetaPaymentCaptured: true,
			models.MetaPaymentStatus:   string(models.PaymentStatusCaptured),
			models.MetaCreatedFrom:     "fallback",
			"provider_amount":          intent.Amount,
			"processed_at":             now,
			models.MetaActivityLog: []models.ActivityEntry{{
				Timestamp: now,
				Action:    "order_created_from_payment",
				Details: fmt.Sprintf("Fallback order synthesized from payment %s (%.2f %s)",
					intent.ID, total, strings.ToUpper(currency)),
				Status: string(models.PaymentStatusCaptured),
			}},
		},
	}

	created, err := r.store.CreateOrder(ctx, input)
	if err != nil {
		r.logger.Error("Failed to create fallback order",
			zap.String("payment_intent_id", intent.ID),
			zap.String("cart_id", cartID),
			zap.String("operation", "create_order"),
			zap.Error(err),
		)
		return models.ReconcileResult{
			Outcome: models.OutcomeFailed,
			Message: "fallback order creation failed",
			Err:     err,
		}
	}

	r.logger.Info("Fallback order created",
		zap.String("payment_intent_id", intent.ID),
		zap.String("order_id", created.ID),
	)
	return models.ReconcileResult{
		Outcome:  models.OutcomeOrderCreated,
		OrderID:  created.ID,
		Degraded: true,
		Message:  "order synthesized from payment",
	}
}

// finish records the terminal outcome, publishes mutating outcomes, and
// bumps metrics. Record and publish failures are logged, not surfaced:
// the reconciliation itself already reached a terminal state.
func (r *Reconciler) finish(ctx context.Context, source string, intent *models.PaymentIntent, res models.ReconcileResult) models.ReconcileResult {
	if err := r.records.Record(ctx, models.ReconciliationRecord{
		PaymentIntentID: intent.ID,
		OrderID:         res.OrderID,
		Outcome:         res.Outcome,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Source:          source,
	}); err != nil {
		r.logger.Error("Failed to record reconciliation outcome",
			zap.String("payment_intent_id", intent.ID),
			zap.Error(err),
		)
	}

	if r.producer != nil && (res.Outcome == models.OutcomeOrderUpdated || res.Outcome == models.OutcomeOrderCreated) {
		event := models.ReconciliationEvent{
			EventType:       "payment_reconciled",
			PaymentIntentID: intent.ID,
			OrderID:         res.OrderID,
			Outcome:         res.Outcome,
			Amount:          intent.Amount,
			Currency:        intent.Currency,
			Source:          source,
		}
		if err := kafka.PublishEvent(ctx, r.producer, r.topic, event, r.logger); err != nil {
			r.logger.Error("Failed to publish reconciliation event",
				zap.String("payment_intent_id", intent.ID),
				zap.Error(err),
			)
		}
	}

	middleware.RecordReconciliationOutcome(string(res.Outcome), source)

	r.logger.Info("Reconciliation finished",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("payment_intent_id", intent.ID),
		zap.String("source", source),
		zap.String("outcome", string(res.Outcome)),
		zap.String("order_id", res.OrderID),
		zap.Bool("degraded", res.Degraded),
	)
	return res
}

func cloneMetadata(metadata map[string]any) map[string]any {
	clone := make(map[string]any, len(metadata)+12)
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}

// appendActivity returns the order's activity log with one new entry
// appended. The existing log may arrive as []any from JSON decoding.
func appendActivity(metadata map[string]any, entry models.ActivityEntry) []any {
	var log []any
	if metadata != nil {
		if existing, ok := metadata[models.MetaActivityLog].([]any); ok {
			log = append(log, existing...)
		}
	}
	return append(log, entry)
}

func amountReceived(intent *models.PaymentIntent) int64 {
	if intent.AmountReceived > 0 {
		return intent.AmountReceived
	}
	return intent.Amount
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
