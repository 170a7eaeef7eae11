package handlers

import (
	"context"
	"time"

	"reconciler-svc/models"
)

// Reconciler is the reconciliation surface handlers dispatch into.
type Reconciler interface {
	ReconcileSucceeded(ctx context.Context, source string, intent *models.PaymentIntent) models.ReconcileResult
	Confirm(ctx context.Context, source string, intent *models.PaymentIntent, explicitOrderID string) models.ReconcileResult
	SyncTerminalStatus(ctx context.Context, source, eventType string, intent *models.PaymentIntent) models.ReconcileResult
}

// ProviderClient is the payment-provider surface handlers need.
type ProviderClient interface {
	RetrievePaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	ListSucceededEvents(ctx context.Context, since time.Time, limit int) ([]models.Event, error)
}

// EventRecordStore holds webhook event idempotency records.
type EventRecordStore interface {
	Get(ctx context.Context, eventID string) (*models.EventRecord, error)
	Put(ctx context.Context, record *models.EventRecord) error
}

// RecordLister exposes the durable reconciliation rows for ops.
type RecordLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.ReconciliationRecord, error)
}
