package models

import "time"

// Outcome is the terminal result of one reconciliation attempt.
type Outcome string

const (
	OutcomeAlreadyReconciled Outcome = "already_reconciled"
	OutcomeOrderUpdated      Outcome = "order_updated"
	OutcomeOrderCreated      Outcome = "order_created"
	OutcomeUnresolvable      Outcome = "unresolvable"
	OutcomeFailed            Outcome = "failed"
)

// Reconciliation entry points, recorded with every outcome.
const (
	SourceWebhook      = "webhook"
	SourcePoller       = "poller"
	SourceManual       = "manual"
	SourceConfirmation = "confirmation"
)

// ReconcileResult is what one reconciliation attempt produced.
// Err is populated only for OutcomeFailed.
type ReconcileResult struct {
	Outcome  Outcome `json:"outcome"`
	OrderID  string  `json:"order_id,omitempty"`
	Degraded bool    `json:"degraded,omitempty"`
	Message  string  `json:"message,omitempty"`
	Err      error   `json:"-"`
}

// ReconciliationRecord is the durable per-correlation-identifier row
// kept in Postgres, one per payment intent.
type ReconciliationRecord struct {
	PaymentIntentID string    `json:"payment_intent_id"`
	OrderID         string    `json:"order_id,omitempty"`
	Outcome         Outcome   `json:"outcome"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Source          string    `json:"source"`
	AttemptCount    int       `json:"attempt_count"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// ReconciliationEvent is published to Kafka after a mutating outcome.
type ReconciliationEvent struct {
	EventType       string  `json:"event_type"` // payment_reconciled
	PaymentIntentID string  `json:"payment_intent_id"`
	OrderID         string  `json:"order_id"`
	Outcome         Outcome `json:"outcome"`
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	Source          string  `json:"source"`
}

type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
	OrderID         string `json:"order_id"`
}

type ConfirmPaymentResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message,omitempty"`
	OrderID          string `json:"order_id,omitempty"`
	PaymentIntentID  string `json:"payment_intent_id,omitempty"`
	PaymentStatus    string `json:"payment_status,omitempty"`
	Amount           int64  `json:"amount,omitempty"`
	Currency         string `json:"currency,omitempty"`
	ReceiptURL       string `json:"receipt_url,omitempty"`
	ConfirmedAt      string `json:"confirmed_at,omitempty"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	Error            string `json:"error,omitempty"`
}

type ProcessPendingRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

type PendingOrderResult struct {
	OrderID       string  `json:"order_id"`
	Type          string  `json:"type"` // updated, created, created_fallback
	PaymentAmount float64 `json:"payment_amount"`
}

type PendingSummary struct {
	Success      bool                 `json:"success"`
	Checked      int                  `json:"checked"`
	Processed    int                  `json:"processed"`
	Skipped      int                  `json:"skipped"`
	Failed       int                  `json:"failed"`
	Unresolvable int                  `json:"unresolvable"`
	Orders       []PendingOrderResult `json:"orders"`
	Message      string               `json:"message"`
}
