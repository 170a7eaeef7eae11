package models

import "encoding/json"

type PaymentIntentStatus string

const (
	PaymentIntentStatusSucceeded      PaymentIntentStatus = "succeeded"
	PaymentIntentStatusProcessing     PaymentIntentStatus = "processing"
	PaymentIntentStatusRequiresAction PaymentIntentStatus = "requires_action"
	PaymentIntentStatusCanceled       PaymentIntentStatus = "canceled"
)

const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventPaymentIntentCanceled  = "payment_intent.canceled"
	EventChargeSucceeded        = "charge.succeeded"
)

// PaymentIntent is the provider's payment record. Amounts are integer
// minor units (cents).
type PaymentIntent struct {
	ID                 string              `json:"id"`
	Amount             int64               `json:"amount"`
	AmountReceived     int64               `json:"amount_received"`
	Currency           string              `json:"currency"`
	Status             PaymentIntentStatus `json:"status"`
	Description        string              `json:"description"`
	ReceiptEmail       string              `json:"receipt_email"`
	Metadata           map[string]string   `json:"metadata"`
	CancellationReason string              `json:"cancellation_reason"`
	LastPaymentError   *PaymentError       `json:"last_payment_error"`
	Charges            ChargeList          `json:"charges"`
}

type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ChargeList struct {
	Data []Charge `json:"data"`
}

type Charge struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountCaptured int64  `json:"amount_captured"`
	Captured       bool   `json:"captured"`
	ReceiptURL     string `json:"receipt_url"`
	PaymentIntent  string `json:"payment_intent"`
}

// ReceiptURL returns the receipt reference from the first charge, if any.
func (p *PaymentIntent) ReceiptURL() string {
	if len(p.Charges.Data) > 0 {
		return p.Charges.Data[0].ReceiptURL
	}
	return ""
}

// Event is a provider webhook/listing event envelope.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

type EventData struct {
	Object json.RawMessage `json:"object"`
}

// PaymentIntent decodes the event payload as a payment intent.
func (e *Event) PaymentIntent() (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := json.Unmarshal(e.Data.Object, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// Charge decodes the event payload as a charge.
func (e *Event) Charge() (*Charge, error) {
	var charge Charge
	if err := json.Unmarshal(e.Data.Object, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// EventRecordStatus tracks webhook event processing for idempotency.
type EventRecordStatus string

const (
	EventRecordProcessing EventRecordStatus = "processing"
	EventRecordCompleted  EventRecordStatus = "completed"
	EventRecordFailed     EventRecordStatus = "failed"
)

type EventRecord struct {
	EventID      string            `json:"event_id"`
	Status       EventRecordStatus `json:"status"`
	OrderID      string            `json:"order_id,omitempty"`
	AttemptCount int               `json:"attempt_count"`
	LastError    string            `json:"last_error,omitempty"`
	ProcessedAt  string            `json:"processed_at"`
}
