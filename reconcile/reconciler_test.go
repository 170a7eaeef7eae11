package reconcile

import (
	"context"
	"errors"
	"testing"

	"reconciler-svc/medusa"
	"reconciler-svc/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Mock OrderStore for testing.
type mockOrderStore struct {
	getOrderFunc     func(ctx context.Context, id string) (*models.Order, error)
	findFunc         func(ctx context.Context, key, value string) (*models.Order, error)
	updateFunc       func(ctx context.Context, id string, metadata map[string]any) (*models.Order, error)
	createFunc       func(ctx context.Context, input models.CreateOrderInput) (*models.Order, error)
	completeCartFunc func(ctx context.Context, cartID string) (*models.Order, error)

	updateCalls int
	createCalls int
}

func (m *mockOrderStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if m.getOrderFunc != nil {
		return m.getOrderFunc(ctx, id)
	}
	return nil, medusa.ErrNotFound
}

func (m *mockOrderStore) FindOrderByMetadata(ctx context.Context, key, value string) (*models.Order, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, key, value)
	}
	return nil, medusa.ErrNotFound
}

func (m *mockOrderStore) UpdateOrderMetadata(ctx context.Context, id string, metadata map[string]any) (*models.Order, error) {
	m.updateCalls++
	if m.updateFunc != nil {
		return m.updateFunc(ctx, id, metadata)
	}
	return &models.Order{ID: id, Metadata: metadata}, nil
}

func (m *mockOrderStore) CreateOrder(ctx context.Context, input models.CreateOrderInput) (*models.Order, error) {
	m.createCalls++
	if m.createFunc != nil {
		return m.createFunc(ctx, input)
	}
	return &models.Order{ID: "order_new", Metadata: input.Metadata}, nil
}

func (m *mockOrderStore) CompleteCart(ctx context.Context, cartID string) (*models.Order, error) {
	if m.completeCartFunc != nil {
		return m.completeCartFunc(ctx, cartID)
	}
	return nil, errors.New("cart completion unavailable")
}

type stubRecorder struct {
	records []models.ReconciliationRecord
}

func (s *stubRecorder) Record(ctx context.Context, rec models.ReconciliationRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func newTestReconciler(t *testing.T, store *mockOrderStore) (*Reconciler, *stubRecorder) {
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	recorder := &stubRecorder{}
	return New(store, recorder, nil, "payment_events", logger), recorder
}

func succeededIntent(metadata map[string]string) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:       "pi_1",
		Amount:   5000,
		Currency: "usd",
		Status:   models.PaymentIntentStatusSucceeded,
		Metadata: metadata,
	}
}

func TestReconcileSucceeded_UpdatesOrder(t *testing.T) {
	var stamped map[string]any
	store := &mockOrderStore{
		getOrderFunc: func(ctx context.Context, id string) (*models.Order, error) {
			if id != "order_42" {
				t.Errorf("Expected lookup of order_42, got %s", id)
			}
			return &models.Order{ID: "order_42", Total: 50.00, Metadata: map[string]any{}}, nil
		},
		updateFunc: func(ctx context.Context, id string, metadata map[string]any) (*models.Order, error) {
			stamped = metadata
			return &models.Order{ID: id, Metadata: metadata}, nil
		},
	}
	r, recorder := newTestReconciler(t, store)

	res := r.ReconcileSucceeded(context.Background(), models.SourceWebhook, succeededIntent(map[string]string{"order_id": "order_42"}))

	if res.Outcome != models.OutcomeOrderUpdated {
		t.Fatalf("Expected outcome %s, got %s", models.OutcomeOrderUpdated, res.Outcome)
	}
	if res.OrderID != "order_42" {
		t.Errorf("Expected order_42, got %s", res.OrderID)
	}
	if captured, _ := stamped[models.MetaPaymentCaptured].(bool); !captured {
		t.Error("Expected payment_captured to be stamped true")
	}
	if stamped[models.MetaPaymentIntentID] != "pi_1" {
		t.Errorf("Expected payment_intent_id pi_1, got %v", stamped[models.MetaPaymentIntentID])
	}
	log, ok := stamped[models.MetaActivityLog].([]any)
	if !ok || len(log) != 1 {
		t.Fatalf("Expected exactly one activity log entry, got %v", stamped[models.MetaActivityLog])
	}
	entry, ok := log[0].(models.ActivityEntry)
	if !ok || entry.Action != "payment_confirmed" {
		t.Errorf("Expected payment_confirmed entry, got %v", log[0])
	}
	if len(recorder.records) != 1 || recorder.records[0].Outcome != models.OutcomeOrderUpdated {
		t.Errorf("Expected one order_updated record, got %v", recorder.records)
	}
}

func TestReconcileSucceeded_Idempotent(t *testing.T) {
	store := &mockOrderStore{
		getOrderFunc: func(ctx context.Context, id string) (*models.Order, error) {
			return &models.Order{
				ID:       "order_42",
				Metadata: map[string]any{models.MetaPaymentCaptured: true},
			}, nil
		},
	}
	r, _ := newTestReconciler(t, store)

	res := r.ReconcileSucceeded(context.Background(), models.SourceWebhook, succeededIntent(map[string]string{"order_id": "order_42"}))

	if res.Outcome != models.OutcomeAlreadyReconciled {
		t.Fatalf("Expected outcome %s, got %s", models.OutcomeAlreadyReconciled, res.Outcome)
	}
	if store.updateCalls != 0 {
		t.Errorf("Expected no mutation on replay, got %d update calls", store.updateCalls)
	}
	if store.createCalls != 0 {
		t.Errorf("Expected no creation on replay, got %d create calls", store.createCalls)
	}
}

func TestReconcileSucceeded_ActivityLogAppends(t *testing.T) {
	existing := []any{map[string]any{"action": "order_placed"}}
	var stamped map[string]any
	store := &mockOrderStore{
		getOrderFunc: func(ctx context.Context, id string) (*models.Order, error) {
			return &models.Order{
				ID:       "order_42",
				Metadata: map[string]any{models.MetaActivityLog: existing},
			}, nil
		},
		updateFunc: func(ctx context.Context, id string, metadata map[string]any) (*models.Order, error) {
			stamped = metadata
			return &models.Order{ID: id, Metadata: metadata}, nil
		},
	}
	r, _ := newTestReconciler(t, store)

	res := r.ReconcileSucceeded(context.Background(), models.SourceWebhook, succeededIntent(map[string]string{"order_id": "order_42"}))

	if res.Outcome != models.OutcomeOrderUpdated {
		t.Fatalf("Expected order_updated, got %s", res.Outcome)
	}
	log, _ := stamped[models.MetaActivityLog].([]any)
	if len(log) != 2 {
		t.Fatalf("Expected prior entry preserved plus one new entry, got %d entries", len(log))
	}
}

func TestReconcileSucceeded_Unresolvable(t *testing.T) {
	store := &mockOrderStore{}
	r, recorder := newTestReconciler(t, store)

	res := r.ReconcileSucceeded(context.Background(), models.SourceWebhook, succeededIntent(map[string]string{}))

	if res.Outcome != models.OutcomeUnresolvable {
		t.Fatalf("Expected outcome %s, got %s", models.OutcomeUnresolvable, res.Outcome)
	}
	if store.updateCalls != 0 || store.createCalls != 0 {
		t.Error("Unresolvable event must not mutate the order store")
	}
	if len(recorder.records) != 1 || recorder.records[0].Outcome != models.OutcomeUnresolvable {
		t.Errorf("Expected unresolvable record for follow-up, got %v", recorder.records)
	}
}

func TestReconcileSucceeded_CartCompletion(t *testing.T) {
	store := &mockOrderStore{
		completeCartFunc: func(ctx context.Context, cartID string) (*models.Order, error) {
			if cartID != "cart_9" {
				t.Errorf("Expected cart_9, got %s", cartID)
			}
			return &models.Order{ID: "order_77", Total: 50.00, Metadata: map[string]any{}}, nil
		},
	}
	r, _ := newTestReconciler(t, store)

	res := r.ReconcileSucceeded(context.Background(), models.SourceWebhook, succeededIntent(map[string]string{"cart_id": "cart_9"}))

	if res.Outcome != models.OutcomeOrderCreated {
		t.Fatalf("Expected order_created, got %s", res.Outcome)
	}
	if res.Degraded {
		t.Error("Native cart completion should not be degraded")
	}
	if res.OrderID != "order_77" {
		t.Errorf("Expected order_77, got %s", res.OrderID)
	}
	if store.updateCalls != 1 {
		t.Errorf("Expected completed order to be stamped, got %d update calls", store.updateCalls)
	}
}

func TestReconcileSucceeded_FallbackOrder(t *testing.T) {
	var created models.CreateOrderInput
	store := &mockOrderStore{
		completeCartFunc: func(ctx context.Context, cartID string) (*models.Order, error) {
			return nil, errors.New("cart expired")
		},
		createFunc: func(ctx context.Context, input models.CreateOrderInput) (*models.Order, error) {
			created = input
			return &models.Order{ID: "order_fb", Metadata: input.Metadata}, nil
		},
	}
	r, _ := newTestReconciler(t, store)

	intent := succeededIntent(map[string]string{"cart_id": "cart_9", "email": "buyer@example.com"})
	res := r.ReconcileSucceeded(context.Background(), models.SourceWebhook, intent)

	if res.Outcome != models.OutcomeOrderCreated {
		t.Fatalf("Expected order_created, got %s", res.Outcome)
	}
	if !res.Degraded {
		t.Error("Fallback creation must be reported as degraded")
	}
	if created.Metadata[models.MetaCreatedFrom] != "fallback" {
		t.Errorf("Expected created_from fallback, got %v", created.Metadata[models.MetaCreatedFrom])
	}
	if created.Total != 50.00 {
		t.Errorf("Expected total 50.00 from 5000 minor units, got %v", created.Total)
	}
	if created.Email != "buyer@example.com" {
		t.Errorf("Expected email from metadata, got %s", created.Email)
	}
}

func TestReconcileSucceeded_StoreWriteFailure(t *testing.T) {
	store := &mockOrderStore{
		getOrderFunc: func(ctx context.Context, id string) (*models.Order, error) {
			return &models.Order{ID: "order_42", Metadata: map[string]any{}}, nil
		},
		updateFunc: func(ctx context.Context, id string, metadata map[string]any) (*models.Order, error) {
			return nil, errors.New("store down")
		},
	}
	r, _ := newTestReconciler(t, store)

	res := r.ReconcileSucceeded(context.Background(), models.SourceWebhook, succeededIntent(map[string]string{"order_id": "order_42"}))

	if res.Outcome != models.OutcomeFailed {
		t.Fatalf("Expected failed, got %s", res.Outcome)
	}
	if res.Err == nil {
		t.Error("Expected the store error to be surfaced, not swallowed")
	}
}

func TestReconcileSucceeded_FindsByPaymentIntentID(t *testing.T) {
	store := &mockOrderStore{
		findFunc: func(ctx context.Context, key, value string) (*models.Order, error) {
			if key == models.MetaPaymentIntentID && value == "pi_1" {
				return &models.Order{ID: "order_pi", Metadata: map[string]any{}}, nil
			}
			return nil, medusa.ErrNotFound
		},
	}
	r, _ := newTestReconciler(t, store)

	// No order_id or cart_id; correlation falls through to the
	// payment intent id tag.
	res := r.ReconcileSucceeded(context.Background(), models.SourceWebhook, succeededIntent(map[string]string{}))

	if res.Outcome != models.OutcomeOrderUpdated {
		t.Fatalf("Expected order_updated, got %s", res.Outcome)
	}
	if res.OrderID != "order_pi" {
		t.Errorf("Expected order_pi, got %s", res.OrderID)
	}
}

func TestConfirm_RequiresOrderID(t *testing.T) {
	store := &mockOrderStore{}
	r, _ := newTestReconciler(t, store)

	res := r.Confirm(context.Background(), models.SourceConfirmation, succeededIntent(map[string]string{}), "")

	if res.Outcome != models.OutcomeUnresolvable {
		t.Fatalf("Expected unresolvable, got %s", res.Outcome)
	}
	if store.updateCalls != 0 || store.createCalls != 0 {
		t.Error("Confirmation without a target must not mutate the store")
	}
}

func TestConfirm_NeverSynthesizesOrders(t *testing.T) {
	store := &mockOrderStore{
		getOrderFunc: func(ctx context.Context, id string) (*models.Order, error) {
			return nil, medusa.ErrNotFound
		},
	}
	r, _ := newTestReconciler(t, store)

	res := r.Confirm(context.Background(), models.SourceConfirmation, succeededIntent(map[string]string{}), "order_gone")

	if res.Outcome != models.OutcomeFailed {
		t.Fatalf("Expected failed, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, medusa.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", res.Err)
	}
	if store.createCalls != 0 {
		t.Error("Confirmation path must never create orders")
	}
}

func TestConfirm_AlreadyConfirmed(t *testing.T) {
	store := &mockOrderStore{
		getOrderFunc: func(ctx context.Context, id string) (*models.Order, error) {
			return &models.Order{
				ID:       id,
				Metadata: map[string]any{models.MetaPaymentCaptured: true},
			}, nil
		},
	}
	r, _ := newTestReconciler(t, store)

	res := r.Confirm(context.Background(), models.SourceConfirmation, succeededIntent(map[string]string{}), "order_42")

	if res.Outcome != models.OutcomeAlreadyReconciled {
		t.Fatalf("Expected already_reconciled, got %s", res.Outcome)
	}
	if store.updateCalls != 0 {
		t.Error("Already-confirmed order must not be re-stamped")
	}
}

func TestSyncTerminalStatus_Failed(t *testing.T) {
	var stamped map[string]any
	store := &mockOrderStore{
		getOrderFunc: func(ctx context.Context, id string) (*models.Order, error) {
			return &models.Order{ID: id, Metadata: map[string]any{}}, nil
		},
		updateFunc: func(ctx context.Context, id string, metadata map[string]any) (*models.Order, error) {
			stamped = metadata
			return &models.Order{ID: id, Metadata: metadata}, nil
		},
	}
	r, _ := newTestReconciler(t, store)

	intent := &models.PaymentIntent{
		ID:               "pi_1",
		Amount:           5000,
		Currency:         "usd",
		Status:           models.PaymentIntentStatusCanceled,
		Metadata:         map[string]string{"order_id": "order_42"},
		LastPaymentError: &models.PaymentError{Message: "card declined"},
	}
	res := r.SyncTerminalStatus(context.Background(), models.SourceWebhook, models.EventPaymentIntentFailed, intent)

	if res.Outcome != models.OutcomeOrderUpdated {
		t.Fatalf("Expected order_updated, got %s", res.Outcome)
	}
	if stamped[models.MetaPaymentStatus] != string(models.PaymentStatusFailed) {
		t.Errorf("Expected payment_status failed, got %v", stamped[models.MetaPaymentStatus])
	}
	if stamped["last_payment_error"] != "card declined" {
		t.Errorf("Expected last_payment_error recorded, got %v", stamped["last_payment_error"])
	}
}

func TestSyncTerminalStatus_NoOrder(t *testing.T) {
	store := &mockOrderStore{}
	r, _ := newTestReconciler(t, store)

	intent := succeededIntent(map[string]string{})
	res := r.SyncTerminalStatus(context.Background(), models.SourceWebhook, models.EventPaymentIntentFailed, intent)

	if res.Outcome != models.OutcomeUnresolvable {
		t.Fatalf("Expected unresolvable, got %s", res.Outcome)
	}
	if store.updateCalls != 0 || store.createCalls != 0 {
		t.Error("Status sync must never create or mutate without a target order")
	}
}
