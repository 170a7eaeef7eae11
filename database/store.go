package database

import (
	"context"
	"database/sql"
	"fmt"

	"reconciler-svc/models"

	"go.uber.org/zap"
)

// ReconciliationStore persists one durable record per payment intent,
// keyed by the correlation identifier. Repeated attempts for the same
// intent update the row in place and bump the attempt counter.
type ReconciliationStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewReconciliationStore(db *sql.DB, logger *zap.Logger) *ReconciliationStore {
	return &ReconciliationStore{db: db, logger: logger}
}

func (s *ReconciliationStore) Record(ctx context.Context, rec models.ReconciliationRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO reconciliations (payment_intent_id, order_id, outcome, amount, currency, source)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (payment_intent_id) DO UPDATE SET
			order_id = EXCLUDED.order_id,
			outcome = EXCLUDED.outcome,
			source = EXCLUDED.source,
			attempt_count = reconciliations.attempt_count + 1,
			processed_at = CURRENT_TIMESTAMP`,
		rec.PaymentIntentID,
		nullable(rec.OrderID),
		string(rec.Outcome),
		rec.Amount,
		rec.Currency,
		rec.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to record reconciliation: %w", err)
	}
	return nil
}

func (s *ReconciliationStore) Get(ctx context.Context, paymentIntentID string) (*models.ReconciliationRecord, error) {
	var rec models.ReconciliationRecord
	var orderID sql.NullString
	var outcome string

	err := s.db.QueryRowContext(
		ctx,
		`SELECT payment_intent_id, order_id, outcome, amount, currency, source, attempt_count, processed_at
		 FROM reconciliations WHERE payment_intent_id = $1`,
		paymentIntentID,
	).Scan(&rec.PaymentIntentID, &orderID, &outcome, &rec.Amount, &rec.Currency, &rec.Source, &rec.AttemptCount, &rec.ProcessedAt)
	if err != nil {
		return nil, err
	}

	rec.OrderID = orderID.String
	rec.Outcome = models.Outcome(outcome)
	return &rec, nil
}

func (s *ReconciliationStore) ListRecent(ctx context.Context, limit int) ([]models.ReconciliationRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT payment_intent_id, order_id, outcome, amount, currency, source, attempt_count, processed_at
		 FROM reconciliations ORDER BY processed_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	defer rows.Close()

	var records []models.ReconciliationRecord
	for rows.Next() {
		var rec models.ReconciliationRecord
		var orderID sql.NullString
		var outcome string
		if err := rows.Scan(&rec.PaymentIntentID, &orderID, &outcome, &rec.Amount, &rec.Currency, &rec.Source, &rec.AttemptCount, &rec.ProcessedAt); err != nil {
			s.logger.Error("Failed to scan reconciliation record", zap.Error(err))
			continue
		}
		rec.OrderID = orderID.String
		rec.Outcome = models.Outcome(outcome)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
