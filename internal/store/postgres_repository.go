/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed by the switch core: the atomic idempotency
 * claim, guarded state transitions that write the outbox event and audit row in
 * the same database transaction, the settlement window lease, and the
 * append-only ledger.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/velopay/switch-service/internal/domain"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrVPANotFound         = errors.New("vpa mapping not found")
	ErrBankNotFound        = errors.New("bank not found")
	ErrBatchNotFound       = errors.New("settlement batch not found")
	ErrIllegalTransition   = errors.New("illegal state transition")
	ErrStaleTransition     = errors.New("transaction state changed concurrently")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ClaimIdempotencyKey races concurrent submissions for the same key through a
// unique constraint. The first insert wins; losers read the winner's
// transaction id.
func (r *PostgresRepository) ClaimIdempotencyKey(ctx context.Context, keyHash string, txID uuid.UUID, retention time.Duration) (ClaimResult, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO idempotency_keys (key_hash, transaction_id, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (key_hash) DO NOTHING
	`, keyHash, txID, retention.Seconds())
	if err != nil {
		return ClaimResult{}, err
	}
	if tag.RowsAffected() == 1 {
		return ClaimResult{Claimed: true, TransactionID: txID}, nil
	}

	var existing uuid.UUID
	err = r.db.QueryRow(ctx, `SELECT transaction_id FROM idempotency_keys WHERE key_hash = $1`, keyHash).Scan(&existing)
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Claimed: false, TransactionID: existing}, nil
}

// ReleaseIdempotencyClaim deletes a claim whose transaction row was never
// created, making the key claimable again. Guarded by transaction id so a
// release can only undo the caller's own claim, never a concurrent winner's.
func (r *PostgresRepository) ReleaseIdempotencyClaim(ctx context.Context, keyHash string, txID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM idempotency_keys WHERE key_hash = $1 AND transaction_id = $2
	`, keyHash, txID)
	return err
}

// PurgeExpiredIdempotencyKeys removes keys past their retention window. Keys
// whose transaction is not yet terminal are kept regardless of age: retention
// expiry is a policy for settled traffic, never for in-flight work.
func (r *PostgresRepository) PurgeExpiredIdempotencyKeys(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM idempotency_keys k
		USING transactions t
		WHERE k.transaction_id = t.id
		  AND k.expires_at < NOW()
		  AND t.state IN ('SUCCESS', 'FAILED', 'REVERSED')
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateTransactionWithEvent inserts the initial transaction row and its
// INITIATED outbox event atomically.
func (r *PostgresRepository) CreateTransactionWithEvent(ctx context.Context, txn *domain.Transaction, event domain.OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (
			id, idempotency_key, rrn, payer_vpa, payee_vpa, payer_bank_code, payee_bank_code,
			amount, currency, switch_fee, state, attempt_count, correlation_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		txn.ID, txn.IdempotencyKey, txn.RRN, txn.PayerVPA, txn.PayeeVPA,
		txn.PayerBankCode, txn.PayeeBankCode, txn.Amount, txn.Currency,
		txn.SwitchFee, txn.State, txn.AttemptCount, txn.CorrelationID,
	)
	if err != nil {
		return err
	}

	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, "transaction", txn.ID.String(), "CREATE", "SYSTEM", string(txn.State), txn.CorrelationID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// TransitionTransactionWithEvent moves a transaction from one state to another
// with an optimistic guard on the expected current state, appending the outbox
// event and audit row in the same unit.
func (r *PostgresRepository) TransitionTransactionWithEvent(ctx context.Context, txID uuid.UUID, from, to domain.TransactionState, params TransitionParams, event domain.OutboxEvent) error {
	if !domain.CanTransition(from, to) {
		return ErrIllegalTransition
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET state = $1,
		    debit_ref = COALESCE($2, debit_ref),
		    credit_ref = COALESCE($3, credit_ref),
		    failure_reason = COALESCE($4, failure_reason),
		    attempt_count = COALESCE($5, attempt_count),
		    updated_at = NOW()
		WHERE id = $6 AND state = $7
	`, to, params.DebitRef, params.CreditRef, params.FailureReason, params.AttemptCount, txID, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// The row is either gone or another worker moved it first.
		var current domain.TransactionState
		scanErr := tx.QueryRow(ctx, `SELECT state FROM transactions WHERE id = $1`, txID).Scan(&current)
		if scanErr == pgx.ErrNoRows {
			return ErrTransactionNotFound
		}
		if scanErr != nil {
			return scanErr
		}
		return ErrStaleTransition
	}

	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return err
	}
	actor := params.Actor
	if actor == "" {
		actor = "SYSTEM"
	}
	if err := insertAudit(ctx, tx, "transaction", txID.String(), "TRANSITION", actor, string(to), event.AggregateID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FlagManualReview marks a transaction for operator reconciliation without
// changing its state. This is the fatal-but-recorded path for exhausted
// reversal and status-query retries.
func (r *PostgresRepository) FlagManualReview(ctx context.Context, txID uuid.UUID, reason string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET manual_review = TRUE, failure_reason = $1, updated_at = NOW()
		WHERE id = $2
	`, reason, txID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	if err := insertAudit(ctx, tx, "transaction", txID.String(), "MANUAL_REVIEW", "SYSTEM", reason, ""); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const transactionColumns = `
	id, idempotency_key, rrn, payer_vpa, payee_vpa, payer_bank_code, payee_bank_code,
	amount, currency, switch_fee, state, attempt_count, correlation_id,
	debit_ref, credit_ref, failure_reason, manual_review, settlement_id, created_at, updated_at
`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := row.Scan(
		&txn.ID, &txn.IdempotencyKey, &txn.RRN, &txn.PayerVPA, &txn.PayeeVPA,
		&txn.PayerBankCode, &txn.PayeeBankCode, &txn.Amount, &txn.Currency,
		&txn.SwitchFee, &txn.State, &txn.AttemptCount, &txn.CorrelationID,
		&txn.DebitRef, &txn.CreditRef, &txn.FailureReason, &txn.ManualReview,
		&txn.SettlementID, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// FindTransactionByID retrieves a transaction by its id.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, txID uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, txID))
}

// FindTransactionByRRN retrieves a transaction by its retrieval reference number.
func (r *PostgresRepository) FindTransactionByRRN(ctx context.Context, rrn string) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE rrn = $1`, rrn))
}

// ListTransactionsByState returns transactions in the given state, oldest
// first, excluding ones already flagged for manual review.
func (r *PostgresRepository) ListTransactionsByState(ctx context.Context, state domain.TransactionState, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE state = $1 AND manual_review = FALSE
		ORDER BY updated_at ASC
		LIMIT $2
	`, state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

// GetVPAMapping reads a provisioned VPA mapping. The switch never writes this
// table; provisioning is owned by an external collaborator.
func (r *PostgresRepository) GetVPAMapping(ctx context.Context, handle string) (*domain.VPAMapping, error) {
	var m domain.VPAMapping
	err := r.db.QueryRow(ctx, `
		SELECT handle, bank_code, account_ref, active, updated_at
		FROM vpa_mappings
		WHERE lower(btrim(handle)) = lower(btrim($1))
	`, handle).Scan(&m.Handle, &m.BankCode, &m.AccountRef, &m.Active, &m.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrVPANotFound
		}
		return nil, err
	}
	return &m, nil
}

// UpsertBank registers or updates a participating bank.
func (r *PostgresRepository) UpsertBank(ctx context.Context, bank *domain.Bank) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO banks (code, name, endpoint_url, api_key, fallback_codes, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			endpoint_url = EXCLUDED.endpoint_url,
			api_key = EXCLUDED.api_key,
			fallback_codes = EXCLUDED.fallback_codes,
			active = EXCLUDED.active,
			updated_at = NOW()
	`, bank.Code, bank.Name, bank.EndpointURL, bank.APIKey, bank.FallbackCodes, bank.Active)
	return err
}

// GetBankByCode retrieves one bank record.
func (r *PostgresRepository) GetBankByCode(ctx context.Context, code string) (*domain.Bank, error) {
	var b domain.Bank
	err := r.db.QueryRow(ctx, `
		SELECT code, name, endpoint_url, api_key, fallback_codes, active, created_at, updated_at
		FROM banks WHERE code = $1
	`, code).Scan(&b.Code, &b.Name, &b.EndpointURL, &b.APIKey, &b.FallbackCodes, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBankNotFound
		}
		return nil, err
	}
	return &b, nil
}

// ListBanks returns all registered banks ordered by code.
func (r *PostgresRepository) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	rows, err := r.db.Query(ctx, `
		SELECT code, name, endpoint_url, api_key, fallback_codes, active, created_at, updated_at
		FROM banks ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Bank
	for rows.Next() {
		var b domain.Bank
		if err := rows.Scan(&b.Code, &b.Name, &b.EndpointURL, &b.APIKey, &b.FallbackCodes, &b.Active, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AcquireWindowLease takes the single-active-writer lease for a settlement
// window. A stale lease (crashed processor) may be taken over once expired.
func (r *PostgresRepository) AcquireWindowLease(ctx context.Context, windowID, ownerID string, ttl time.Duration) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO settlement_leases (window_id, owner_id, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (window_id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			acquired_at = NOW(),
			expires_at = EXCLUDED.expires_at
		WHERE settlement_leases.expires_at < NOW()
	`, windowID, ownerID, ttl.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseWindowLease drops a lease held by the given owner.
func (r *PostgresRepository) ReleaseWindowLease(ctx context.Context, windowID, ownerID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM settlement_leases WHERE window_id = $1 AND owner_id = $2`, windowID, ownerID)
	return err
}

// GetSettlementBatch retrieves a batch with its pair nets and transaction ids.
func (r *PostgresRepository) GetSettlementBatch(ctx context.Context, batchID string) (*domain.SettlementBatch, error) {
	var b domain.SettlementBatch
	var pairs []byte
	err := r.db.QueryRow(ctx, `
		SELECT id, window_id, window_start, window_end, status, pairs, created_at, closed_at
		FROM settlement_batches WHERE id = $1
	`, batchID).Scan(&b.ID, &b.WindowID, &b.WindowStart, &b.WindowEnd, &b.Status, &pairs, &b.CreatedAt, &b.ClosedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(pairs, &b.Pairs); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `SELECT id FROM transactions WHERE settlement_id = $1 ORDER BY created_at`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		b.Transactions = append(b.Transactions, id)
	}
	return &b, rows.Err()
}

// GetSettlementBatchByWindow returns the batch opened for a window, if any.
// A window maps to at most one batch because the batch id is derived from the
// window's contents.
func (r *PostgresRepository) GetSettlementBatchByWindow(ctx context.Context, windowID string) (*domain.SettlementBatch, error) {
	var batchID string
	err := r.db.QueryRow(ctx, `SELECT id FROM settlement_batches WHERE window_id = $1`, windowID).Scan(&batchID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return r.GetSettlementBatch(ctx, batchID)
}

// ListUnsettledTransactions selects transactions that completed successfully
// inside the window and are not yet assigned to any batch. FAILED and REVERSED
// transactions move no money between banks and are never netted.
func (r *PostgresRepository) ListUnsettledTransactions(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE state = 'SUCCESS'
		  AND settlement_id IS NULL
		  AND updated_at >= $1 AND updated_at < $2
		ORDER BY created_at
	`, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

// CreateSettlementBatchWithEntries writes the batch, assigns its transactions,
// appends the ledger entries and the batch-opened outbox event in one unit.
// Inserting an already-existing batch id is treated as a completed re-run and
// returns nil without touching anything.
func (r *PostgresRepository) CreateSettlementBatchWithEntries(ctx context.Context, batch *domain.SettlementBatch, entries []domain.LedgerEntry, event domain.OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	pairs, err := json.Marshal(batch.Pairs)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO settlement_batches (id, window_id, window_start, window_end, status, pairs)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, batch.ID, batch.WindowID, batch.WindowStart, batch.WindowEnd, batch.Status, pairs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Deterministic id already present: a previous run got here first.
		return nil
	}

	for _, txID := range batch.Transactions {
		if _, err := tx.Exec(ctx, `
			UPDATE transactions SET settlement_id = $1, updated_at = NOW()
			WHERE id = $2 AND settlement_id IS NULL
		`, batch.ID, txID); err != nil {
			return err
		}
	}

	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries (id, account_id, debit, credit, currency, transaction_id, batch_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, e.AccountID, e.Debit, e.Credit, e.Currency, e.TransactionID, e.BatchID); err != nil {
			return err
		}
	}

	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, "settlement_batch", batch.ID, "CREATE", "SYSTEM", string(batch.Status), batch.WindowID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CloseSettlementBatch moves an OPEN batch to CLOSED with its outbox event.
func (r *PostgresRepository) CloseSettlementBatch(ctx context.Context, batchID string, event domain.OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE settlement_batches SET status = 'CLOSED', closed_at = NOW()
		WHERE id = $1 AND status = 'OPEN'
	`, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Already closed by a previous run; the close event was written then.
		return nil
	}

	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, "settlement_batch", batchID, "CLOSE", "SYSTEM", "CLOSED", ""); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SumLedgerEntriesForBatch returns the debit and credit totals for a batch.
func (r *PostgresRepository) SumLedgerEntriesForBatch(ctx context.Context, batchID string) (int64, int64, error) {
	var debits, credits int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(debit), 0), COALESCE(SUM(credit), 0)
		FROM ledger_entries WHERE batch_id = $1
	`, batchID).Scan(&debits, &credits)
	return debits, credits, err
}

// FetchPendingOutboxEvents returns undelivered events in insertion order.
// Global position order implies per-aggregate order, which is the guarantee
// consumers rely on.
func (r *PostgresRepository) FetchPendingOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, topic, type, aggregate_id, payload, status, position, created_at, delivered_at
		FROM outbox_events
		WHERE status = 'PENDING'
		ORDER BY position ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(&e.ID, &e.Topic, &e.Type, &e.AggregateID, &e.Payload, &e.Status, &e.Position, &e.CreatedAt, &e.DeliveredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkOutboxEventDelivered flips one event to DELIVERED after a publish ack.
func (r *PostgresRepository) MarkOutboxEventDelivered(ctx context.Context, eventID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events SET status = 'DELIVERED', delivered_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`, eventID)
	return err
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, event domain.OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, topic, type, aggregate_id, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.Topic, event.Type, event.AggregateID, event.Payload, event.Status)
	return err
}

func insertAudit(ctx context.Context, tx pgx.Tx, entityType, entityID, action, actor, newValue, correlationID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_logs (entity_type, entity_id, action, actor, new_value, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entityType, entityID, action, actor, newValue, correlationID)
	return err
}
