/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the switch-service. By defining an
 * interface, we decouple the orchestration logic from the PostgreSQL
 * implementation, making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/velopay/switch-service/internal/domain"
)

// ClaimResult is the outcome of an idempotency claim. Exactly one concurrent
// caller per key observes Claimed=true; everyone else gets the winner's
// transaction id.
type ClaimResult struct {
	Claimed       bool
	TransactionID uuid.UUID
}

// TransitionParams carries the optional fields a state transition may set
// alongside the state itself.
type TransitionParams struct {
	DebitRef      *string
	CreditRef     *string
	FailureReason *string
	AttemptCount  *int
	Actor         string
}

// Repository defines the set of methods for interacting with the database.
// Every method that pairs a state change with an outbox event performs both
// writes in one database transaction.
type Repository interface {
	// Idempotency store
	ClaimIdempotencyKey(ctx context.Context, keyHash string, txID uuid.UUID, retention time.Duration) (ClaimResult, error)
	ReleaseIdempotencyClaim(ctx context.Context, keyHash string, txID uuid.UUID) error
	PurgeExpiredIdempotencyKeys(ctx context.Context) (int64, error)

	// Transaction lifecycle
	CreateTransactionWithEvent(ctx context.Context, tx *domain.Transaction, event domain.OutboxEvent) error
	TransitionTransactionWithEvent(ctx context.Context, txID uuid.UUID, from, to domain.TransactionState, params TransitionParams, event domain.OutboxEvent) error
	FlagManualReview(ctx context.Context, txID uuid.UUID, reason string) error
	FindTransactionByID(ctx context.Context, txID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByRRN(ctx context.Context, rrn string) (*domain.Transaction, error)
	ListTransactionsByState(ctx context.Context, state domain.TransactionState, limit int) ([]domain.Transaction, error)

	// VPA provisioning reads
	GetVPAMapping(ctx context.Context, handle string) (*domain.VPAMapping, error)

	// Bank registry
	UpsertBank(ctx context.Context, bank *domain.Bank) error
	GetBankByCode(ctx context.Context, code string) (*domain.Bank, error)
	ListBanks(ctx context.Context) ([]domain.Bank, error)

	// Settlement
	AcquireWindowLease(ctx context.Context, windowID, ownerID string, ttl time.Duration) (bool, error)
	ReleaseWindowLease(ctx context.Context, windowID, ownerID string) error
	GetSettlementBatch(ctx context.Context, batchID string) (*domain.SettlementBatch, error)
	GetSettlementBatchByWindow(ctx context.Context, windowID string) (*domain.SettlementBatch, error)
	ListUnsettledTransactions(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Transaction, error)
	CreateSettlementBatchWithEntries(ctx context.Context, batch *domain.SettlementBatch, entries []domain.LedgerEntry, event domain.OutboxEvent) error
	CloseSettlementBatch(ctx context.Context, batchID string, event domain.OutboxEvent) error
	SumLedgerEntriesForBatch(ctx context.Context, batchID string) (debits int64, credits int64, err error)

	// Outbox
	FetchPendingOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkOutboxEventDelivered(ctx context.Context, eventID uuid.UUID) error
}
