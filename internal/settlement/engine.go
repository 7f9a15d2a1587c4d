/**
 * @description
 * Settlement engine. On a fixed window cadence it nets the successfully
 * completed transactions per (payer bank, payee bank) pair into a batch,
 * writes balanced double-entry ledger rows against the banks' clearing
 * accounts, and closes the batch once debits provably equal credits. The
 * batch id is derived from the window and the sorted bank pairs, so a
 * crashed window re-runs to the exact same batch and the insert collapses
 * into a no-op.
 *
 * Only one engine instance processes a given window: processing is gated on
 * a database lease keyed by window id, with expiry takeover so a crashed
 * holder does not wedge the window forever.
 *
 * @dependencies
 * - github.com/google/uuid: Instance identity for the window lease.
 * - github.com/robfig/cron/v3: Window cadence scheduling.
 * - internal/domain, internal/store: Models and persistence.
 */

package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/velopay/switch-service/internal/domain"
	"github.com/velopay/switch-service/internal/store"
)

// ErrUnbalancedBatch marks a batch whose ledger entries do not balance. The
// batch stays OPEN and the condition is alertable; it is never auto-closed.
var ErrUnbalancedBatch = errors.New("settlement batch does not balance")

// FeeAccountID is the ledger account collecting switch fees.
const FeeAccountID = "switch:fees"

// Engine nets completed transactions into settlement batches.
type Engine struct {
	repo     store.Repository
	ownerID  string
	window   time.Duration
	leaseTTL time.Duration
	cron     *cron.Cron
}

// NewEngine creates a settlement engine. window is the regular netting
// cadence; leaseTTL bounds how long a crashed instance can hold a window.
func NewEngine(repo store.Repository, window, leaseTTL time.Duration) *Engine {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	return &Engine{
		repo:     repo,
		ownerID:  uuid.NewString(),
		window:   window,
		leaseTTL: leaseTTL,
	}
}

// Start schedules the regular and end-of-day windows on the given cron
// expressions and begins processing. Stop with Stop.
func (e *Engine) Start(windowCron, eodCron string) error {
	e.cron = cron.New()
	if _, err := e.cron.AddFunc(windowCron, func() {
		end := time.Now().UTC().Truncate(e.window)
		if err := e.ProcessWindow(context.Background(), end.Add(-e.window), end); err != nil {
			log.Printf("level=error component=settlement msg=\"window processing failed\" err=%v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid settlement cron %q: %w", windowCron, err)
	}
	if _, err := e.cron.AddFunc(eodCron, func() {
		// The end-of-day window re-covers the whole day to catch
		// transactions that reached a terminal state after their original
		// window closed.
		end := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		if err := e.ProcessWindow(context.Background(), end.Add(-24*time.Hour), end); err != nil {
			log.Printf("level=error component=settlement msg=\"end-of-day processing failed\" err=%v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid end-of-day cron %q: %w", eodCron, err)
	}
	e.cron.Start()
	log.Printf("level=info component=settlement msg=\"settlement engine started\" window=%s owner=%s", e.window, e.ownerID)
	return nil
}

// Stop halts the cron scheduler and waits for running jobs.
func (e *Engine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

// WindowID names a settlement window by its UTC boundaries.
func WindowID(start, end time.Time) string {
	return fmt.Sprintf("%s_%s", start.UTC().Format("20060102T150405"), end.UTC().Format("20060102T150405"))
}

// ProcessWindow nets one window. It is safe to call for a window that was
// already processed: the deterministic batch id makes the batch insert a
// no-op and no transaction is netted twice.
func (e *Engine) ProcessWindow(ctx context.Context, windowStart, windowEnd time.Time) error {
	windowID := WindowID(windowStart, windowEnd)

	acquired, err := e.repo.AcquireWindowLease(ctx, windowID, e.ownerID, e.leaseTTL)
	if err != nil {
		return fmt.Errorf("lease acquisition for window %s failed: %w", windowID, err)
	}
	if !acquired {
		log.Printf("level=info component=settlement msg=\"window held by another instance; skipping\" window=%s", windowID)
		return nil
	}
	defer func() {
		if err := e.repo.ReleaseWindowLease(ctx, windowID, e.ownerID); err != nil {
			log.Printf("level=warn component=settlement msg=\"lease release failed\" window=%s err=%v", windowID, err)
		}
	}()

	transactions, err := e.repo.ListUnsettledTransactions(ctx, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("unsettled transaction query for window %s failed: %w", windowID, err)
	}
	if len(transactions) == 0 {
		// Nothing new to net. A previous run may have crashed after the
		// batch committed (its transactions already carry a settlement id)
		// but before the close landed; finish that batch instead of
		// leaving it OPEN forever.
		return e.finishOpenBatch(ctx, windowID)
	}

	pairs := Net(transactions)
	batchID := domain.SettlementBatchID(windowID, pairs)
	batch := &domain.SettlementBatch{
		ID:           batchID,
		WindowID:     windowID,
		WindowStart:  windowStart.UTC(),
		WindowEnd:    windowEnd.UTC(),
		Status:       domain.BatchOpen,
		Pairs:        pairs,
		Transactions: transactionIDs(transactions),
	}
	entries := BuildLedgerEntries(batchID, transactions)

	event := domain.NewSettlementEvent(batchID, windowID, domain.BatchOpen)
	if err := e.repo.CreateSettlementBatchWithEntries(ctx, batch, entries, event); err != nil {
		return fmt.Errorf("batch %s creation failed: %w", batchID, err)
	}
	log.Printf("level=info component=settlement msg=\"batch opened\" batch_id=%s window=%s pairs=%d txs=%d", batchID, windowID, len(pairs), len(transactions))

	return e.verifyAndClose(ctx, batchID, windowID)
}

// finishOpenBatch closes a balanced batch left OPEN by an interrupted run.
func (e *Engine) finishOpenBatch(ctx context.Context, windowID string) error {
	batch, err := e.repo.GetSettlementBatchByWindow(ctx, windowID)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			log.Printf("level=info component=settlement msg=\"window empty\" window=%s", windowID)
			return nil
		}
		return fmt.Errorf("batch lookup for window %s failed: %w", windowID, err)
	}
	if batch.Status != domain.BatchOpen {
		return nil
	}
	log.Printf("level=info component=settlement msg=\"resuming open batch from interrupted run\" batch_id=%s window=%s", batch.ID, windowID)
	return e.verifyAndClose(ctx, batch.ID, windowID)
}

// verifyAndClose re-reads the ledger sums for the batch and closes it only if
// debits equal credits; a mismatch leaves the batch OPEN and is alertable.
func (e *Engine) verifyAndClose(ctx context.Context, batchID, windowID string) error {
	debits, credits, err := e.repo.SumLedgerEntriesForBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("ledger verification for batch %s failed: %w", batchID, err)
	}
	if debits != credits {
		log.Printf("level=error component=settlement msg=\"ALERT ledger mismatch; batch left open\" batch_id=%s debits=%d credits=%d", batchID, debits, credits)
		return fmt.Errorf("batch %s: debits=%d credits=%d: %w", batchID, debits, credits, ErrUnbalancedBatch)
	}

	closeEvent := domain.NewSettlementEvent(batchID, windowID, domain.BatchClosed)
	if err := e.repo.CloseSettlementBatch(ctx, batchID, closeEvent); err != nil {
		return fmt.Errorf("batch %s close failed: %w", batchID, err)
	}
	log.Printf("level=info component=settlement msg=\"batch closed\" batch_id=%s debits=%d credits=%d", batchID, debits, credits)
	return nil
}

// GetBatch returns one settlement batch by id.
func (e *Engine) GetBatch(ctx context.Context, batchID string) (*domain.SettlementBatch, error) {
	return e.repo.GetSettlementBatch(ctx, batchID)
}

// Net groups transactions by ordered (payer bank, payee bank) pair and sums
// the net obligation per pair. The result is sorted by pair key so callers
// get a stable order.
func Net(transactions []domain.Transaction) []domain.BankPairNet {
	byPair := make(map[string]*domain.BankPairNet)
	for i := range transactions {
		tx := &transactions[i]
		key := tx.PayerBankCode + ">" + tx.PayeeBankCode
		pair, ok := byPair[key]
		if !ok {
			pair = &domain.BankPairNet{PayerBank: tx.PayerBankCode, PayeeBank: tx.PayeeBankCode}
			byPair[key] = pair
		}
		pair.NetAmount += tx.Amount
		pair.TxCount++
	}

	keys := make([]string, 0, len(byPair))
	for key := range byPair {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]domain.BankPairNet, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, *byPair[key])
	}
	return pairs
}

// BuildLedgerEntries produces the double-entry rows for a batch: per
// transaction, a debit against the payer bank's clearing account and a
// credit to the payee bank's, plus a fee pair moving the switch fee from
// the payer bank to the fee account. Every debit has an equal credit, so
// the batch balances by construction.
func BuildLedgerEntries(batchID string, transactions []domain.Transaction) []domain.LedgerEntry {
	entries := make([]domain.LedgerEntry, 0, len(transactions)*4)
	for i := range transactions {
		tx := transactions[i]
		txID := tx.ID
		entries = append(entries,
			domain.LedgerEntry{
				ID:            uuid.New(),
				AccountID:     ClearingAccountID(tx.PayerBankCode),
				Debit:         tx.Amount,
				Currency:      tx.Currency,
				TransactionID: &txID,
				BatchID:       batchID,
			},
			domain.LedgerEntry{
				ID:            uuid.New(),
				AccountID:     ClearingAccountID(tx.PayeeBankCode),
				Credit:        tx.Amount,
				Currency:      tx.Currency,
				TransactionID: &txID,
				BatchID:       batchID,
			},
		)
		if tx.SwitchFee > 0 {
			entries = append(entries,
				domain.LedgerEntry{
					ID:            uuid.New(),
					AccountID:     ClearingAccountID(tx.PayerBankCode),
					Debit:         tx.SwitchFee,
					Currency:      tx.Currency,
					TransactionID: &txID,
					BatchID:       batchID,
				},
				domain.LedgerEntry{
					ID:            uuid.New(),
					AccountID:     FeeAccountID,
					Credit:        tx.SwitchFee,
					Currency:      tx.Currency,
					TransactionID: &txID,
					BatchID:       batchID,
				},
			)
		}
	}
	return entries
}

// ClearingAccountID is the ledger account for a bank's net position.
func ClearingAccountID(bankCode string) string {
	return "clearing:" + bankCode
}

func transactionIDs(transactions []domain.Transaction) []uuid.UUID {
	ids := make([]uuid.UUID, len(transactions))
	for i := range transactions {
		ids[i] = transactions[i].ID
	}
	return ids
}
