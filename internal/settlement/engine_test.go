package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/velopay/switch-service/internal/domain"
	"github.com/velopay/switch-service/internal/store"
)

type settlementRepoStub struct {
	store.Repository

	unsettled []domain.Transaction
	leaseHeld bool

	createdBatch   *domain.SettlementBatch
	createdEntries []domain.LedgerEntry
	closedBatchID  string
	events         []domain.OutboxEvent
	createCalls    int
}

func (s *settlementRepoStub) AcquireWindowLease(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	return !s.leaseHeld, nil
}

func (s *settlementRepoStub) ReleaseWindowLease(_ context.Context, _, _ string) error {
	return nil
}

func (s *settlementRepoStub) ListUnsettledTransactions(_ context.Context, _, _ time.Time) ([]domain.Transaction, error) {
	return s.unsettled, nil
}

func (s *settlementRepoStub) CreateSettlementBatchWithEntries(_ context.Context, batch *domain.SettlementBatch, entries []domain.LedgerEntry, event domain.OutboxEvent) error {
	s.createCalls++
	if s.createdBatch != nil && s.createdBatch.ID == batch.ID {
		// Replay of an existing batch is a no-op, mirroring the conflict
		// handling in the real repository.
		return nil
	}
	s.createdBatch = batch
	s.createdEntries = entries
	s.events = append(s.events, event)
	return nil
}

func (s *settlementRepoStub) SumLedgerEntriesForBatch(_ context.Context, _ string) (int64, int64, error) {
	var debits, credits int64
	for _, entry := range s.createdEntries {
		debits += entry.Debit
		credits += entry.Credit
	}
	return debits, credits, nil
}

func (s *settlementRepoStub) CloseSettlementBatch(_ context.Context, batchID string, event domain.OutboxEvent) error {
	s.closedBatchID = batchID
	s.events = append(s.events, event)
	if s.createdBatch != nil && s.createdBatch.ID == batchID {
		s.createdBatch.Status = domain.BatchClosed
	}
	return nil
}

func (s *settlementRepoStub) GetSettlementBatchByWindow(_ context.Context, windowID string) (*domain.SettlementBatch, error) {
	if s.createdBatch != nil && s.createdBatch.WindowID == windowID {
		return s.createdBatch, nil
	}
	return nil, store.ErrBatchNotFound
}

func settledTx(payerBank, payeeBank string, amount int64) domain.Transaction {
	return domain.Transaction{
		ID:            uuid.New(),
		PayerBankCode: payerBank,
		PayeeBankCode: payeeBank,
		Amount:        amount,
		Currency:      "INR",
		SwitchFee:     domain.ComputeSwitchFee(amount),
		State:         domain.StateSuccess,
	}
}

func TestNet_GroupsAndSumsPerPair(t *testing.T) {
	pairs := Net([]domain.Transaction{
		settledTx("HDFC", "SBIN", 10000),
		settledTx("HDFC", "SBIN", 5000),
		settledTx("SBIN", "HDFC", 2000),
	})
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].PayerBank != "HDFC" || pairs[0].NetAmount != 15000 || pairs[0].TxCount != 2 {
		t.Fatalf("unexpected first pair: %+v", pairs[0])
	}
	if pairs[1].PayerBank != "SBIN" || pairs[1].NetAmount != 2000 || pairs[1].TxCount != 1 {
		t.Fatalf("unexpected second pair: %+v", pairs[1])
	}
}

func TestBuildLedgerEntries_Balance(t *testing.T) {
	transactions := []domain.Transaction{
		settledTx("HDFC", "SBIN", 10000),
		settledTx("ICIC", "HDFC", 7500),
	}
	entries := BuildLedgerEntries("stl_test", transactions)

	var debits, credits int64
	for _, entry := range entries {
		debits += entry.Debit
		credits += entry.Credit
	}
	if debits != credits {
		t.Fatalf("ledger must balance: debits=%d credits=%d", debits, credits)
	}
	if debits == 0 {
		t.Fatal("expected non-zero ledger movement")
	}
}

func TestProcessWindow_OpensAndClosesBalancedBatch(t *testing.T) {
	repo := &settlementRepoStub{unsettled: []domain.Transaction{
		settledTx("HDFC", "SBIN", 10000),
		settledTx("SBIN", "HDFC", 4000),
	}}
	engine := NewEngine(repo, 15*time.Minute, time.Minute)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := engine.ProcessWindow(context.Background(), start, start.Add(15*time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.createdBatch == nil {
		t.Fatal("expected a batch to be created")
	}
	if repo.closedBatchID != repo.createdBatch.ID {
		t.Fatalf("expected batch %s closed, got %q", repo.createdBatch.ID, repo.closedBatchID)
	}
	if len(repo.events) != 2 {
		t.Fatalf("expected open and close events, got %d", len(repo.events))
	}
	if repo.events[0].Type != "settlement.batch.open" || repo.events[1].Type != "settlement.batch.closed" {
		t.Fatalf("unexpected event types: %s, %s", repo.events[0].Type, repo.events[1].Type)
	}
}

func TestProcessWindow_DeterministicBatchID(t *testing.T) {
	transactions := []domain.Transaction{
		settledTx("HDFC", "SBIN", 10000),
		settledTx("ICIC", "SBIN", 3000),
	}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(15 * time.Minute)

	var ids []string
	for i := 0; i < 2; i++ {
		repo := &settlementRepoStub{unsettled: transactions}
		engine := NewEngine(repo, 15*time.Minute, time.Minute)
		if err := engine.ProcessWindow(context.Background(), start, end); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
		ids = append(ids, repo.createdBatch.ID)
	}
	if ids[0] != ids[1] {
		t.Fatalf("batch id must be deterministic: %s vs %s", ids[0], ids[1])
	}
}

func TestProcessWindow_RerunIsNoOp(t *testing.T) {
	repo := &settlementRepoStub{unsettled: []domain.Transaction{settledTx("HDFC", "SBIN", 10000)}}
	engine := NewEngine(repo, 15*time.Minute, time.Minute)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(15 * time.Minute)
	if err := engine.ProcessWindow(context.Background(), start, end); err != nil {
		t.Fatalf("first run: unexpected error: %v", err)
	}
	entriesAfterFirst := len(repo.createdEntries)

	if err := engine.ProcessWindow(context.Background(), start, end); err != nil {
		t.Fatalf("second run: unexpected error: %v", err)
	}
	if repo.createCalls != 2 {
		t.Fatalf("expected both runs to attempt creation, got %d", repo.createCalls)
	}
	if len(repo.createdEntries) != entriesAfterFirst {
		t.Fatalf("re-run must not add ledger entries: %d vs %d", len(repo.createdEntries), entriesAfterFirst)
	}
}

func TestProcessWindow_LeaseHeldSkips(t *testing.T) {
	repo := &settlementRepoStub{
		leaseHeld: true,
		unsettled: []domain.Transaction{settledTx("HDFC", "SBIN", 10000)},
	}
	engine := NewEngine(repo, 15*time.Minute, time.Minute)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := engine.ProcessWindow(context.Background(), start, start.Add(15*time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.createdBatch != nil {
		t.Fatal("a held lease must prevent batch creation")
	}
}

func TestProcessWindow_MismatchLeavesBatchOpen(t *testing.T) {
	repo := &unbalancedRepoStub{settlementRepoStub: settlementRepoStub{
		unsettled: []domain.Transaction{settledTx("HDFC", "SBIN", 10000)},
	}}
	engine := NewEngine(repo, 15*time.Minute, time.Minute)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := engine.ProcessWindow(context.Background(), start, start.Add(15*time.Minute))
	if !errors.Is(err, ErrUnbalancedBatch) {
		t.Fatalf("expected ErrUnbalancedBatch, got %v", err)
	}
	if repo.closedBatchID != "" {
		t.Fatal("an unbalanced batch must never be closed")
	}
}

type unbalancedRepoStub struct {
	settlementRepoStub
}

func (s *unbalancedRepoStub) SumLedgerEntriesForBatch(_ context.Context, _ string) (int64, int64, error) {
	return 10000, 9999, nil
}

func TestProcessWindow_ResumesCrashedOpenBatch(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(15 * time.Minute)
	windowID := WindowID(start, end)
	transactions := []domain.Transaction{settledTx("HDFC", "SBIN", 10000)}
	pairs := Net(transactions)
	batchID := domain.SettlementBatchID(windowID, pairs)

	// A prior run committed the batch and its ledger entries (assigning the
	// transactions a settlement id) and crashed before closing it: the
	// unsettled query now comes back empty while the batch sits OPEN.
	repo := &settlementRepoStub{}
	repo.createdBatch = &domain.SettlementBatch{
		ID:       batchID,
		WindowID: windowID,
		Status:   domain.BatchOpen,
		Pairs:    pairs,
	}
	repo.createdEntries = BuildLedgerEntries(batchID, transactions)

	engine := NewEngine(repo, 15*time.Minute, time.Minute)
	if err := engine.ProcessWindow(context.Background(), start, end); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.closedBatchID != batchID {
		t.Fatalf("expected crashed batch %s to be closed, got %q", batchID, repo.closedBatchID)
	}
	if repo.createCalls != 0 {
		t.Fatalf("resume must not recreate the batch, createCalls=%d", repo.createCalls)
	}
	if len(repo.events) != 1 || repo.events[0].Type != "settlement.batch.closed" {
		t.Fatalf("expected only a close event, got %v", eventTypeList(repo.events))
	}

	// A second sweep of the same window is a no-op once the batch is closed.
	if err := engine.ProcessWindow(context.Background(), start, end); err != nil {
		t.Fatalf("unexpected error on closed-batch re-run: %v", err)
	}
	if len(repo.events) != 1 {
		t.Fatalf("closed batch must not emit further events, got %d", len(repo.events))
	}
}

func eventTypeList(events []domain.OutboxEvent) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}
