package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/velopay/switch-service/internal/domain"
	"github.com/velopay/switch-service/internal/store"
	"github.com/velopay/switch-service/pkg/bankclient"
)

type reconcileRepoStub struct {
	orchestratorRepoStub

	byState map[domain.TransactionState][]domain.Transaction
}

func (s *reconcileRepoStub) ListTransactionsByState(_ context.Context, state domain.TransactionState, _ int) ([]domain.Transaction, error) {
	return s.byState[state], nil
}

func parkedTransaction(debitRef *string) domain.Transaction {
	return domain.Transaction{
		ID:            uuid.New(),
		RRN:           "RRN42",
		PayerBankCode: "HDFC",
		PayeeBankCode: "SBIN",
		Amount:        5000,
		Currency:      "INR",
		State:         domain.StateTimeout,
		DebitRef:      debitRef,
		UpdatedAt:     time.Now(),
	}
}

func TestReconcile_DebitNeverOccurredFails(t *testing.T) {
	repo := &reconcileRepoStub{byState: map[domain.TransactionState][]domain.Transaction{
		domain.StateTimeout: {parkedTransaction(nil)},
	}}
	payer := &adapterStub{
		statusSteps: []statusStep{{err: bankclient.ErrLegNotFound}},
	}
	svc := newTestService(&repo.orchestratorRepoStub, &adapterRegistryStub{adapters: map[string]*adapterStub{"HDFC": payer, "SBIN": {}}}, nil)
	svc.repo = repo

	if err := svc.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.transitions) != 1 || repo.transitions[0] != "TIMEOUT->FAILED" {
		t.Fatalf("expected TIMEOUT->FAILED, got %v", repo.transitions)
	}
}

func TestReconcile_DebitLandedCreditMissingReverses(t *testing.T) {
	debitRef := "d-1"
	repo := &reconcileRepoStub{byState: map[domain.TransactionState][]domain.Transaction{
		domain.StateTimeout: {parkedTransaction(&debitRef)},
	}}
	payer := &adapterStub{reverseResult: &bankclient.LegResult{Status: bankclient.StatusSuccess}}
	payee := &adapterStub{
		statusSteps: []statusStep{{result: &bankclient.LegResult{Status: bankclient.StatusDeclined, Reason: "never received"}}},
	}
	svc := newTestService(&repo.orchestratorRepoStub, &adapterRegistryStub{adapters: map[string]*adapterStub{"HDFC": payer, "SBIN": payee}}, nil)
	svc.repo = repo

	if err := svc.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"TIMEOUT->REVERSING", "REVERSING->REVERSED"}
	if len(repo.transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, repo.transitions)
	}
	for i := range want {
		if repo.transitions[i] != want[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, want[i], repo.transitions[i])
		}
	}
	if payer.reverseCalls != 1 {
		t.Fatalf("expected one reversal, got %d", payer.reverseCalls)
	}
}

func TestReconcile_LateCreditFlagsManualReview(t *testing.T) {
	debitRef := "d-1"
	repo := &reconcileRepoStub{byState: map[domain.TransactionState][]domain.Transaction{
		domain.StateTimeout: {parkedTransaction(&debitRef)},
	}}
	payee := &adapterStub{
		statusSteps: []statusStep{{result: &bankclient.LegResult{Status: bankclient.StatusSuccess, BankRef: "c-late"}}},
	}
	svc := newTestService(&repo.orchestratorRepoStub, &adapterRegistryStub{adapters: map[string]*adapterStub{"HDFC": {}, "SBIN": payee}}, nil)
	svc.repo = repo

	if err := svc.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.transitions) != 0 {
		t.Fatalf("late credit must not transition automatically, got %v", repo.transitions)
	}
	if repo.manualReviewReason != "credit landed after timeout" {
		t.Fatalf("expected manual review flag, got %q", repo.manualReviewReason)
	}
}

func TestReconcile_StaleAmbiguityGivesUp(t *testing.T) {
	tx := parkedTransaction(nil)
	tx.UpdatedAt = time.Now().Add(-time.Hour)
	repo := &reconcileRepoStub{byState: map[domain.TransactionState][]domain.Transaction{
		domain.StateTimeout: {tx},
	}}
	payer := &adapterStub{} // every status query times out
	svc := newTestService(&repo.orchestratorRepoStub, &adapterRegistryStub{adapters: map[string]*adapterStub{"HDFC": payer, "SBIN": {}}}, nil)
	svc.repo = repo

	if err := svc.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.manualReviewReason != "debit status unresolvable" {
		t.Fatalf("expected manual review after give-up horizon, got %q", repo.manualReviewReason)
	}
}

func TestReconcile_ResumesStrandedReversal(t *testing.T) {
	debitRef := "d-1"
	stranded := parkedTransaction(&debitRef)
	stranded.State = domain.StateReversing
	repo := &reconcileRepoStub{byState: map[domain.TransactionState][]domain.Transaction{
		domain.StateReversing: {stranded},
	}}
	payer := &adapterStub{reverseResult: &bankclient.LegResult{Status: bankclient.StatusSuccess}}
	svc := newTestService(&repo.orchestratorRepoStub, &adapterRegistryStub{adapters: map[string]*adapterStub{"HDFC": payer, "SBIN": {}}}, nil)
	svc.repo = repo

	if err := svc.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.transitions) != 1 || repo.transitions[0] != "REVERSING->REVERSED" {
		t.Fatalf("expected REVERSING->REVERSED, got %v", repo.transitions)
	}
}

var _ store.Repository = (*reconcileRepoStub)(nil)
