/**
 * @description
 * Reconciliation sweep. Transactions parked in TIMEOUT (ambiguous adapter
 * answers) and transactions stranded in REVERSING (crash mid-compensation)
 * are picked up here and driven to a resolution: FAILED when the debit never
 * landed, REVERSING→REVERSED when it did, or a manual-review flag when the
 * bank keeps answering ambiguously past the give-up horizon. Nothing is ever
 * silently dropped.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/velopay/switch-service/internal/domain"
	"github.com/velopay/switch-service/internal/routing"
	"github.com/velopay/switch-service/internal/store"
	"github.com/velopay/switch-service/pkg/bankclient"
)

const (
	reconcileBatchSize = 50

	// A transaction that stays ambiguous this long after its last state
	// change goes to manual review instead of being swept forever.
	reconcileGiveUp = 30 * time.Minute
)

// RunReconciler runs the sweep on a fixed interval until the context is
// canceled. Expired idempotency keys are purged on the same loop, once per
// hour, with the purge count logged for audit.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastPurge := time.Now()

	log.Printf("level=info component=reconciler msg=\"reconciliation sweep started\" interval=%s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("level=info component=reconciler msg=\"reconciliation sweep stopped\"")
			return
		case <-ticker.C:
			if err := s.ReconcileOnce(ctx); err != nil {
				log.Printf("level=error component=reconciler msg=\"sweep failed\" err=%v", err)
			}
			if time.Since(lastPurge) >= time.Hour {
				purged, err := s.repo.PurgeExpiredIdempotencyKeys(ctx)
				if err != nil {
					log.Printf("level=error component=reconciler msg=\"idempotency purge failed\" err=%v", err)
				} else if purged > 0 {
					log.Printf("level=info component=reconciler msg=\"expired idempotency keys purged\" count=%d", purged)
				}
				lastPurge = time.Now()
			}
		}
	}
}

// ReconcileOnce runs one sweep pass over TIMEOUT and REVERSING transactions.
func (s *Service) ReconcileOnce(ctx context.Context) error {
	timedOut, err := s.repo.ListTransactionsByState(ctx, domain.StateTimeout, reconcileBatchSize)
	if err != nil {
		return err
	}
	for i := range timedOut {
		if err := s.reconcileTimedOut(ctx, &timedOut[i]); err != nil {
			log.Printf("level=error component=reconciler msg=\"timeout reconciliation failed\" tx_id=%s err=%v", timedOut[i].ID, err)
		}
	}

	reversing, err := s.repo.ListTransactionsByState(ctx, domain.StateReversing, reconcileBatchSize)
	if err != nil {
		return err
	}
	for i := range reversing {
		tx := &reversing[i]
		if tx.ManualReview {
			continue
		}
		if _, err := s.runReversal(ctx, tx, routing.Leg{BankCode: tx.PayerBankCode}); err != nil {
			log.Printf("level=error component=reconciler msg=\"reversal resume failed\" tx_id=%s err=%v", tx.ID, err)
		}
	}
	return nil
}

// reconcileTimedOut resolves one TIMEOUT transaction. A nil DebitRef means
// the debit leg itself is in question; otherwise the debit is confirmed and
// only the credit leg is unknown.
func (s *Service) reconcileTimedOut(ctx context.Context, tx *domain.Transaction) error {
	if tx.ManualReview {
		return nil
	}
	payerLeg := routing.Leg{BankCode: tx.PayerBankCode}
	payeeLeg := routing.Leg{BankCode: tx.PayeeBankCode}

	if tx.DebitRef == nil {
		status, err := s.queryLegStatus(ctx, payerLeg, tx.RRN, "debit")
		switch {
		case err == nil && status.Status == bankclient.StatusSuccess:
			// Debit landed after the live path gave up. The credit was never
			// attempted, so the money goes back.
			tx.DebitRef = &status.BankRef
			_, compErr := s.compensate(ctx, tx, payerLeg, domain.StateTimeout, "debit landed after timeout; credit not attempted")
			return compErr
		case err == nil && status.Declined(), errors.Is(err, bankclient.ErrLegNotFound):
			reason := "debit did not occur"
			params := store.TransitionParams{FailureReason: &reason, Actor: "reconciler"}
			if trErr := s.transition(ctx, tx, domain.StateTimeout, domain.StateFailed, params, reason); trErr != nil {
				return trErr
			}
			log.Printf("level=info component=reconciler msg=\"timed-out transaction failed\" tx_id=%s rrn=%s", tx.ID, tx.RRN)
			return nil
		default:
			return s.giveUpIfStale(ctx, tx, "debit status unresolvable")
		}
	}

	status, err := s.queryLegStatus(ctx, payeeLeg, tx.RRN, "credit")
	switch {
	case err == nil && status.Status == bankclient.StatusSuccess:
		// The credit landed after all: both legs completed, but the
		// transaction already left the live path. An operator confirms and
		// closes it rather than the sweep guessing.
		if flagErr := s.repo.FlagManualReview(ctx, tx.ID, "credit landed after timeout"); flagErr != nil {
			return flagErr
		}
		log.Printf("level=warn component=reconciler msg=\"credit landed after timeout; flagged for manual review\" tx_id=%s rrn=%s", tx.ID, tx.RRN)
		return nil
	case err == nil && status.Declined(), errors.Is(err, bankclient.ErrLegNotFound):
		_, compErr := s.compensate(ctx, tx, payerLeg, domain.StateTimeout, "credit did not occur")
		return compErr
	default:
		return s.giveUpIfStale(ctx, tx, "credit status unresolvable")
	}
}

// giveUpIfStale flags a still-ambiguous transaction for manual review once
// it has sat unresolved past the give-up horizon.
func (s *Service) giveUpIfStale(ctx context.Context, tx *domain.Transaction, reason string) error {
	if time.Since(tx.UpdatedAt) < reconcileGiveUp {
		return nil
	}
	if err := s.repo.FlagManualReview(ctx, tx.ID, reason); err != nil {
		return err
	}
	log.Printf("level=error component=reconciler msg=\"giving up on ambiguous transaction; flagged for manual review\" tx_id=%s rrn=%s reason=%q", tx.ID, tx.RRN, reason)
	return nil
}
