/**
 * @description
 * This file contains the core business logic for the switch-service. The
 * `Service` struct orchestrates one money movement end to end: idempotency
 * claim, VPA resolution, routing, the debit→credit choreography against bank
 * adapters, and compensation when a debit cannot be matched by a credit.
 *
 * Key features:
 * - Exactly-once semantics from the caller's view via the idempotency claim.
 * - Every state transition is written together with its outbox event in one
 *   database transaction.
 * - An ambiguous adapter answer (timeout) is never treated as failure: the
 *   orchestrator issues status queries and, when the outcome stays unknown,
 *   parks the transaction in TIMEOUT for the reconciliation sweep.
 * - A confirmed debit with a failed credit is always reversed; exhausted
 *   reversal retries flag the transaction for manual review instead of
 *   dropping it.
 *
 * @dependencies
 * - context, crypto/sha256, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For transaction id generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - internal/health, internal/routing, internal/vpa: Switch components.
 * - pkg/bankclient: Bank adapter communication.
 */

package app

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/velopay/switch-service/internal/domain"
	"github.com/velopay/switch-service/internal/health"
	"github.com/velopay/switch-service/internal/routing"
	"github.com/velopay/switch-service/internal/store"
	"github.com/velopay/switch-service/internal/vpa"
	"github.com/velopay/switch-service/pkg/bankclient"
)

var (
	// ErrInvalidSignature is returned when the PSP signature on a transfer
	// request does not verify. No transaction record is created.
	ErrInvalidSignature = errors.New("invalid request signature")

	// ErrStillResolving is returned to idempotent replays whose winner has
	// not reached a terminal state within the wait budget.
	ErrStillResolving = errors.New("transaction still resolving")
)

// BankAdapter is the uniform capability every bank exposes to the switch.
// *bankclient.Client satisfies it.
type BankAdapter interface {
	Debit(ctx context.Context, req bankclient.LegRequest) (*bankclient.LegResult, error)
	Credit(ctx context.Context, req bankclient.LegRequest) (*bankclient.LegResult, error)
	Reverse(ctx context.Context, req bankclient.ReversalRequest) (*bankclient.LegResult, error)
	QueryStatus(ctx context.Context, rrn, leg string) (*bankclient.LegResult, error)
}

// AdapterRegistry resolves a bank code to its adapter client.
type AdapterRegistry interface {
	Adapter(bankCode string) (BankAdapter, error)
}

// SignatureVerifier checks the PSP signature on an incoming transfer request.
type SignatureVerifier interface {
	Verify(req domain.TransferRequest) error
}

// AddressResolver is the subset of the VPA resolver the orchestrator needs.
type AddressResolver interface {
	Resolve(ctx context.Context, address string) (*domain.VPAMapping, error)
}

// Options bound the orchestrator's retry and wait behavior.
type Options struct {
	AdapterTimeout         time.Duration
	StatusQueryRetries     int
	StatusQueryBackoff     time.Duration
	ReversalMaxAttempts    int
	ReversalBackoff        time.Duration
	IdempotencyRetention   time.Duration
	IdempotencyWaitTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.AdapterTimeout <= 0 {
		o.AdapterTimeout = 5 * time.Second
	}
	if o.StatusQueryRetries <= 0 {
		o.StatusQueryRetries = 3
	}
	if o.StatusQueryBackoff <= 0 {
		o.StatusQueryBackoff = 500 * time.Millisecond
	}
	if o.ReversalMaxAttempts <= 0 {
		o.ReversalMaxAttempts = 3
	}
	if o.ReversalBackoff <= 0 {
		o.ReversalBackoff = time.Second
	}
	if o.IdempotencyRetention <= 0 {
		o.IdempotencyRetention = 24 * time.Hour
	}
	if o.IdempotencyWaitTimeout <= 0 {
		o.IdempotencyWaitTimeout = 5 * time.Second
	}
	return o
}

// Service provides the core transaction orchestration logic.
type Service struct {
	repo     store.Repository
	resolver AddressResolver
	router   *routing.Engine
	registry *health.Registry
	adapters AdapterRegistry
	verifier SignatureVerifier
	opts     Options

	// sleep is swapped out in tests to keep retry loops instant.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a new switch orchestrator instance.
func NewService(repo store.Repository, resolver AddressResolver, router *routing.Engine, registry *health.Registry, adapters AdapterRegistry, verifier SignatureVerifier, opts Options) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		router:   router,
		registry: registry,
		adapters: adapters,
		verifier: verifier,
		opts:     opts.withDefaults(),
		sleep:    sleepWithContext,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ProcessTransfer runs one transfer request through the full state machine
// and returns a definitive terminal state or an explicit still-resolving
// response carrying the transaction id.
func (s *Service) ProcessTransfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResponse, error) {
	if s.verifier != nil {
		if err := s.verifier.Verify(req); err != nil {
			log.Printf("level=warn component=orchestrator msg=\"signature verification failed\" correlation_id=%s err=%v", req.CorrelationID, err)
			return nil, ErrInvalidSignature
		}
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	// 1. Claim the idempotency key. Exactly one concurrent submission per
	// key wins the claim and runs the state machine; everyone else waits on
	// the winner's row.
	txID := uuid.New()
	keyHash := hashIdempotencyKey(req.IdempotencyKey)
	claim, err := s.repo.ClaimIdempotencyKey(ctx, keyHash, txID, s.opts.IdempotencyRetention)
	if err != nil {
		return nil, fmt.Errorf("idempotency claim failed: %w", err)
	}
	if !claim.Claimed {
		return s.awaitExistingResult(ctx, claim.TransactionID)
	}

	// The claim points at a transaction id with no row behind it yet. Any
	// exit before the first insert must release it, or every retry of this
	// key waits on a transaction that will never exist until retention
	// expires.
	rowExists := false
	defer func() {
		if rowExists {
			return
		}
		if relErr := s.repo.ReleaseIdempotencyClaim(context.WithoutCancel(ctx), keyHash, txID); relErr != nil {
			log.Printf("level=error component=orchestrator msg=\"orphaned idempotency claim release failed\" tx_id=%s err=%v", txID, relErr)
		}
	}()

	tx := &domain.Transaction{
		ID:             txID,
		IdempotencyKey: keyHash,
		RRN:            generateRRN(),
		PayerVPA:       vpa.Normalize(req.PayerVPA),
		PayeeVPA:       vpa.Normalize(req.PayeeVPA),
		Amount:         req.Amount,
		Currency:       req.Currency,
		SwitchFee:      domain.ComputeSwitchFee(req.Amount),
		State:          domain.StateInitiated,
		CorrelationID:  req.CorrelationID,
	}

	// reject writes the FAILED row; once that insert lands the claim has a
	// real transaction behind it and must be kept.
	reject := func(reason string) (*domain.TransferResponse, error) {
		resp, rejErr := s.createFailed(ctx, tx, reason)
		rowExists = rejErr == nil
		return resp, rejErr
	}

	// 2. Validate and resolve. Invalid input fails the transaction without
	// any adapter call.
	if reason := validateRequest(req); reason != "" {
		return reject(reason)
	}
	payerMapping, err := s.resolver.Resolve(ctx, req.PayerVPA)
	if err != nil {
		if isResolveRejection(err) {
			return reject(fmt.Sprintf("payer vpa: %v", err))
		}
		return nil, err
	}
	payeeMapping, err := s.resolver.Resolve(ctx, req.PayeeVPA)
	if err != nil {
		if isResolveRejection(err) {
			return reject(fmt.Sprintf("payee vpa: %v", err))
		}
		return nil, err
	}
	tx.PayerBankCode = payerMapping.BankCode
	tx.PayeeBankCode = payeeMapping.BankCode

	// 3. Route against an immutable health snapshot.
	plan, routeErr := s.routeTransaction(ctx, tx)
	if routeErr != nil {
		if errors.Is(routeErr, routing.ErrNoHealthyRoute) {
			return reject(routeErr.Error())
		}
		return nil, routeErr
	}

	if err := s.repo.CreateTransactionWithEvent(ctx, tx, domain.NewTransactionEvent(tx, domain.StateInitiated, "")); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	rowExists = true
	log.Printf("level=info component=orchestrator msg=\"transaction initiated\" tx_id=%s rrn=%s payer_bank=%s payee_bank=%s amount=%d correlation_id=%s",
		tx.ID, tx.RRN, tx.PayerBankCode, tx.PayeeBankCode, tx.Amount, tx.CorrelationID)

	// 4. Run the debit→credit choreography.
	return s.execute(ctx, tx, plan, payerMapping, payeeMapping)
}

// execute drives a freshly created transaction from INITIATED to an outcome.
func (s *Service) execute(ctx context.Context, tx *domain.Transaction, plan *routing.AdapterPlan, payer, payee *domain.VPAMapping) (*domain.TransferResponse, error) {
	if err := s.transition(ctx, tx, domain.StateInitiated, domain.StatePending, store.TransitionParams{Actor: "orchestrator"}, ""); err != nil {
		return nil, err
	}

	debitReq := bankclient.LegRequest{
		RRN:        tx.RRN,
		VPA:        tx.PayerVPA,
		AccountRef: payer.AccountRef,
		Amount:     tx.Amount,
		Currency:   tx.Currency,
		Remark:     "switch debit " + tx.CorrelationID,
	}
	debitResult, debitErr := s.callLeg(ctx, plan.Payer, "debit", func(adapter BankAdapter, callCtx context.Context) (*bankclient.LegResult, error) {
		return adapter.Debit(callCtx, debitReq)
	})

	switch {
	case debitErr == nil && debitResult.Declined():
		return s.fail(ctx, tx, "debit declined: "+debitResult.Reason)
	case debitErr == nil:
		tx.DebitRef = &debitResult.BankRef
	default:
		// Ambiguous debit: ask the payer bank what actually happened before
		// assuming anything.
		status, statusErr := s.queryLegStatus(ctx, plan.Payer, tx.RRN, "debit")
		switch {
		case statusErr == nil && status.Status == bankclient.StatusSuccess:
			tx.DebitRef = &status.BankRef
		case statusErr == nil && status.Declined(), errors.Is(statusErr, bankclient.ErrLegNotFound):
			return s.fail(ctx, tx, "debit did not occur")
		default:
			return s.park(ctx, tx, "debit status unknown")
		}
	}

	creditReq := bankclient.LegRequest{
		RRN:        tx.RRN,
		VPA:        tx.PayeeVPA,
		AccountRef: payee.AccountRef,
		Amount:     tx.Amount,
		Currency:   tx.Currency,
		Remark:     "switch credit " + tx.CorrelationID,
	}
	creditResult, creditErr := s.callLeg(ctx, plan.Payee, "credit", func(adapter BankAdapter, callCtx context.Context) (*bankclient.LegResult, error) {
		return adapter.Credit(callCtx, creditReq)
	})

	switch {
	case creditErr == nil && !creditResult.Declined():
		params := store.TransitionParams{CreditRef: &creditResult.BankRef, Actor: "orchestrator"}
		if err := s.transition(ctx, tx, domain.StatePending, domain.StateSuccess, params, ""); err != nil {
			return nil, err
		}
		tx.CreditRef = &creditResult.BankRef
		log.Printf("level=info component=orchestrator msg=\"transaction settled\" tx_id=%s rrn=%s", tx.ID, tx.RRN)
		return response(tx, "transfer completed"), nil
	case creditErr == nil:
		return s.compensate(ctx, tx, plan.Payer, domain.StatePending, "credit declined: "+creditResult.Reason)
	default:
		status, statusErr := s.queryLegStatus(ctx, plan.Payee, tx.RRN, "credit")
		switch {
		case statusErr == nil && status.Status == bankclient.StatusSuccess:
			params := store.TransitionParams{CreditRef: &status.BankRef, Actor: "orchestrator"}
			if err := s.transition(ctx, tx, domain.StatePending, domain.StateSuccess, params, ""); err != nil {
				return nil, err
			}
			tx.CreditRef = &status.BankRef
			return response(tx, "transfer completed"), nil
		case statusErr == nil && status.Declined(), errors.Is(statusErr, bankclient.ErrLegNotFound):
			return s.compensate(ctx, tx, plan.Payer, domain.StatePending, "credit did not occur")
		default:
			return s.park(ctx, tx, "credit status unknown")
		}
	}
}

// compensate reverses a confirmed debit after a definitive non-credit
// outcome. from is the state the transaction currently holds (PENDING from
// the live path, TIMEOUT from the reconciliation sweep).
func (s *Service) compensate(ctx context.Context, tx *domain.Transaction, payerLeg routing.Leg, from domain.TransactionState, reason string) (*domain.TransferResponse, error) {
	params := store.TransitionParams{FailureReason: &reason, DebitRef: tx.DebitRef, Actor: "orchestrator"}
	if err := s.transition(ctx, tx, from, domain.StateReversing, params, reason); err != nil {
		return nil, err
	}
	tx.FailureReason = &reason
	return s.runReversal(ctx, tx, payerLeg)
}

// runReversal retries the debit reversal with bounded backoff. Exhausting
// the attempts flags the transaction for manual review; it stays REVERSING.
func (s *Service) runReversal(ctx context.Context, tx *domain.Transaction, payerLeg routing.Leg) (*domain.TransferResponse, error) {
	debitRef := ""
	if tx.DebitRef != nil {
		debitRef = *tx.DebitRef
	}
	reason := "unknown"
	if tx.FailureReason != nil {
		reason = *tx.FailureReason
	}
	reversalReq := bankclient.ReversalRequest{
		RRN:      tx.RRN,
		DebitRef: debitRef,
		Amount:   tx.Amount,
		Currency: tx.Currency,
		Reason:   reason,
	}

	attempts := tx.AttemptCount
	for attempts < s.opts.ReversalMaxAttempts {
		attempts++
		result, err := s.callLeg(ctx, payerLeg, "reversal", func(adapter BankAdapter, callCtx context.Context) (*bankclient.LegResult, error) {
			return adapter.Reverse(callCtx, reversalReq)
		})
		if err == nil && !result.Declined() {
			params := store.TransitionParams{AttemptCount: &attempts, Actor: "orchestrator"}
			if trErr := s.transition(ctx, tx, domain.StateReversing, domain.StateReversed, params, reason); trErr != nil {
				return nil, trErr
			}
			tx.AttemptCount = attempts
			log.Printf("level=info component=orchestrator msg=\"debit reversed\" tx_id=%s rrn=%s attempts=%d", tx.ID, tx.RRN, attempts)
			return response(tx, "transfer reversed: "+reason), nil
		}
		log.Printf("level=warn component=orchestrator msg=\"reversal attempt failed\" tx_id=%s rrn=%s attempt=%d err=%v", tx.ID, tx.RRN, attempts, err)
		if attempts < s.opts.ReversalMaxAttempts {
			if sleepErr := s.sleep(ctx, s.opts.ReversalBackoff*time.Duration(attempts)); sleepErr != nil {
				break
			}
		}
	}

	if err := s.repo.FlagManualReview(ctx, tx.ID, "reversal retries exhausted"); err != nil {
		return nil, fmt.Errorf("failed to flag manual review: %w", err)
	}
	tx.AttemptCount = attempts
	tx.ManualReview = true
	log.Printf("level=error component=orchestrator msg=\"reversal retries exhausted; flagged for manual review\" tx_id=%s rrn=%s attempts=%d", tx.ID, tx.RRN, attempts)
	return response(tx, "reversal pending manual review"), nil
}

// callLeg runs one adapter operation under the per-call timeout budget and
// feeds the outcome into the health registry. A HALF_OPEN bank admits a
// single probe at a time; concurrent calls are rejected without touching
// the adapter.
func (s *Service) callLeg(ctx context.Context, leg routing.Leg, op string, call func(BankAdapter, context.Context) (*bankclient.LegResult, error)) (*bankclient.LegResult, error) {
	code := leg.AdapterCode()
	adapter, err := s.adapters.Adapter(code)
	if err != nil {
		return nil, fmt.Errorf("no adapter for bank %s: %w", code, err)
	}
	if s.registry != nil {
		snap := s.registry.Snapshot(code)
		if snap.Circuit == domain.CircuitHalfOpen && !s.registry.AllowProbe(code) {
			return nil, fmt.Errorf("bank %s half-open probe already in flight", code)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.AdapterTimeout)
	defer cancel()

	start := time.Now()
	result, err := call(adapter, callCtx)
	s.recordOutcome(code, op, err, time.Since(start))
	return result, err
}

// queryLegStatus asks the bank for a definitive leg outcome, retrying with
// backoff while the answer stays ambiguous.
func (s *Service) queryLegStatus(ctx context.Context, leg routing.Leg, rrn, legName string) (*bankclient.LegResult, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.StatusQueryRetries; attempt++ {
		result, err := s.callLeg(ctx, leg, "status_query", func(adapter BankAdapter, callCtx context.Context) (*bankclient.LegResult, error) {
			return adapter.QueryStatus(callCtx, rrn, legName)
		})
		switch {
		case err == nil && result.Status != bankclient.StatusPending:
			return result, nil
		case errors.Is(err, bankclient.ErrLegNotFound):
			return nil, err
		case err != nil:
			lastErr = err
		default:
			lastErr = fmt.Errorf("leg %s still pending at bank", legName)
		}
		if attempt < s.opts.StatusQueryRetries {
			if sleepErr := s.sleep(ctx, s.opts.StatusQueryBackoff*time.Duration(attempt)); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}
	return nil, fmt.Errorf("status of %s leg unknown after %d queries: %w", legName, s.opts.StatusQueryRetries, lastErr)
}

func (s *Service) recordOutcome(bankCode, op string, err error, latency time.Duration) {
	if s.registry == nil {
		return
	}
	outcome := health.OutcomeSuccess
	switch {
	case errors.Is(err, bankclient.ErrAdapterTimeout):
		outcome = health.OutcomeTimeout
	case errors.Is(err, bankclient.ErrLegNotFound):
		// A definitive "not found" is a healthy answer.
	case err != nil:
		outcome = health.OutcomeFailure
	}
	s.registry.Record(bankCode, outcome, latency)
	if outcome != health.OutcomeSuccess {
		log.Printf("level=warn component=orchestrator msg=\"adapter call unhealthy\" bank=%s op=%s outcome=%d latency_ms=%d", bankCode, op, outcome, latency.Milliseconds())
	}
}

// routeTransaction loads both bank records and routes against a snapshot of
// every candidate bank, fallbacks included.
func (s *Service) routeTransaction(ctx context.Context, tx *domain.Transaction) (*routing.AdapterPlan, error) {
	payerBank, err := s.repo.GetBankByCode(ctx, tx.PayerBankCode)
	if err != nil && !errors.Is(err, store.ErrBankNotFound) {
		return nil, err
	}
	payeeBank, err := s.repo.GetBankByCode(ctx, tx.PayeeBankCode)
	if err != nil && !errors.Is(err, store.ErrBankNotFound) {
		return nil, err
	}

	var codes []string
	for _, bank := range []*domain.Bank{payerBank, payeeBank} {
		if bank == nil {
			continue
		}
		codes = append(codes, bank.Code)
		codes = append(codes, bank.FallbackCodes...)
	}
	var snapshots map[string]domain.HealthSnapshot
	if s.registry != nil {
		snapshots = s.registry.Snapshots(codes...)
	}
	return s.router.Route(payerBank, payeeBank, snapshots)
}

// transition persists a state change plus its outbox event and mirrors the
// new state onto the in-memory record.
func (s *Service) transition(ctx context.Context, tx *domain.Transaction, from, to domain.TransactionState, params store.TransitionParams, reason string) error {
	event := domain.NewTransactionEvent(tx, to, reason)
	if err := s.repo.TransitionTransactionWithEvent(ctx, tx.ID, from, to, params, event); err != nil {
		return fmt.Errorf("transition %s -> %s failed: %w", from, to, err)
	}
	tx.State = to
	return nil
}

// fail moves a PENDING transaction to FAILED.
func (s *Service) fail(ctx context.Context, tx *domain.Transaction, reason string) (*domain.TransferResponse, error) {
	params := store.TransitionParams{FailureReason: &reason, Actor: "orchestrator"}
	if err := s.transition(ctx, tx, domain.StatePending, domain.StateFailed, params, reason); err != nil {
		return nil, err
	}
	tx.FailureReason = &reason
	log.Printf("level=info component=orchestrator msg=\"transaction failed\" tx_id=%s rrn=%s reason=%q", tx.ID, tx.RRN, reason)
	return response(tx, reason), nil
}

// park moves a PENDING transaction to TIMEOUT for the reconciliation sweep.
func (s *Service) park(ctx context.Context, tx *domain.Transaction, reason string) (*domain.TransferResponse, error) {
	params := store.TransitionParams{FailureReason: &reason, Actor: "orchestrator"}
	if err := s.transition(ctx, tx, domain.StatePending, domain.StateTimeout, params, reason); err != nil {
		return nil, err
	}
	tx.FailureReason = &reason
	log.Printf("level=warn component=orchestrator msg=\"transaction parked for reconciliation\" tx_id=%s rrn=%s reason=%q", tx.ID, tx.RRN, reason)
	return response(tx, "still resolving: "+reason), nil
}

// createFailed records a transaction that is rejected before any adapter
// call: one row in FAILED, one FAILED event, nothing to reverse.
func (s *Service) createFailed(ctx context.Context, tx *domain.Transaction, reason string) (*domain.TransferResponse, error) {
	tx.State = domain.StateFailed
	tx.FailureReason = &reason
	if err := s.repo.CreateTransactionWithEvent(ctx, tx, domain.NewTransactionEvent(tx, domain.StateFailed, reason)); err != nil {
		return nil, fmt.Errorf("failed to record rejected transaction: %w", err)
	}
	log.Printf("level=info component=orchestrator msg=\"transaction rejected\" tx_id=%s reason=%q correlation_id=%s", tx.ID, reason, tx.CorrelationID)
	return response(tx, reason), nil
}

// awaitExistingResult polls the winner's row until it reaches a terminal
// state or the wait budget runs out, in which case the caller gets the id
// and the current state for later polling.
func (s *Service) awaitExistingResult(ctx context.Context, winnerID uuid.UUID) (*domain.TransferResponse, error) {
	deadline := time.Now().Add(s.opts.IdempotencyWaitTimeout)
	var last *domain.Transaction
	for {
		tx, err := s.repo.FindTransactionByID(ctx, winnerID)
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			// Winner claimed the key but has not written the row yet.
		case err != nil:
			return nil, err
		default:
			last = tx
			if tx.State.IsTerminal() {
				return response(tx, "duplicate request: replaying prior result"), nil
			}
		}
		if time.Now().After(deadline) {
			break
		}
		if sleepErr := s.sleep(ctx, 100*time.Millisecond); sleepErr != nil {
			return nil, sleepErr
		}
	}
	if last == nil {
		return nil, ErrStillResolving
	}
	return response(last, "still resolving"), nil
}

// GetTransaction returns one transaction by id.
func (s *Service) GetTransaction(ctx context.Context, txID uuid.UUID) (*domain.Transaction, error) {
	return s.repo.FindTransactionByID(ctx, txID)
}

// GetTransactionByRRN returns one transaction by retrieval reference number.
func (s *Service) GetTransactionByRRN(ctx context.Context, rrn string) (*domain.Transaction, error) {
	return s.repo.FindTransactionByRRN(ctx, rrn)
}

func validateRequest(req domain.TransferRequest) string {
	if req.Amount <= 0 {
		return "amount must be positive"
	}
	if req.Currency == "" {
		return "currency is required"
	}
	if vpa.Normalize(req.PayerVPA) == vpa.Normalize(req.PayeeVPA) {
		return "payer and payee must differ"
	}
	return ""
}

func isResolveRejection(err error) bool {
	return errors.Is(err, vpa.ErrInvalidVPA) || errors.Is(err, vpa.ErrVPANotFound) || errors.Is(err, vpa.ErrVPAInactive)
}

func response(tx *domain.Transaction, message string) *domain.TransferResponse {
	return &domain.TransferResponse{
		TransactionID: tx.ID.String(),
		RRN:           tx.RRN,
		State:         string(tx.State),
		Message:       message,
	}
}

func hashIdempotencyKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum)
}

// generateRRN returns a retrieval reference number. Banks key disputes and
// status queries by RRN, so the wall-clock component carries a per-call
// entropy suffix to stay unique across switch instances and clock steps.
func generateRRN() string {
	return fmt.Sprintf("RRN%d%s", time.Now().UnixNano(), uuid.NewString()[:8])
}
