/**
 * @description
 * This file defines the core domain models for the switch-service. These structs
 * represent the entities used throughout the transaction orchestration logic,
 * database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (paisa), which
 *   avoids floating-point inaccuracies with financial data.
 * - Transaction state transitions are monotonic: the allowed-transition table in
 *   this file is the single source of truth, and the repository refuses writes
 *   that are not listed here.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionState is the lifecycle state of a switch transaction.
type TransactionState string

const (
	StateInitiated TransactionState = "INITIATED"
	StatePending   TransactionState = "PENDING"
	StateSuccess   TransactionState = "SUCCESS"
	StateFailed    TransactionState = "FAILED"
	StateTimeout   TransactionState = "TIMEOUT"
	StateReversing TransactionState = "REVERSING"
	StateReversed  TransactionState = "REVERSED"
)

// allowedTransitions lists every legal state edge. TIMEOUT is stable until the
// reconciliation sweep either fails the transaction (debit never landed) or
// starts a reversal (debit landed, credit did not).
var allowedTransitions = map[TransactionState][]TransactionState{
	StateInitiated: {StatePending, StateFailed},
	StatePending:   {StateSuccess, StateFailed, StateTimeout, StateReversing},
	StateTimeout:   {StateFailed, StateReversing},
	StateReversing: {StateReversed},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to TransactionState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state is final. TIMEOUT and REVERSING are
// working states owned by the reconciliation sweep, not terminal ones.
func (s TransactionState) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateReversed
}

// Transaction is the central record for one money movement through the switch.
// It maps directly to the `transactions` table.
type Transaction struct {
	ID             uuid.UUID        `json:"id"`
	IdempotencyKey string           `json:"idempotency_key"`
	RRN            string           `json:"rrn"`
	PayerVPA       string           `json:"payer_vpa"`
	PayeeVPA       string           `json:"payee_vpa"`
	PayerBankCode  string           `json:"payer_bank_code,omitempty"`
	PayeeBankCode  string           `json:"payee_bank_code,omitempty"`
	Amount         int64            `json:"amount"` // in paisa
	Currency       string           `json:"currency"`
	SwitchFee      int64            `json:"switch_fee"` // in paisa
	State          TransactionState `json:"state"`
	AttemptCount   int              `json:"attempt_count"`
	CorrelationID  string           `json:"correlation_id"`
	DebitRef       *string          `json:"debit_ref,omitempty"`
	CreditRef      *string          `json:"credit_ref,omitempty"`
	FailureReason  *string          `json:"failure_reason,omitempty"`
	ManualReview   bool             `json:"manual_review"`
	SettlementID   *string          `json:"settlement_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TransferRequest is the DTO for incoming transfer requests from the transport
// layer (PSP facing).
type TransferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	PayerVPA       string `json:"payer_vpa"`
	PayeeVPA       string `json:"payee_vpa"`
	Amount         int64  `json:"amount"` // in paisa
	Currency       string `json:"currency"`
	Signature      string `json:"signature"`
	CorrelationID  string `json:"correlation_id"`
}

// TransferResponse is returned to the caller for every transfer submission,
// including replays of a previously completed request.
type TransferResponse struct {
	TransactionID string `json:"transaction_id"`
	RRN           string `json:"rrn,omitempty"`
	State         string `json:"state"`
	Message       string `json:"message"`
}

// ComputeSwitchFee computes the switch fee for an amount: 0.1% with a minimum
// of one minor unit.
func ComputeSwitchFee(amount int64) int64 {
	fee := amount / 1000
	if fee < 1 {
		fee = 1
	}
	return fee
}
