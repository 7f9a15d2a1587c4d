/**
 * @description
 * Settlement models: netting batches and the double-entry ledger rows they
 * produce. A batch is identified deterministically from its window and bank
 * pairs so that re-running a crashed window reproduces the same batch instead
 * of a duplicate.
 */

package domain

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SettlementBatchStatus is the lifecycle of a netting batch.
type SettlementBatchStatus string

const (
	BatchOpen       SettlementBatchStatus = "OPEN"
	BatchClosed     SettlementBatchStatus = "CLOSED"
	BatchReconciled SettlementBatchStatus = "RECONCILED"
)

// BankPairNet is the net obligation between one ordered bank pair within a
// settlement window. Amount is what PayerBank owes PayeeBank in paisa.
type BankPairNet struct {
	PayerBank string `json:"payer_bank"`
	PayeeBank string `json:"payee_bank"`
	NetAmount int64  `json:"net_amount"`
	TxCount   int    `json:"tx_count"`
}

// SettlementBatch is one closed netting window for a set of bank pairs.
type SettlementBatch struct {
	ID           string                `json:"id"`
	WindowID     string                `json:"window_id"`
	WindowStart  time.Time             `json:"window_start"`
	WindowEnd    time.Time             `json:"window_end"`
	Status       SettlementBatchStatus `json:"status"`
	Pairs        []BankPairNet         `json:"pairs"`
	Transactions []uuid.UUID           `json:"transaction_ids"`
	CreatedAt    time.Time             `json:"created_at"`
	ClosedAt     *time.Time            `json:"closed_at,omitempty"`
}

// LedgerEntry is one side of a double-entry record. Entries are append-only;
// for any settlement batch sum(debits) must equal sum(credits).
type LedgerEntry struct {
	ID            uuid.UUID  `json:"id"`
	AccountID     string     `json:"account_id"` // bank clearing account, e.g. "clearing:HDFC"
	Debit         int64      `json:"debit"`
	Credit        int64      `json:"credit"`
	Currency      string     `json:"currency"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	BatchID       string     `json:"batch_id"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SettlementBatchID derives the deterministic batch id for a window and its
// bank pairs. Pairs are sorted before hashing so the id does not depend on
// grouping order.
func SettlementBatchID(windowID string, pairs []BankPairNet) string {
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, p.PayerBank+">"+p.PayeeBank)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(windowID))
	for _, k := range keys {
		h.Write([]byte("|"))
		h.Write([]byte(k))
	}
	return fmt.Sprintf("stl_%x", h.Sum(nil)[:16])
}
