/**
 * @description
 * Outbox event model. Every state-changing write appends one of these rows in
 * the same database transaction; a separate publisher delivers them to the
 * event bus at-least-once. Consumers dedup on the event id.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the delivery status of an outbox row.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxDelivered OutboxStatus = "DELIVERED"
)

// Event bus topics. Transaction lifecycle events go to the transactions
// exchange, batch lifecycle events to settlements.
const (
	TopicTransactions = "transactions"
	TopicSettlements  = "settlements"
)

// OutboxEvent is one domain event awaiting delivery. Position is assigned by
// the database (bigserial) and gives a stable per-aggregate publish order.
type OutboxEvent struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	Type        string          `json:"type"` // routing key, e.g. "transaction.state.pending"
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	Status      OutboxStatus    `json:"status"`
	Position    int64           `json:"position"`
	CreatedAt   time.Time       `json:"created_at"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

// TransactionEventPayload is the payload carried on the transactions topic,
// one event per state transition.
type TransactionEventPayload struct {
	TransactionID string    `json:"transaction_id"`
	RRN           string    `json:"rrn,omitempty"`
	State         string    `json:"state"`
	Reason        string    `json:"reason,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// SettlementEventPayload is the payload carried on the settlements topic.
type SettlementEventPayload struct {
	BatchID   string    `json:"batch_id"`
	WindowID  string    `json:"window_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTransactionEvent builds the outbox row for one transaction state
// transition.
func NewTransactionEvent(tx *Transaction, state TransactionState, reason string) OutboxEvent {
	payload, _ := json.Marshal(TransactionEventPayload{
		TransactionID: tx.ID.String(),
		RRN:           tx.RRN,
		State:         string(state),
		Reason:        reason,
		CorrelationID: tx.CorrelationID,
		Timestamp:     time.Now().UTC(),
	})
	return OutboxEvent{
		ID:          uuid.New(),
		Topic:       TopicTransactions,
		Type:        "transaction.state." + lower(string(state)),
		AggregateID: tx.ID.String(),
		Payload:     payload,
		Status:      OutboxPending,
	}
}

// NewSettlementEvent builds the outbox row for a batch lifecycle change.
func NewSettlementEvent(batchID, windowID string, status SettlementBatchStatus) OutboxEvent {
	payload, _ := json.Marshal(SettlementEventPayload{
		BatchID:   batchID,
		WindowID:  windowID,
		Status:    string(status),
		Timestamp: time.Now().UTC(),
	})
	return OutboxEvent{
		ID:          uuid.New(),
		Topic:       TopicSettlements,
		Type:        "settlement.batch." + lower(string(status)),
		AggregateID: batchID,
		Payload:     payload,
		Status:      OutboxPending,
	}
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
