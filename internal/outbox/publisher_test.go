package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/velopay/switch-service/internal/domain"
)

type outboxStoreStub struct {
	pending   []domain.OutboxEvent
	delivered []uuid.UUID
	markErr   error
}

func (s *outboxStoreStub) FetchPendingOutboxEvents(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *outboxStoreStub) MarkOutboxEventDelivered(_ context.Context, eventID uuid.UUID) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.delivered = append(s.delivered, eventID)
	return nil
}

type producerStub struct {
	published  []string // routing keys in publish order
	messageIDs []string
	failAfter  int // fail every publish once this many have succeeded; <0 never fails
}

func (p *producerStub) Publish(_ context.Context, _, routingKey string, _ interface{}) error {
	p.published = append(p.published, routingKey)
	return nil
}

func (p *producerStub) PublishRaw(_ context.Context, _, routingKey, messageID string, _ []byte) error {
	if p.failAfter >= 0 && len(p.published) >= p.failAfter {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, routingKey)
	p.messageIDs = append(p.messageIDs, messageID)
	return nil
}

func (p *producerStub) Close() {}

func pendingEvent(eventType string, position int64) domain.OutboxEvent {
	payload, _ := json.Marshal(map[string]string{"state": eventType})
	return domain.OutboxEvent{
		ID:       uuid.New(),
		Topic:    domain.TopicTransactions,
		Type:     eventType,
		Payload:  payload,
		Status:   domain.OutboxPending,
		Position: position,
	}
}

func TestPublishPending_DeliversInOrder(t *testing.T) {
	events := []domain.OutboxEvent{
		pendingEvent("transaction.state.pending", 1),
		pendingEvent("transaction.state.reversing", 2),
		pendingEvent("transaction.state.reversed", 3),
	}
	repo := &outboxStoreStub{pending: events}
	producer := &producerStub{failAfter: -1}
	publisher := NewPublisher(repo, producer, time.Second, 10)

	delivered, err := publisher.PublishPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 3 {
		t.Fatalf("expected 3 delivered, got %d", delivered)
	}
	want := []string{"transaction.state.pending", "transaction.state.reversing", "transaction.state.reversed"}
	for i := range want {
		if producer.published[i] != want[i] {
			t.Fatalf("publish %d: expected %s, got %s", i, want[i], producer.published[i])
		}
	}
	if len(repo.delivered) != 3 {
		t.Fatalf("expected 3 marked delivered, got %d", len(repo.delivered))
	}
}

func TestPublishPending_StampsEventIDForDedup(t *testing.T) {
	event := pendingEvent("transaction.state.success", 1)
	repo := &outboxStoreStub{pending: []domain.OutboxEvent{event}}
	producer := &producerStub{failAfter: -1}
	publisher := NewPublisher(repo, producer, time.Second, 10)

	if _, err := publisher.PublishPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(producer.messageIDs) != 1 || producer.messageIDs[0] != event.ID.String() {
		t.Fatalf("expected event id as message id, got %v", producer.messageIDs)
	}
}

func TestPublishPending_FailureHaltsBatch(t *testing.T) {
	events := []domain.OutboxEvent{
		pendingEvent("transaction.state.pending", 1),
		pendingEvent("transaction.state.success", 2),
	}
	repo := &outboxStoreStub{pending: events}
	producer := &producerStub{failAfter: 1}
	publisher := NewPublisher(repo, producer, time.Second, 10)

	delivered, err := publisher.PublishPending(context.Background())
	if err == nil {
		t.Fatal("expected error from failed publish")
	}
	if delivered != 1 {
		t.Fatalf("expected 1 delivered before halt, got %d", delivered)
	}
	if len(repo.delivered) != 1 {
		t.Fatalf("later events must stay pending, got %d marked", len(repo.delivered))
	}
}

func TestPublishPending_UnmarkedDeliveryHaltsForRedelivery(t *testing.T) {
	repo := &outboxStoreStub{
		pending: []domain.OutboxEvent{pendingEvent("transaction.state.success", 1)},
		markErr: errors.New("database unavailable"),
	}
	producer := &producerStub{failAfter: -1}
	publisher := NewPublisher(repo, producer, time.Second, 10)

	delivered, err := publisher.PublishPending(context.Background())
	if err == nil {
		t.Fatal("expected error when marking fails")
	}
	if delivered != 0 {
		t.Fatalf("unmarked event must not count as delivered, got %d", delivered)
	}
	if len(producer.published) != 1 {
		t.Fatalf("event should have been published once, got %d", len(producer.published))
	}
}
