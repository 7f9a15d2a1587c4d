/**
 * @description
 * Outbox publisher. A background worker polls PENDING outbox rows in
 * position order and relays them to RabbitMQ, marking each row DELIVERED
 * only after the publish call returns. A crash between publish and mark
 * causes redelivery on the next poll; consumers dedup on the event id that
 * rides along as the AMQP message id.
 *
 * A publish failure stops the current batch instead of skipping ahead, so
 * the per-aggregate event order the database position column establishes is
 * never violated by delivering a later event before an earlier one.
 *
 * @dependencies
 * - internal/domain, internal/store: Outbox rows and their persistence.
 * - pkg/rabbitmq: The event bus producer.
 */

package outbox

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/velopay/switch-service/internal/domain"
	"github.com/velopay/switch-service/pkg/rabbitmq"
)

// Store is the subset of the repository the publisher needs.
type Store interface {
	FetchPendingOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkOutboxEventDelivered(ctx context.Context, eventID uuid.UUID) error
}

// Publisher drains the outbox to the event bus.
type Publisher struct {
	repo      Store
	producer  rabbitmq.Publisher
	interval  time.Duration
	batchSize int
}

// NewPublisher creates an outbox publisher.
func NewPublisher(repo Store, producer rabbitmq.Publisher, interval time.Duration, batchSize int) *Publisher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Publisher{
		repo:      repo,
		producer:  producer,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until the context is canceled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Printf("level=info component=outbox_publisher msg=\"publisher started\" interval=%s batch_size=%d", p.interval, p.batchSize)
	for {
		select {
		case <-ctx.Done():
			log.Printf("level=info component=outbox_publisher msg=\"publisher stopped\"")
			return
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil {
				log.Printf("level=warn component=outbox_publisher msg=\"publish pass failed\" err=%v", err)
			}
		}
	}
}

// PublishPending relays one batch of pending events and returns how many
// were delivered. The first failed publish ends the pass; the remaining
// rows stay PENDING and keep their order.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	events, err := p.repo.FetchPendingOutboxEvents(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, event := range events {
		if err := p.producer.PublishRaw(ctx, event.Topic, event.Type, event.ID.String(), event.Payload); err != nil {
			log.Printf("level=warn component=outbox_publisher msg=\"publish failed; halting batch\" event_id=%s topic=%s type=%s err=%v",
				event.ID, event.Topic, event.Type, err)
			return delivered, err
		}
		if err := p.repo.MarkOutboxEventDelivered(ctx, event.ID); err != nil {
			// The event went out but the row stays PENDING: it will be
			// redelivered and consumers dedup on the event id.
			log.Printf("level=warn component=outbox_publisher msg=\"delivered event not marked; will redeliver\" event_id=%s err=%v", event.ID, err)
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
