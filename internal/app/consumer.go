/**
 * @description
 * Provisioning event consumer. The VPA directory is owned by an external
 * provisioning service; this consumer listens for its change events and
 * invalidates the local VPA cache so a re-homed or deactivated address never
 * routes on stale data. Bank registry changes likewise drop the cached
 * adapter client for the affected bank.
 */

package app

import (
	"context"
	"encoding/json"
	"log"

	"github.com/velopay/switch-service/pkg/rabbitmq"
)

// ProvisioningExchange is the topic exchange the directory service publishes
// to.
const ProvisioningExchange = "provisioning_events"

// CacheInvalidator drops one cached VPA entry.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, address string) error
}

type vpaEvent struct {
	Handle string `json:"handle"`
}

type bankEvent struct {
	BankCode string `json:"bank_code"`
}

// StartProvisioningConsumer binds the invalidation handlers to the
// provisioning exchange. Handlers return false to re-queue so a transient
// cache failure does not lose the invalidation.
func StartProvisioningConsumer(consumer *rabbitmq.Consumer, queueName string, cache CacheInvalidator, adapters *ClientRegistry) error {
	bindings := map[string]func([]byte) bool{
		"vpa.updated":     vpaInvalidationHandler(cache),
		"vpa.deactivated": vpaInvalidationHandler(cache),
		"bank.updated":    bankInvalidationHandler(adapters),
	}
	return consumer.ConsumeWithBindings(ProvisioningExchange, queueName, bindings)
}

func vpaInvalidationHandler(cache CacheInvalidator) func([]byte) bool {
	return func(body []byte) bool {
		var event vpaEvent
		if err := json.Unmarshal(body, &event); err != nil {
			log.Printf("level=warn component=provisioning_consumer msg=\"unparsable vpa event; dropping\" err=%v", err)
			return true
		}
		if event.Handle == "" {
			return true
		}
		if err := cache.Invalidate(context.Background(), event.Handle); err != nil {
			log.Printf("level=warn component=provisioning_consumer msg=\"vpa cache invalidation failed; re-queuing\" vpa=%s err=%v", event.Handle, err)
			return false
		}
		log.Printf("level=info component=provisioning_consumer msg=\"vpa cache invalidated\" vpa=%s", event.Handle)
		return true
	}
}

func bankInvalidationHandler(adapters *ClientRegistry) func([]byte) bool {
	return func(body []byte) bool {
		var event bankEvent
		if err := json.Unmarshal(body, &event); err != nil {
			log.Printf("level=warn component=provisioning_consumer msg=\"unparsable bank event; dropping\" err=%v", err)
			return true
		}
		if event.BankCode == "" {
			return true
		}
		if adapters != nil {
			adapters.Invalidate(event.BankCode)
		}
		log.Printf("level=info component=provisioning_consumer msg=\"bank adapter client invalidated\" bank=%s", event.BankCode)
		return true
	}
}
