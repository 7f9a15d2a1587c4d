/**
 * @description
 * Bank adapter registry. Builds one bankclient per registered bank from its
 * stored endpoint and key, caching clients so repeated calls to the same
 * bank reuse the underlying HTTP client and its connection pool. Upserting
 * a bank through the admin surface invalidates the cached client so the new
 * endpoint takes effect without a restart.
 */

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/velopay/switch-service/internal/store"
	"github.com/velopay/switch-service/pkg/bankclient"
)

// ClientRegistry resolves bank codes to adapter clients backed by the bank
// registry table.
type ClientRegistry struct {
	repo    store.Repository
	timeout time.Duration

	mu      sync.RWMutex
	clients map[string]*bankclient.Client
}

// NewClientRegistry creates an adapter registry. timeout bounds each adapter
// HTTP call at the transport level; the orchestrator applies its own per-call
// budget on top via context.
func NewClientRegistry(repo store.Repository, timeout time.Duration) *ClientRegistry {
	return &ClientRegistry{
		repo:    repo,
		timeout: timeout,
		clients: make(map[string]*bankclient.Client),
	}
}

// Adapter returns the client for a bank code, creating it on first use.
func (r *ClientRegistry) Adapter(bankCode string) (BankAdapter, error) {
	r.mu.RLock()
	client, ok := r.clients[bankCode]
	r.mu.RUnlock()
	if ok {
		return client, nil
	}

	bank, err := r.repo.GetBankByCode(context.Background(), bankCode)
	if err != nil {
		return nil, fmt.Errorf("bank %s not registered: %w", bankCode, err)
	}
	if !bank.Active {
		return nil, fmt.Errorf("bank %s is not active", bankCode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[bankCode]; ok {
		return existing, nil
	}
	client = bankclient.NewClient(bank.Code, bank.EndpointURL, bank.APIKey, r.timeout)
	r.clients[bankCode] = client
	return client, nil
}

// Invalidate drops the cached client for a bank, forcing a rebuild from the
// current registry row on next use.
func (r *ClientRegistry) Invalidate(bankCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, bankCode)
}
