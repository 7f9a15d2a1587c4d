/**
 * @description
 * The VPA resolver maps virtual payment addresses ("alice@okhdfc") to the
 * bank and account reference that back them. Lookups are read-through
 * cached in Redis with a bounded TTL so the hot path avoids a database
 * round trip; provisioning events from the directory service invalidate
 * cached entries so a re-homed VPA never routes to the old bank past the
 * invalidation.
 *
 * Caching is best-effort: a nil or unreachable Redis client degrades to
 * straight database lookups rather than failing transfers.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: cache client.
 * - internal/store: authoritative VPA mapping lookups.
 */
package vpa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velopay/switch-service/internal/domain"
	"github.com/velopay/switch-service/internal/store"
)

var (
	// ErrInvalidVPA is returned for addresses that do not match the
	// local-part@handle shape. No lookup is attempted.
	ErrInvalidVPA = errors.New("invalid vpa format")

	// ErrVPANotFound is returned when no mapping exists for the address.
	ErrVPANotFound = errors.New("vpa not found")

	// ErrVPAInactive is returned when a mapping exists but has been
	// deactivated by the directory service.
	ErrVPAInactive = errors.New("vpa inactive")
)

var vpaPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,62}@[a-z][a-z0-9]{1,15}$`)

// MappingStore is the subset of the repository the resolver needs.
type MappingStore interface {
	GetVPAMapping(ctx context.Context, handle string) (*domain.VPAMapping, error)
}

// Resolver performs cached VPA-to-bank resolution.
type Resolver struct {
	repo   MappingStore
	client redis.UniversalClient
	ttl    time.Duration
}

// NewResolver creates a resolver. The redis client may be nil, in which case
// every lookup goes to the repository.
func NewResolver(repo MappingStore, client redis.UniversalClient, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Resolver{repo: repo, client: client, ttl: ttl}
}

// Normalize lowercases and trims an address. Validation and cache keys both
// operate on the normalized form.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Resolve returns the active mapping for the given address.
func (r *Resolver) Resolve(ctx context.Context, address string) (*domain.VPAMapping, error) {
	normalized := Normalize(address)
	if !vpaPattern.MatchString(normalized) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVPA, address)
	}

	if cached := r.readCache(ctx, normalized); cached != nil {
		if !cached.Active {
			return nil, ErrVPAInactive
		}
		return cached, nil
	}

	mapping, err := r.repo.GetVPAMapping(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrVPANotFound) {
			return nil, ErrVPANotFound
		}
		return nil, fmt.Errorf("vpa lookup failed: %w", err)
	}

	// Inactive mappings are cached too: a deactivated VPA is a stable fact
	// and repeated transfer attempts should not hammer the database.
	r.writeCache(ctx, normalized, mapping)

	if !mapping.Active {
		return nil, ErrVPAInactive
	}
	return mapping, nil
}

// Invalidate drops the cached entry for an address. Called by the
// provisioning event consumer when the directory re-homes or deactivates a
// VPA.
func (r *Resolver) Invalidate(ctx context.Context, address string) error {
	if r.client == nil {
		return nil
	}
	normalized := Normalize(address)
	if err := r.client.Del(ctx, cacheKey(normalized)).Err(); err != nil {
		return fmt.Errorf("vpa cache invalidation failed: %w", err)
	}
	return nil
}

func cacheKey(normalized string) string {
	return "switch:vpa:" + normalized
}

func (r *Resolver) readCache(ctx context.Context, normalized string) *domain.VPAMapping {
	if r.client == nil {
		return nil
	}
	raw, err := r.client.Get(ctx, cacheKey(normalized)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		log.Printf("level=warn component=vpa msg=\"cache read failed; falling back to database\" vpa=%s err=%v", normalized, err)
		return nil
	}
	var mapping domain.VPAMapping
	if unmarshalErr := json.Unmarshal(raw, &mapping); unmarshalErr != nil {
		log.Printf("level=warn component=vpa msg=\"cache entry corrupt; dropping\" vpa=%s err=%v", normalized, unmarshalErr)
		if delErr := r.client.Del(ctx, cacheKey(normalized)).Err(); delErr != nil {
			log.Printf("level=warn component=vpa msg=\"corrupt cache entry delete failed\" vpa=%s err=%v", normalized, delErr)
		}
		return nil
	}
	return &mapping
}

func (r *Resolver) writeCache(ctx context.Context, normalized string, mapping *domain.VPAMapping) {
	if r.client == nil {
		return
	}
	raw, err := json.Marshal(mapping)
	if err != nil {
		return
	}
	if setErr := r.client.Set(ctx, cacheKey(normalized), raw, r.ttl).Err(); setErr != nil {
		log.Printf("level=warn component=vpa msg=\"cache write failed\" vpa=%s err=%v", normalized, setErr)
	}
}
