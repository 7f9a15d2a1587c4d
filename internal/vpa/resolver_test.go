package vpa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/velopay/switch-service/internal/domain"
	"github.com/velopay/switch-service/internal/store"
)

type stubMappingStore struct {
	mappings map[string]*domain.VPAMapping
	calls    int
}

func (s *stubMappingStore) GetVPAMapping(_ context.Context, handle string) (*domain.VPAMapping, error) {
	s.calls++
	mapping, ok := s.mappings[handle]
	if !ok {
		return nil, store.ErrVPANotFound
	}
	return mapping, nil
}

func TestResolve_ActiveMapping(t *testing.T) {
	repo := &stubMappingStore{mappings: map[string]*domain.VPAMapping{
		"alice@okhdfc": {Handle: "alice@okhdfc", BankCode: "HDFC", AccountRef: "acc-001", Active: true},
	}}
	resolver := NewResolver(repo, nil, time.Hour)

	mapping, err := resolver.Resolve(context.Background(), "alice@okhdfc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mapping.BankCode != "HDFC" || mapping.AccountRef != "acc-001" {
		t.Fatalf("unexpected mapping: %+v", mapping)
	}
}

func TestResolve_NormalizesAddress(t *testing.T) {
	repo := &stubMappingStore{mappings: map[string]*domain.VPAMapping{
		"alice@okhdfc": {Handle: "alice@okhdfc", BankCode: "HDFC", Active: true},
	}}
	resolver := NewResolver(repo, nil, time.Hour)

	if _, err := resolver.Resolve(context.Background(), "  Alice@OkHDFC  "); err != nil {
		t.Fatalf("expected normalized lookup to succeed, got %v", err)
	}
}

func TestResolve_InvalidFormatSkipsLookup(t *testing.T) {
	repo := &stubMappingStore{}
	resolver := NewResolver(repo, nil, time.Hour)

	for _, address := range []string{"", "no-at-sign", "@okhdfc", "alice@", "alice@ok hdfc", "a@b@c"} {
		if _, err := resolver.Resolve(context.Background(), address); !errors.Is(err, ErrInvalidVPA) {
			t.Fatalf("address %q: expected ErrInvalidVPA, got %v", address, err)
		}
	}
	if repo.calls != 0 {
		t.Fatalf("expected no repository calls for invalid addresses, got %d", repo.calls)
	}
}

func TestResolve_NotFound(t *testing.T) {
	resolver := NewResolver(&stubMappingStore{}, nil, time.Hour)

	if _, err := resolver.Resolve(context.Background(), "ghost@okhdfc"); !errors.Is(err, ErrVPANotFound) {
		t.Fatalf("expected ErrVPANotFound, got %v", err)
	}
}

func TestResolve_InactiveMapping(t *testing.T) {
	repo := &stubMappingStore{mappings: map[string]*domain.VPAMapping{
		"dormant@okhdfc": {Handle: "dormant@okhdfc", BankCode: "HDFC", Active: false},
	}}
	resolver := NewResolver(repo, nil, time.Hour)

	if _, err := resolver.Resolve(context.Background(), "dormant@okhdfc"); !errors.Is(err, ErrVPAInactive) {
		t.Fatalf("expected ErrVPAInactive, got %v", err)
	}
}

func TestInvalidate_NilClientIsNoop(t *testing.T) {
	resolver := NewResolver(&stubMappingStore{}, nil, time.Hour)

	if err := resolver.Invalidate(context.Background(), "alice@okhdfc"); err != nil {
		t.Fatalf("expected nil-client invalidation to be a no-op, got %v", err)
	}
}
