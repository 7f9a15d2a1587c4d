package routing

import (
	"errors"
	"testing"
	"time"

	"github.com/velopay/switch-service/internal/domain"
)

func bank(code string, fallbacks ...string) *domain.Bank {
	return &domain.Bank{Code: code, Active: true, FallbackCodes: fallbacks}
}

func snap(code string, circuit domain.CircuitState, successRate float64, p95 time.Duration) domain.HealthSnapshot {
	return domain.HealthSnapshot{
		BankCode:    code,
		SuccessRate: successRate,
		P95Latency:  p95,
		Circuit:     circuit,
		SampleCount: 50,
	}
}

func TestRoute_IsDeterministic(t *testing.T) {
	e := NewEngine(Weights{SuccessRate: 0.6, Latency: 0.4})
	snaps := map[string]domain.HealthSnapshot{
		"HDFC": snap("HDFC", domain.CircuitClosed, 0.99, 40*time.Millisecond),
		"SBIN": snap("SBIN", domain.CircuitClosed, 0.97, 80*time.Millisecond),
	}

	first, err := e.Route(bank("HDFC"), bank("SBIN"), snaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := e.Route(bank("HDFC"), bank("SBIN"), snaps)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *again != *first {
			t.Fatalf("route must be pure: got %+v then %+v", first, again)
		}
	}
}

func TestRoute_OpenPayerCircuitIsNoHealthyRoute(t *testing.T) {
	e := NewEngine(Weights{SuccessRate: 0.6, Latency: 0.4})
	snaps := map[string]domain.HealthSnapshot{
		"HDFC": snap("HDFC", domain.CircuitOpen, 0.2, 900*time.Millisecond),
		"SBIN": snap("SBIN", domain.CircuitClosed, 0.99, 30*time.Millisecond),
	}

	_, err := e.Route(bank("HDFC"), bank("SBIN"), snaps)
	if !errors.Is(err, ErrNoHealthyRoute) {
		t.Fatalf("expected ErrNoHealthyRoute for open payer circuit, got %v", err)
	}
}

func TestRoute_HalfOpenBankRemainsRoutable(t *testing.T) {
	e := NewEngine(Weights{SuccessRate: 0.6, Latency: 0.4})
	snaps := map[string]domain.HealthSnapshot{
		"HDFC": snap("HDFC", domain.CircuitHalfOpen, 0.4, 200*time.Millisecond),
		"SBIN": snap("SBIN", domain.CircuitClosed, 0.99, 30*time.Millisecond),
	}

	plan, err := e.Route(bank("HDFC"), bank("SBIN"), snaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Payer.AdapterCode() != "HDFC" {
		t.Fatalf("expected half-open payer bank to stay routable, got %+v", plan.Payer)
	}
}

func TestRoute_FallbackUsedWhenTargetOpen(t *testing.T) {
	e := NewEngine(Weights{SuccessRate: 0.6, Latency: 0.4})
	snaps := map[string]domain.HealthSnapshot{
		"HDFC": snap("HDFC", domain.CircuitOpen, 0.1, 800*time.Millisecond),
		"YESB": snap("YESB", domain.CircuitClosed, 0.95, 60*time.Millisecond),
		"SBIN": snap("SBIN", domain.CircuitClosed, 0.99, 30*time.Millisecond),
	}

	plan, err := e.Route(bank("HDFC", "YESB"), bank("SBIN"), snaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Payer.BankCode != "HDFC" || plan.Payer.Via != "YESB" {
		t.Fatalf("expected YESB to proxy for HDFC, got %+v", plan.Payer)
	}
	if plan.Payer.AdapterCode() != "YESB" {
		t.Fatalf("expected adapter call to go to YESB, got %s", plan.Payer.AdapterCode())
	}
}

func TestRoute_LexicographicTieBreak(t *testing.T) {
	e := NewEngine(Weights{SuccessRate: 0.6, Latency: 0.4})
	// Identical health for both fallback candidates and the target is open:
	// the tie-break must pick the lexicographically smaller code.
	same := snap("", domain.CircuitClosed, 0.95, 50*time.Millisecond)
	snaps := map[string]domain.HealthSnapshot{
		"HDFC": snap("HDFC", domain.CircuitOpen, 0.1, 700*time.Millisecond),
		"UTIB": same,
		"IDFB": same,
		"SBIN": snap("SBIN", domain.CircuitClosed, 0.99, 30*time.Millisecond),
	}

	plan, err := e.Route(bank("HDFC", "UTIB", "IDFB"), bank("SBIN"), snaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Payer.Via != "IDFB" {
		t.Fatalf("expected lexicographic tie-break to pick IDFB, got %q", plan.Payer.Via)
	}
}

func TestRoute_WeightsFavorHealthierCandidate(t *testing.T) {
	e := NewEngine(Weights{SuccessRate: 0.6, Latency: 0.4})
	snaps := map[string]domain.HealthSnapshot{
		"HDFC": snap("HDFC", domain.CircuitOpen, 0.1, 700*time.Millisecond),
		"UTIB": snap("UTIB", domain.CircuitClosed, 0.80, 600*time.Millisecond),
		"IDFB": snap("IDFB", domain.CircuitClosed, 0.99, 50*time.Millisecond),
		"SBIN": snap("SBIN", domain.CircuitClosed, 0.99, 30*time.Millisecond),
	}

	plan, err := e.Route(bank("HDFC", "UTIB", "IDFB"), bank("SBIN"), snaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Payer.Via != "IDFB" {
		t.Fatalf("expected healthier IDFB to win, got %q", plan.Payer.Via)
	}
}

func TestRoute_InactiveBankIsNoHealthyRoute(t *testing.T) {
	e := NewEngine(Weights{SuccessRate: 0.6, Latency: 0.4})
	inactive := &domain.Bank{Code: "HDFC", Active: false}

	_, err := e.Route(inactive, bank("SBIN"), map[string]domain.HealthSnapshot{})
	if !errors.Is(err, ErrNoHealthyRoute) {
		t.Fatalf("expected ErrNoHealthyRoute for inactive bank, got %v", err)
	}
}
