package domain

import "testing"

func TestCanTransition_LegalEdges(t *testing.T) {
	legal := []struct{ from, to TransactionState }{
		{StateInitiated, StatePending},
		{StateInitiated, StateFailed},
		{StatePending, StateSuccess},
		{StatePending, StateFailed},
		{StatePending, StateTimeout},
		{StatePending, StateReversing},
		{StateTimeout, StateFailed},
		{StateTimeout, StateReversing},
		{StateReversing, StateReversed},
	}
	for _, e := range legal {
		if !CanTransition(e.from, e.to) {
			t.Errorf("expected %s -> %s to be allowed", e.from, e.to)
		}
	}
}

func TestCanTransition_RejectsDowngrades(t *testing.T) {
	illegal := []struct{ from, to TransactionState }{
		{StateSuccess, StateFailed},
		{StateFailed, StatePending},
		{StateReversed, StateSuccess},
		{StateSuccess, StatePending},
		{StateReversing, StateSuccess},
		{StateTimeout, StateSuccess},
		{StatePending, StateInitiated},
	}
	for _, e := range illegal {
		if CanTransition(e.from, e.to) {
			t.Errorf("expected %s -> %s to be rejected", e.from, e.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []TransactionState{StateSuccess, StateFailed, StateReversed} {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []TransactionState{StateInitiated, StatePending, StateTimeout, StateReversing} {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestComputeSwitchFee(t *testing.T) {
	if got := ComputeSwitchFee(100000); got != 100 {
		t.Fatalf("expected fee 100 for 100000, got %d", got)
	}
	if got := ComputeSwitchFee(50); got != 1 {
		t.Fatalf("expected minimum fee 1, got %d", got)
	}
}

func TestSettlementBatchID_Deterministic(t *testing.T) {
	pairs := []BankPairNet{
		{PayerBank: "SBIN", PayeeBank: "HDFC", NetAmount: 5000},
		{PayerBank: "HDFC", PayeeBank: "ICIC", NetAmount: 1200},
	}
	reversed := []BankPairNet{pairs[1], pairs[0]}

	a := SettlementBatchID("20260831T1500", pairs)
	b := SettlementBatchID("20260831T1500", reversed)
	if a != b {
		t.Fatalf("batch id must not depend on pair order: %s vs %s", a, b)
	}
	if c := SettlementBatchID("20260831T1515", pairs); c == a {
		t.Fatal("different windows must produce different batch ids")
	}
}
