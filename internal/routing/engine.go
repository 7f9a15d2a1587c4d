/**
 * @description
 * The Routing Engine turns a resolved payer/payee bank pair plus immutable
 * health snapshots into an adapter plan. It is a pure function of its inputs:
 * given identical bank records and snapshots it always yields the identical
 * plan, which is what makes routing decisions replayable for audit.
 *
 * Candidates for each leg are the bank itself plus any registered fallback
 * banks able to proxy for it. Banks whose circuit is OPEN are excluded;
 * remaining candidates are ranked by weighted score (higher success rate and
 * lower p95 latency favored) with a lexicographic bank-code tie-break.
 */

package routing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/velopay/switch-service/internal/domain"
)

// ErrNoHealthyRoute is returned when the payer or payee side has no usable
// adapter path. The orchestrator fails the transaction without any adapter
// call.
var ErrNoHealthyRoute = errors.New("no healthy route")

// Weights configure the scoring trade-off between success rate and latency.
type Weights struct {
	SuccessRate float64
	Latency     float64
}

// Leg is one side of an adapter plan: which bank adapter to call and why.
type Leg struct {
	BankCode string  `json:"bank_code"`
	Via      string  `json:"via,omitempty"` // set when a fallback bank proxies for the target
	Score    float64 `json:"score"`
}

// AdapterCode is the bank whose adapter actually receives the call.
func (l Leg) AdapterCode() string {
	if l.Via != "" {
		return l.Via
	}
	return l.BankCode
}

// AdapterPlan is the full routing decision for one transaction.
type AdapterPlan struct {
	Payer Leg `json:"payer"`
	Payee Leg `json:"payee"`
}

// Engine scores candidate paths. It holds no mutable state.
type Engine struct {
	weights Weights
}

// NewEngine creates a routing engine with the given score weights.
func NewEngine(weights Weights) *Engine {
	if weights.SuccessRate < 0 {
		weights.SuccessRate = 0
	}
	if weights.Latency < 0 {
		weights.Latency = 0
	}
	if weights.SuccessRate == 0 && weights.Latency == 0 {
		weights = Weights{SuccessRate: 0.6, Latency: 0.4}
	}
	return &Engine{weights: weights}
}

// Route selects the adapter path for both legs. Snapshots must cover every
// candidate bank; a missing snapshot is treated as an unknown healthy bank
// with no samples.
func (e *Engine) Route(payerBank, payeeBank *domain.Bank, snapshots map[string]domain.HealthSnapshot) (*AdapterPlan, error) {
	payerLeg, err := e.selectLeg(payerBank, snapshots)
	if err != nil {
		return nil, fmt.Errorf("payer leg: %w", err)
	}
	payeeLeg, err := e.selectLeg(payeeBank, snapshots)
	if err != nil {
		return nil, fmt.Errorf("payee leg: %w", err)
	}
	return &AdapterPlan{Payer: *payerLeg, Payee: *payeeLeg}, nil
}

type candidate struct {
	code  string
	score float64
}

func (e *Engine) selectLeg(target *domain.Bank, snapshots map[string]domain.HealthSnapshot) (*Leg, error) {
	if target == nil || !target.Active {
		return nil, ErrNoHealthyRoute
	}

	codes := append([]string{target.Code}, target.FallbackCodes...)

	var candidates []candidate
	for _, code := range codes {
		snap, ok := snapshots[code]
		if ok && snap.Circuit == domain.CircuitOpen {
			continue
		}
		candidates = append(candidates, candidate{code: code, score: e.score(snap)})
	}
	if len(candidates) == 0 {
		return nil, ErrNoHealthyRoute
	}

	// Highest score wins; equal scores fall back to lexicographic bank code
	// so repeated calls with an unchanged snapshot yield the same plan.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].code < candidates[j].code
	})

	best := candidates[0]
	leg := &Leg{BankCode: best.code, Score: best.score}
	if best.code != target.Code {
		leg.Via = best.code
		leg.BankCode = target.Code
	}
	return leg, nil
}

// score favors higher success rate and lower latency. Latency is normalized
// against a one-second horizon so both terms stay comparable; a bank with no
// samples scores as perfectly healthy.
func (e *Engine) score(snap domain.HealthSnapshot) float64 {
	successRate := 1.0
	latencyPenalty := 0.0
	if snap.SampleCount > 0 {
		successRate = snap.SuccessRate
		latencyPenalty = snap.P95Latency.Seconds()
		if latencyPenalty > 1 {
			latencyPenalty = 1
		}
	}
	return e.weights.SuccessRate*successRate - e.weights.Latency*latencyPenalty
}
