/**
 * @description
 * The Bank Health Registry tracks a sliding window of adapter call outcomes and
 * latency samples per bank and derives a circuit state from them. It is the
 * only component allowed to mutate health state; everyone else reads immutable
 * snapshots, which keeps routing decisions deterministic and replayable.
 *
 * Circuit machine: CLOSED -> OPEN when the windowed failure rate crosses the
 * configured threshold (with a minimum sample count), OPEN -> HALF_OPEN after
 * the cooldown, HALF_OPEN -> CLOSED on a probe success and back to OPEN on a
 * probe failure. An admin override pins the state until explicitly cleared.
 */

package health

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/velopay/switch-service/internal/domain"
)

// Outcome classifies one adapter call for health accounting.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
)

// Options configure the registry thresholds.
type Options struct {
	WindowSize       int           // samples kept per bank
	MinSamples       int           // samples required before the breaker may trip
	FailureThreshold float64       // windowed failure rate that opens the circuit
	Cooldown         time.Duration // OPEN -> HALF_OPEN delay
}

type sample struct {
	outcome Outcome
	latency time.Duration
}

type bankHealth struct {
	samples  []sample // ring buffer
	next     int
	filled   bool
	circuit  domain.CircuitState
	openedAt time.Time
	probing  bool
	override *domain.CircuitState
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	opts  Options
	banks map[string]*bankHealth
	now   func() time.Time
}

// NewRegistry creates a registry with the given thresholds.
func NewRegistry(opts Options) *Registry {
	if opts.WindowSize <= 0 {
		opts.WindowSize = 100
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 10
	}
	if opts.FailureThreshold <= 0 || opts.FailureThreshold > 1 {
		opts.FailureThreshold = 0.5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	return &Registry{
		opts:  opts,
		banks: make(map[string]*bankHealth),
		now:   time.Now,
	}
}

func (r *Registry) bank(code string) *bankHealth {
	b, ok := r.banks[code]
	if !ok {
		b = &bankHealth{
			samples: make([]sample, 0, r.opts.WindowSize),
			circuit: domain.CircuitClosed,
		}
		r.banks[code] = b
	}
	return b
}

// Record accounts one adapter call outcome and advances the circuit machine.
func (r *Registry) Record(bankCode string, outcome Outcome, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bank(bankCode)

	if len(b.samples) < r.opts.WindowSize {
		b.samples = append(b.samples, sample{outcome: outcome, latency: latency})
	} else {
		b.samples[b.next] = sample{outcome: outcome, latency: latency}
		b.next = (b.next + 1) % r.opts.WindowSize
		b.filled = true
	}

	if b.override != nil {
		return
	}

	switch b.circuit {
	case domain.CircuitHalfOpen:
		// The recorded call is the probe.
		b.probing = false
		if outcome == OutcomeSuccess {
			b.circuit = domain.CircuitClosed
			log.Printf("level=info component=health_registry msg=\"probe succeeded; circuit closed\" bank=%s", bankCode)
		} else {
			b.circuit = domain.CircuitOpen
			b.openedAt = r.now()
			log.Printf("level=warn component=health_registry msg=\"probe failed; circuit reopened\" bank=%s", bankCode)
		}
	case domain.CircuitClosed:
		if n, failures := b.counts(); n >= r.opts.MinSamples && float64(failures)/float64(n) >= r.opts.FailureThreshold {
			b.circuit = domain.CircuitOpen
			b.openedAt = r.now()
			log.Printf("level=warn component=health_registry msg=\"failure rate over threshold; circuit opened\" bank=%s samples=%d failures=%d", bankCode, n, failures)
		}
	}
}

// AllowProbe reports whether a HALF_OPEN bank may receive a single probe call.
// Only one in-flight probe is allowed; further callers are refused until the
// probe outcome is recorded.
func (r *Registry) AllowProbe(bankCode string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bank(bankCode)
	r.advance(b)
	if b.override != nil {
		return *b.override != domain.CircuitOpen
	}
	switch b.circuit {
	case domain.CircuitClosed:
		return true
	case domain.CircuitHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// advance applies the time-driven OPEN -> HALF_OPEN transition. Caller holds
// the lock.
func (r *Registry) advance(b *bankHealth) {
	if b.override != nil {
		return
	}
	if b.circuit == domain.CircuitOpen && r.now().Sub(b.openedAt) >= r.opts.Cooldown {
		b.circuit = domain.CircuitHalfOpen
		b.probing = false
	}
}

func (b *bankHealth) counts() (total, failures int) {
	for _, s := range b.samples {
		total++
		if s.outcome != OutcomeSuccess {
			failures++
		}
	}
	return total, failures
}

// Snapshot returns an immutable health view for one bank. Unknown banks report
// a CLOSED circuit with no samples, so a freshly registered bank is routable.
func (r *Registry) Snapshot(bankCode string) domain.HealthSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(bankCode)
}

// snapshotLocked builds one bank's view. Caller holds the lock.
func (r *Registry) snapshotLocked(bankCode string) domain.HealthSnapshot {
	b := r.bank(bankCode)
	r.advance(b)

	state := b.circuit
	overridden := false
	if b.override != nil {
		state = *b.override
		overridden = true
	}

	total, failures := b.counts()
	successRate := 1.0
	if total > 0 {
		successRate = float64(total-failures) / float64(total)
	}

	return domain.HealthSnapshot{
		BankCode:    bankCode,
		SuccessRate: successRate,
		P95Latency:  b.p95(),
		Circuit:     state,
		Overridden:  overridden,
		SampleCount: total,
		TakenAt:     r.now(),
	}
}

// Snapshots returns views for several banks taken under a single lock
// acquisition, so the result is one consistent point-in-time cut across all
// requested banks.
func (r *Registry) Snapshots(bankCodes ...string) map[string]domain.HealthSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]domain.HealthSnapshot, len(bankCodes))
	for _, code := range bankCodes {
		out[code] = r.snapshotLocked(code)
	}
	return out
}

func (b *bankHealth) p95() time.Duration {
	if len(b.samples) == 0 {
		return 0
	}
	lat := make([]time.Duration, 0, len(b.samples))
	for _, s := range b.samples {
		lat = append(lat, s.latency)
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	idx := (len(lat) * 95) / 100
	if idx >= len(lat) {
		idx = len(lat) - 1
	}
	return lat[idx]
}

// ForceState pins a bank's circuit state until ClearOverride. Overrides take
// priority over every automatic transition.
func (r *Registry) ForceState(bankCode string, state domain.CircuitState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bank(bankCode)
	b.override = &state
	log.Printf("level=info component=health_registry msg=\"circuit state forced by admin\" bank=%s state=%s", bankCode, state)
}

// ClearOverride removes an admin override and resumes automatic transitions
// from the forced state.
func (r *Registry) ClearOverride(bankCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bank(bankCode)
	if b.override == nil {
		return
	}
	b.circuit = *b.override
	if b.circuit == domain.CircuitOpen {
		b.openedAt = r.now()
	}
	b.override = nil
	b.probing = false
	log.Printf("level=info component=health_registry msg=\"circuit override cleared\" bank=%s state=%s", bankCode, b.circuit)
}

// SetClock replaces the time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
