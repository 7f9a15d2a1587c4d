package domain

import "time"

// CircuitState is the breaker state the health registry maintains per bank.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// Bank is a participating bank as registered through the admin API. Health
// fields are owned by the Bank Health Registry; everything else is admin
// managed.
type Bank struct {
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	EndpointURL   string    `json:"endpoint_url"`
	APIKey        string    `json:"-"`
	FallbackCodes []string  `json:"fallback_codes,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HealthSnapshot is an immutable view of one bank's rolling health. Routing
// decisions take snapshots as input and never mutate registry state, so the
// same snapshot always produces the same plan.
type HealthSnapshot struct {
	BankCode    string        `json:"bank_code"`
	SuccessRate float64       `json:"success_rate"` // 0..1 over the window
	P95Latency  time.Duration `json:"p95_latency_ms"`
	Circuit     CircuitState  `json:"circuit_state"`
	Overridden  bool          `json:"overridden"`
	SampleCount int           `json:"sample_count"`
	TakenAt     time.Time     `json:"taken_at"`
}

// VPAMapping resolves a virtual payment address to its issuing bank and
// account reference. Provisioned externally; read-only to the switch.
type VPAMapping struct {
	Handle     string    `json:"handle"`
	BankCode   string    `json:"bank_code"`
	AccountRef string    `json:"account_ref"`
	Active     bool      `json:"active"`
	UpdatedAt  time.Time `json:"updated_at"`
}
