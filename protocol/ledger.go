package protocol

import (
	"errors"
	"sync"
	"time"

	"github.com/ruteri/portfolio-oracle/crypto"
)

// Config carries the ledger's construction parameters.
type Config struct {
	// Owner is the initial owner address. The owner is also seeded as an
	// authorized provider.
	Owner Address

	// Cooldown is the initial per-address cooldown between submissions and
	// between decryption requests.
	Cooldown time.Duration

	// InstanceID distinguishes this protocol instance in decryption
	// content hashes, so a callback for one instance can never be replayed
	// against another.
	InstanceID []byte
}

// PortfolioState is a provider's latest encrypted portfolio snapshot. Only
// the most recent accepted submission is retained.
type PortfolioState struct {
	TotalValue         crypto.Ciphertext `json:"total_value"`
	RiskPreference     crypto.Ciphertext `json:"risk_preference"`
	TargetAllocation1  crypto.Ciphertext `json:"target_allocation_1"`
	TargetAllocation2  crypto.Ciphertext `json:"target_allocation_2"`
	CurrentAllocation1 crypto.Ciphertext `json:"current_allocation_1"`
	CurrentAllocation2 crypto.Ciphertext `json:"current_allocation_2"`

	UpdatedAt time.Time `json:"updated_at"`
}

// RoundAggregates holds a round's four homomorphic accumulators. They are
// seeded to encrypted zero on the first accepted submission and mutated only
// by homomorphic addition while the round is open.
type RoundAggregates struct {
	TotalValueSum     crypto.Ciphertext
	RiskPreferenceSum crypto.Ciphertext
	RebalanceSignal1  crypto.Ciphertext
	RebalanceSignal2  crypto.Ciphertext
}

// DecryptionContext binds a decryption request to the exact ciphertexts
// committed at request time. Contexts are never deleted; Processed flips
// false to true exactly once.
type DecryptionContext struct {
	Round       RoundID
	ContentHash [32]byte
	Processed   bool
}

// Ledger owns all protocol state. A single mutex serializes every operation,
// standing in for the substrate's one-transition-at-a-time execution: each
// call either commits fully or fails with no side effects.
type Ledger struct {
	engine     crypto.Engine
	oracle     DecryptionOracle
	instanceID []byte
	now        func() time.Time

	mu sync.Mutex

	owner     Address
	providers map[Address]bool
	paused    bool
	cooldown  time.Duration

	lastSubmission        map[Address]time.Time
	lastDecryptionRequest map[Address]time.Time

	currentRound RoundID
	closedRounds map[RoundID]bool

	portfolios map[Address]*PortfolioState
	aggregates map[RoundID]*RoundAggregates
	requests   map[RequestID]*DecryptionContext
	results    map[RoundID]*RoundResult

	subscribers []eventSubscriber
}

// NewLedger creates a ledger with round 1 open and the owner authorized as a
// provider.
func NewLedger(cfg *Config, engine crypto.Engine, oracle DecryptionOracle) (*Ledger, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Owner == "" {
		return nil, errors.New("owner cannot be empty")
	}
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if oracle == nil {
		return nil, errors.New("oracle cannot be nil")
	}

	instanceID := make([]byte, len(cfg.InstanceID))
	copy(instanceID, cfg.InstanceID)

	return &Ledger{
		engine:                engine,
		oracle:                oracle,
		instanceID:            instanceID,
		now:                   time.Now,
		owner:                 cfg.Owner,
		providers:             map[Address]bool{cfg.Owner: true},
		cooldown:              cfg.Cooldown,
		lastSubmission:        make(map[Address]time.Time),
		lastDecryptionRequest: make(map[Address]time.Time),
		currentRound:          1,
		closedRounds:          make(map[RoundID]bool),
		portfolios:            make(map[Address]*PortfolioState),
		aggregates:            make(map[RoundID]*RoundAggregates),
		requests:              make(map[RequestID]*DecryptionContext),
		results:               make(map[RoundID]*RoundResult),
	}, nil
}

// Owner returns the current owner address.
func (l *Ledger) Owner() Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// IsProvider reports whether addr holds the provider role.
func (l *Ledger) IsProvider(addr Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.providers[addr]
}

// IsPaused reports the pause switch state.
func (l *Ledger) IsPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// Cooldown returns the configured cooldown duration.
func (l *Ledger) Cooldown() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cooldown
}

// CurrentRound returns the id of the current round.
func (l *Ledger) CurrentRound() RoundID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentRound
}

// RoundClosed reports whether the round exists and is closed.
func (l *Ledger) RoundClosed(round RoundID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closedRounds[round]
}

// HasAggregates reports whether the round received at least one submission.
func (l *Ledger) HasAggregates(round RoundID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.aggregates[round]
	return ok
}

// Portfolio returns a provider's latest encrypted snapshot.
func (l *Ledger) Portfolio(addr Address) (*PortfolioState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.portfolios[addr]
	if !ok {
		return nil, false
	}
	snapshot := *state
	return &snapshot, true
}

// Result returns the published cleartext totals for a round, if any.
func (l *Ledger) Result(round RoundID) (*RoundResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.results[round]
	if !ok {
		return nil, false
	}
	result := *res
	return &result, true
}

// Request returns a copy of a decryption context, if it exists.
func (l *Ledger) Request(id RequestID) (*DecryptionContext, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dc, ok := l.requests[id]
	if !ok {
		return nil, false
	}
	ctx := *dc
	return &ctx, true
}
