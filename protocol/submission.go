package protocol

import (
	"fmt"

	"github.com/ruteri/portfolio-oracle/crypto"
)

// PortfolioUpdate carries the six encrypted portfolio fields of a
// submission.
type PortfolioUpdate struct {
	TotalValue         crypto.Ciphertext `json:"total_value"`
	RiskPreference     crypto.Ciphertext `json:"risk_preference"`
	TargetAllocation1  crypto.Ciphertext `json:"target_allocation_1"`
	TargetAllocation2  crypto.Ciphertext `json:"target_allocation_2"`
	CurrentAllocation1 crypto.Ciphertext `json:"current_allocation_1"`
	CurrentAllocation2 crypto.Ciphertext `json:"current_allocation_2"`
}

func (u *PortfolioUpdate) fields() []crypto.Ciphertext {
	return []crypto.Ciphertext{
		u.TotalValue, u.RiskPreference,
		u.TargetAllocation1, u.TargetAllocation2,
		u.CurrentAllocation1, u.CurrentAllocation2,
	}
}

// Submit records caller's latest encrypted portfolio snapshot and folds it
// into the current round's aggregates. The submission is accepted only from
// a provider, while unpaused, after the caller's cooldown, and only into the
// current round while it is open. On success the caller's cooldown restarts
// and the prior snapshot is overwritten.
func (l *Ledger) Submit(caller Address, update *PortfolioUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.providers[caller] {
		return ErrNotProvider
	}
	if l.paused {
		return ErrPaused
	}
	if !l.cooldownElapsed(l.lastSubmission, caller) {
		return ErrCooldownActive
	}
	if l.currentRound == 0 || l.closedRounds[l.currentRound] {
		return ErrRoundClosedOrInvalid
	}

	for _, ct := range update.fields() {
		if !l.engine.IsInitialized(ct) {
			return fmt.Errorf("submission carries uninitialized ciphertext")
		}
	}

	// Fold into staged aggregates first so a failing engine operation
	// commits nothing.
	staged, err := l.foldSubmission(l.currentRound, update)
	if err != nil {
		return fmt.Errorf("aggregating submission: %w", err)
	}

	now := l.now()
	l.lastSubmission[caller] = now
	l.portfolios[caller] = &PortfolioState{
		TotalValue:         update.TotalValue,
		RiskPreference:     update.RiskPreference,
		TargetAllocation1:  update.TargetAllocation1,
		TargetAllocation2:  update.TargetAllocation2,
		CurrentAllocation1: update.CurrentAllocation1,
		CurrentAllocation2: update.CurrentAllocation2,
		UpdatedAt:          now,
	}
	l.aggregates[l.currentRound] = staged

	l.emit(SubmissionAccepted{Round: l.currentRound, Provider: caller})
	return nil
}
