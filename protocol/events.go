package protocol

import (
	"context"
	"math/big"
	"time"
)

// Event is a notification emitted by the ledger after a committed state
// transition. Administrative events carry before/after values for audit.
type Event interface {
	protocolEvent()
}

// OwnerChanged reports an ownership transfer.
type OwnerChanged struct {
	Old Address
	New Address
}

// ProviderAdded reports a new provider authorization.
type ProviderAdded struct {
	Provider Address
}

// ProviderRemoved reports a revoked provider authorization. Prior
// submissions from the provider remain aggregated.
type ProviderRemoved struct {
	Provider Address
}

// PauseChanged reports a pause switch flip.
type PauseChanged struct {
	Old bool
	New bool
}

// CooldownChanged reports a cooldown duration update.
type CooldownChanged struct {
	Old time.Duration
	New time.Duration
}

// RoundOpened reports a newly opened current round.
type RoundOpened struct {
	Round RoundID
}

// RoundClosed reports that the current round was closed. Closed rounds are
// terminal and their aggregates are frozen.
type RoundClosed struct {
	Round RoundID
}

// SubmissionAccepted reports an accepted portfolio submission.
type SubmissionAccepted struct {
	Round    RoundID
	Provider Address
}

// DecryptionRequested reports a decryption request handed to the oracle.
type DecryptionRequested struct {
	RequestID RequestID
	Round     RoundID
}

// DecryptionCompleted reports the one-time publication of a round's
// cleartext totals.
type DecryptionCompleted struct {
	RequestID         RequestID
	Round             RoundID
	TotalValueSum     *big.Int
	RiskPreferenceSum *big.Int
	RebalanceAmount1  *big.Int
	RebalanceAmount2  *big.Int
}

func (OwnerChanged) protocolEvent()        {}
func (ProviderAdded) protocolEvent()       {}
func (ProviderRemoved) protocolEvent()     {}
func (PauseChanged) protocolEvent()        {}
func (CooldownChanged) protocolEvent()     {}
func (RoundOpened) protocolEvent()         {}
func (RoundClosed) protocolEvent()         {}
func (SubmissionAccepted) protocolEvent()  {}
func (DecryptionRequested) protocolEvent() {}
func (DecryptionCompleted) protocolEvent() {}

type eventSubscriber struct {
	ctx context.Context
	ch  chan Event
}

// Subscribe returns a channel receiving ledger events until ctx is done.
// Slow subscribers may miss events; the feed never blocks the ledger.
func (l *Ledger) Subscribe(ctx context.Context) <-chan Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan Event, 64)
	l.subscribers = append(l.subscribers, eventSubscriber{ctx: ctx, ch: ch})
	return ch
}

// emit delivers an event to all live subscribers. Callers must hold l.mu.
func (l *Ledger) emit(ev Event) {
	kept := l.subscribers[:0]
	for _, sub := range l.subscribers {
		select {
		case <-sub.ctx.Done():
			close(sub.ch)
			continue
		case sub.ch <- ev:
		default:
			// Skip if channel is full
		}
		kept = append(kept, sub)
	}
	l.subscribers = kept
}
