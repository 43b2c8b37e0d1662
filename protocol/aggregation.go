package protocol

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/ruteri/portfolio-oracle/crypto"
)

// foldSubmission returns the round's aggregates with the update folded in,
// seeding all four accumulators to encrypted zero if the round has none yet.
// The stored aggregates are not touched; the caller commits the returned
// value. Callers must hold l.mu.
//
// Rebalance signals accumulate target minus current allocation per
// submission. The difference is computed on ciphertexts modulo 2^256 and
// decodes as signed two's complement, so negative per-provider differences
// are preserved exactly in the sums.
func (l *Ledger) foldSubmission(round RoundID, update *PortfolioUpdate) (*RoundAggregates, error) {
	agg := l.aggregates[round]
	if agg == nil {
		seeded, err := l.seedAggregates()
		if err != nil {
			return nil, err
		}
		agg = seeded
	}

	rebalance1, err := l.engine.Sub(update.TargetAllocation1, update.CurrentAllocation1)
	if err != nil {
		return nil, fmt.Errorf("rebalance signal 1: %w", err)
	}
	rebalance2, err := l.engine.Sub(update.TargetAllocation2, update.CurrentAllocation2)
	if err != nil {
		return nil, fmt.Errorf("rebalance signal 2: %w", err)
	}

	staged := &RoundAggregates{}
	if staged.TotalValueSum, err = l.engine.Add(agg.TotalValueSum, update.TotalValue); err != nil {
		return nil, fmt.Errorf("value sum: %w", err)
	}
	if staged.RiskPreferenceSum, err = l.engine.Add(agg.RiskPreferenceSum, update.RiskPreference); err != nil {
		return nil, fmt.Errorf("risk sum: %w", err)
	}
	if staged.RebalanceSignal1, err = l.engine.Add(agg.RebalanceSignal1, rebalance1); err != nil {
		return nil, fmt.Errorf("rebalance sum 1: %w", err)
	}
	if staged.RebalanceSignal2, err = l.engine.Add(agg.RebalanceSignal2, rebalance2); err != nil {
		return nil, fmt.Errorf("rebalance sum 2: %w", err)
	}
	return staged, nil
}

func (l *Ledger) seedAggregates() (*RoundAggregates, error) {
	agg := &RoundAggregates{}
	var err error
	if agg.TotalValueSum, err = l.engine.EncryptZero(); err != nil {
		return nil, fmt.Errorf("seeding value sum: %w", err)
	}
	if agg.RiskPreferenceSum, err = l.engine.EncryptZero(); err != nil {
		return nil, fmt.Errorf("seeding risk sum: %w", err)
	}
	if agg.RebalanceSignal1, err = l.engine.EncryptZero(); err != nil {
		return nil, fmt.Errorf("seeding rebalance sum 1: %w", err)
	}
	if agg.RebalanceSignal2, err = l.engine.EncryptZero(); err != nil {
		return nil, fmt.Errorf("seeding rebalance sum 2: %w", err)
	}
	return agg, nil
}

// handles returns the aggregates as an ordered ciphertext list. The order is
// fixed (value sum, risk sum, rebalance 1, rebalance 2) and shared by the
// content hash, the oracle request and the callback decoding.
func (a *RoundAggregates) handles() []crypto.Ciphertext {
	return []crypto.Ciphertext{
		a.TotalValueSum,
		a.RiskPreferenceSum,
		a.RebalanceSignal1,
		a.RebalanceSignal2,
	}
}

// contentHash commits to the exact ciphertexts handed to the oracle and to
// this protocol instance. Each handle's transport bytes are length-prefixed
// so the commitment is unambiguous.
func (l *Ledger) contentHash(handles []crypto.Ciphertext) [32]byte {
	h := sha3.New256()
	var lenBuf [4]byte
	for _, ct := range handles {
		raw := l.engine.TransportBytes(ct)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
		h.Write(lenBuf[:])
		h.Write(raw)
	}
	h.Write(l.instanceID)

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}
