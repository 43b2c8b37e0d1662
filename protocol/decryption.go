package protocol

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ruteri/portfolio-oracle/crypto"
)

// RoundResult is a round's published cleartext totals. Values are signed;
// rebalance amounts may be negative.
type RoundResult struct {
	RequestID         RequestID `json:"request_id"`
	Round             RoundID   `json:"round"`
	TotalValueSum     *big.Int  `json:"total_value_sum"`
	RiskPreferenceSum *big.Int  `json:"risk_preference_sum"`
	RebalanceAmount1  *big.Int  `json:"rebalance_amount_1"`
	RebalanceAmount2  *big.Int  `json:"rebalance_amount_2"`
}

// RequestDecryption hands a closed round's aggregates to the oracle and
// records a context binding the request to a content hash over the exact
// ciphertexts submitted. Owner-only; the round must be closed, the owner's
// decryption-request cooldown elapsed, and the round must have aggregates
// (a round with zero submissions has nothing to decrypt).
//
// A request stays pending until a valid callback arrives; there is no
// timeout. Re-requesting the same closed round is always safe since its
// aggregates cannot change.
func (l *Ledger) RequestDecryption(ctx context.Context, caller Address, round RoundID) (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return 0, ErrNotOwner
	}
	if l.paused {
		return 0, ErrPaused
	}
	if !l.closedRounds[round] {
		return 0, ErrRoundClosedOrInvalid
	}
	if !l.cooldownElapsed(l.lastDecryptionRequest, caller) {
		return 0, ErrCooldownActive
	}
	agg, ok := l.aggregates[round]
	if !ok {
		return 0, ErrNotInitialized
	}

	handles := agg.handles()
	hash := l.contentHash(handles)

	requestID, err := l.oracle.RequestDecryption(ctx, handles)
	if err != nil {
		return 0, fmt.Errorf("submitting decryption request: %w", err)
	}

	l.lastDecryptionRequest[caller] = l.now()
	l.requests[requestID] = &DecryptionContext{
		Round:       round,
		ContentHash: hash,
	}

	l.emit(DecryptionRequested{RequestID: requestID, Round: round})
	return requestID, nil
}

// OnDecryptionCallback is the oracle's response entry point. The transport
// layer must only invoke it for messages authenticated as coming from the
// trusted oracle identity.
//
// The callback is accepted only if the request id was not already consumed,
// the round's current aggregates still hash to the commitment stored at
// request time, and the cleartexts and proof verify for this request id. Any
// failure leaves the context unprocessed so a corrected callback or a fresh
// request can still succeed. On success the four cleartext words are decoded
// in submission order and the result is published exactly once.
func (l *Ledger) OnDecryptionCallback(requestID RequestID, cleartexts [][]byte, proof []byte) (*RoundResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dc, ok := l.requests[requestID]
	if !ok {
		return nil, ErrNotInitialized
	}
	if dc.Processed {
		return nil, ErrReplayAttempt
	}

	agg, ok := l.aggregates[dc.Round]
	if !ok {
		return nil, ErrStateMismatch
	}
	if l.contentHash(agg.handles()) != dc.ContentHash {
		return nil, ErrStateMismatch
	}

	if len(cleartexts) != 4 {
		return nil, ErrInvalidProof
	}
	if !l.oracle.VerifyProof(requestID, cleartexts, proof) {
		return nil, ErrInvalidProof
	}

	values := make([]*big.Int, 4)
	for i, word := range cleartexts {
		v, err := crypto.DecodeCleartext(word)
		if err != nil {
			return nil, ErrInvalidProof
		}
		values[i] = v
	}

	dc.Processed = true
	result := &RoundResult{
		RequestID:         requestID,
		Round:             dc.Round,
		TotalValueSum:     values[0],
		RiskPreferenceSum: values[1],
		RebalanceAmount1:  values[2],
		RebalanceAmount2:  values[3],
	}
	l.results[dc.Round] = result

	l.emit(DecryptionCompleted{
		RequestID:         requestID,
		Round:             dc.Round,
		TotalValueSum:     result.TotalValueSum,
		RiskPreferenceSum: result.RiskPreferenceSum,
		RebalanceAmount1:  result.RebalanceAmount1,
		RebalanceAmount2:  result.RebalanceAmount2,
	})
	resultCopy := *result
	return &resultCopy, nil
}
