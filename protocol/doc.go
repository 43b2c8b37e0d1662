// Package protocol implements the confidential portfolio aggregation and
// decryption-oracle protocol.
//
// Providers submit encrypted portfolio snapshots into the current round. The
// ledger folds each accepted submission into the round's homomorphic
// accumulators without ever observing plaintext. Once the owner closes a
// round its aggregates are frozen; the owner may then request decryption of
// the aggregates from the external oracle. The request commits to a content
// hash over the exact ciphertexts handed out, and the oracle's callback is
// accepted only if the recomputed hash still matches, the proof verifies for
// that request id, and the request was not already consumed. A valid callback
// publishes the round's cleartext totals exactly once.
//
// All state lives in a single Ledger guarded by one mutex: every operation
// either commits fully or fails with a typed error and no side effects.
package protocol
