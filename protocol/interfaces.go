package protocol

import (
	"context"

	"github.com/ruteri/portfolio-oracle/crypto"
)

// Address identifies a protocol caller. Addresses are hex-encoded public
// keys; the transport layer recovers them from message signatures.
type Address string

// RoundID identifies a batch round. Round ids are strictly increasing and
// start at 1.
type RoundID uint64

// RequestID identifies a decryption request. Request ids are issued by the
// oracle and each may be consumed exactly once.
type RequestID uint64

// DecryptionOracle is the trusted external service that decrypts committed
// ciphertexts. RequestDecryption hands over the ordered ciphertext handles
// and returns the oracle-issued request id; the oracle later responds
// through the ledger's callback entry point, which is reachable only through
// an authenticated channel.
//
// VerifyProof is the verification predicate for a response: it must hold for
// the exact request id, cleartext words and proof the oracle produced, and
// fail for anything tampered.
type DecryptionOracle interface {
	RequestDecryption(ctx context.Context, handles []crypto.Ciphertext) (RequestID, error)
	VerifyProof(requestID RequestID, cleartexts [][]byte, proof []byte) bool
}
