// Package oracle implements the trusted decryption oracle. The oracle holds
// the engine key, decrypts ciphertexts committed to it by the protocol, and
// proves each response by signing the request id and cleartext words with its
// identity key. The protocol accepts a response only if that proof verifies
// for the exact request id it issued.
package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/ruteri/portfolio-oracle/crypto"
	"github.com/ruteri/portfolio-oracle/protocol"
)

// DecryptionResult is the oracle's response to a decryption request:
// cleartext words in the order the ciphertexts were submitted, and a proof
// signature binding them to the request id.
type DecryptionResult struct {
	RequestID  protocol.RequestID `json:"request_id"`
	Cleartexts [][]byte           `json:"cleartexts"`
	Proof      []byte             `json:"proof"`
}

// Oracle is an in-process decryption oracle. It implements
// protocol.DecryptionOracle and produces proven responses on demand, which
// the caller (tests, or the HTTP oracle service) delivers to the protocol's
// callback entry point.
type Oracle struct {
	engine     *crypto.MaskedEngine
	signingKey crypto.PrivateKey

	mu      sync.Mutex
	nextID  protocol.RequestID
	pending map[protocol.RequestID][]crypto.Ciphertext
}

// New creates an oracle from the engine key holder and its identity key.
func New(engine *crypto.MaskedEngine, signingKey crypto.PrivateKey) (*Oracle, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if _, err := signingKey.PublicKey(); err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	return &Oracle{
		engine:     engine,
		signingKey: signingKey,
		pending:    make(map[protocol.RequestID][]crypto.Ciphertext),
	}, nil
}

// PublicKey returns the oracle's identity key used to verify proofs.
func (o *Oracle) PublicKey() crypto.PublicKey {
	pk, _ := o.signingKey.PublicKey()
	return pk
}

// RequestDecryption records the ordered ciphertext handles and issues a
// fresh request id.
func (o *Oracle) RequestDecryption(_ context.Context, handles []crypto.Ciphertext) (protocol.RequestID, error) {
	if len(handles) == 0 {
		return 0, errors.New("no ciphertexts to decrypt")
	}
	for i, ct := range handles {
		if !ct.IsInitialized() {
			return 0, fmt.Errorf("ciphertext %d not initialized", i)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	id := o.nextID
	o.pending[id] = append([]crypto.Ciphertext(nil), handles...)
	return id, nil
}

// Respond decrypts a pending request's ciphertexts and returns the proven
// result. The request stays pending so a response can be reproduced, e.g.
// after a delivery failure.
func (o *Oracle) Respond(requestID protocol.RequestID) (*DecryptionResult, error) {
	o.mu.Lock()
	handles, ok := o.pending[requestID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown request id %d", requestID)
	}

	cleartexts := make([][]byte, len(handles))
	for i, ct := range handles {
		v, err := o.engine.Decrypt(ct)
		if err != nil {
			return nil, fmt.Errorf("decrypting ciphertext %d: %w", i, err)
		}
		cleartexts[i] = crypto.EncodeCleartext(v)
	}

	proof, err := crypto.Sign(o.signingKey, proofDigest(requestID, cleartexts))
	if err != nil {
		return nil, fmt.Errorf("signing proof: %w", err)
	}

	return &DecryptionResult{
		RequestID:  requestID,
		Cleartexts: cleartexts,
		Proof:      proof.Bytes(),
	}, nil
}

// VerifyProof checks the oracle's own proof. This makes the in-process
// oracle a complete protocol.DecryptionOracle for tests and single-binary
// deployments.
func (o *Oracle) VerifyProof(requestID protocol.RequestID, cleartexts [][]byte, proof []byte) bool {
	return crypto.NewSignature(proof).Verify(o.PublicKey(), proofDigest(requestID, cleartexts))
}

// proofDigest binds the request id and the ordered cleartext words. Words
// are length-prefixed so the digest is unambiguous.
func proofDigest(requestID protocol.RequestID, cleartexts [][]byte) []byte {
	h := sha3.New256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(requestID))
	h.Write(buf[:])
	for _, word := range cleartexts {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(word)))
		h.Write(buf[:4])
		h.Write(word)
	}
	return h.Sum(nil)
}

// Verifier validates oracle proofs against a configured oracle identity.
// It backs protocol.DecryptionOracle implementations that talk to a remote
// oracle, where only the public key is available.
type Verifier struct {
	mu        sync.RWMutex
	publicKey crypto.PublicKey
}

// NewVerifier creates a verifier for the given oracle identity key.
func NewVerifier(publicKey crypto.PublicKey) *Verifier {
	return &Verifier{publicKey: publicKey}
}

// SetPublicKey replaces the trusted oracle identity, e.g. after a verified
// oracle re-registration.
func (v *Verifier) SetPublicKey(publicKey crypto.PublicKey) {
	v.mu.Lock()
	v.publicKey = publicKey
	v.mu.Unlock()
}

// PublicKey returns the trusted oracle identity.
func (v *Verifier) PublicKey() crypto.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.publicKey
}

// VerifyProof checks that the cleartexts and proof validate for the request
// id under the trusted oracle identity.
func (v *Verifier) VerifyProof(requestID protocol.RequestID, cleartexts [][]byte, proof []byte) bool {
	v.mu.RLock()
	pk := v.publicKey
	v.mu.RUnlock()
	if len(pk) == 0 {
		return false
	}
	return crypto.NewSignature(proof).Verify(pk, proofDigest(requestID, cleartexts))
}
