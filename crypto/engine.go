package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// MaskedEngine is a stand-in for a real homomorphic encryption scheme. An
// encryption of v is v plus a mask derived from the engine key and a fresh
// nonce, modulo 2^256; the handle carries the nonce so the key holder can
// strip the mask again. Addition and subtraction of handles are exact because
// mask terms combine linearly.
//
// The masking is NOT semantically secure against the key holder and is not a
// substitute for FHE. It exists so the protocol around it can be exercised
// with honest homomorphic semantics.
type MaskedEngine struct {
	key []byte
}

// NewMaskedEngine creates an engine from shared key material. The same key
// must be used by encrypting providers and by the decryption oracle.
func NewMaskedEngine(key []byte) (*MaskedEngine, error) {
	if len(key) < 16 {
		return nil, errors.New("engine key must be at least 16 bytes")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &MaskedEngine{key: k}, nil
}

func (e *MaskedEngine) maskFor(nonce [nonceSize]byte) (*big.Int, error) {
	r := hkdf.New(sha256.New, e.key, nonce[:], []byte("portfolio-oracle/mask/v1"))
	buf := make([]byte, WordSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("deriving mask: %w", err)
	}
	return new(big.Int).SetBytes(buf), nil
}

// Encrypt returns a fresh encryption of the signed value v.
func (e *MaskedEngine) Encrypt(v *big.Int) (Ciphertext, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Ciphertext{}, fmt.Errorf("generating nonce: %w", err)
	}

	mask, err := e.maskFor(nonce)
	if err != nil {
		return Ciphertext{}, err
	}

	word := new(big.Int).Mod(new(big.Int).Add(v, mask), wordModulus)
	return Ciphertext{word: word, terms: []maskTerm{{nonce: nonce, coeff: 1}}}, nil
}

// EncryptZero returns a fresh encryption of zero.
func (e *MaskedEngine) EncryptZero() (Ciphertext, error) {
	return e.Encrypt(big.NewInt(0))
}

// Decrypt strips all mask terms and returns the signed cleartext value.
func (e *MaskedEngine) Decrypt(ct Ciphertext) (*big.Int, error) {
	if !ct.IsInitialized() {
		return nil, errors.New("ciphertext not initialized")
	}

	v := new(big.Int).Set(ct.word)
	for _, t := range ct.terms {
		mask, err := e.maskFor(t.nonce)
		if err != nil {
			return nil, err
		}
		v.Sub(v, mask.Mul(mask, big.NewInt(int64(t.coeff))))
	}
	v.Mod(v, wordModulus)
	return DecodeCleartext(v.FillBytes(make([]byte, WordSize)))
}

// Add returns a handle to the sum of the two encrypted values.
func (e *MaskedEngine) Add(a, b Ciphertext) (Ciphertext, error) {
	return combine(a, b, 1)
}

// Sub returns a handle to the difference a-b. The result wraps modulo 2^256
// and decodes as signed two's complement.
func (e *MaskedEngine) Sub(a, b Ciphertext) (Ciphertext, error) {
	return combine(a, b, -1)
}

// IsInitialized reports whether the handle refers to an encrypted value.
func (e *MaskedEngine) IsInitialized(ct Ciphertext) bool {
	return ct.IsInitialized()
}

// TransportBytes returns the canonical wire encoding of the handle.
func (e *MaskedEngine) TransportBytes(ct Ciphertext) []byte {
	return ct.TransportBytes()
}

// combine folds b into a with the given sign, merging mask terms by nonce.
// Terms keep the order of first appearance so the encoding stays canonical.
func combine(a, b Ciphertext, sign int32) (Ciphertext, error) {
	if !a.IsInitialized() || !b.IsInitialized() {
		return Ciphertext{}, errors.New("ciphertext not initialized")
	}

	word := new(big.Int)
	if sign > 0 {
		word.Add(a.word, b.word)
	} else {
		word.Sub(a.word, b.word)
	}
	word.Mod(word, wordModulus)

	terms := make([]maskTerm, len(a.terms), len(a.terms)+len(b.terms))
	copy(terms, a.terms)
	for _, bt := range b.terms {
		merged := false
		for i := range terms {
			if terms[i].nonce == bt.nonce {
				terms[i].coeff += sign * bt.coeff
				merged = true
				break
			}
		}
		if !merged {
			terms = append(terms, maskTerm{nonce: bt.nonce, coeff: sign * bt.coeff})
		}
	}

	kept := terms[:0]
	for _, t := range terms {
		if t.coeff != 0 {
			kept = append(kept, t)
		}
	}
	return Ciphertext{word: word, terms: kept}, nil
}
