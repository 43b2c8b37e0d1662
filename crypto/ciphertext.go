package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// WordSize is the size in bytes of a cleartext word. All encrypted integers
// are 256-bit words; arithmetic wraps modulo 2^256 and cleartexts decode as
// two's-complement signed values, so differences may go negative and
// round-trip exactly.
const WordSize = 32

const nonceSize = 16

var (
	wordModulus = new(big.Int).Lsh(big.NewInt(1), 8*WordSize)
	signBound   = new(big.Int).Lsh(big.NewInt(1), 8*WordSize-1)
)

// maskTerm records one mask contribution carried by a ciphertext. The engine
// key and the nonce determine the mask value; the coefficient tracks how many
// times that mask was added (negative after subtraction).
type maskTerm struct {
	nonce [nonceSize]byte
	coeff int32
}

// Ciphertext is an opaque handle to an encrypted 256-bit word. The zero value
// is uninitialized. Handles are immutable: arithmetic produces new handles.
type Ciphertext struct {
	word  *big.Int
	terms []maskTerm
}

// IsInitialized reports whether the handle refers to an encrypted value.
func (ct Ciphertext) IsInitialized() bool {
	return ct.word != nil
}

// TransportBytes returns the canonical wire encoding of the handle:
// the 32-byte masked word, a big-endian uint16 term count, then for each term
// a 16-byte nonce and a big-endian int32 coefficient. The encoding is
// deterministic so it can be bound by a content hash.
func (ct Ciphertext) TransportBytes() []byte {
	if !ct.IsInitialized() {
		return nil
	}
	out := make([]byte, 0, WordSize+2+len(ct.terms)*(nonceSize+4))
	out = append(out, ct.word.FillBytes(make([]byte, WordSize))...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(ct.terms)))
	for _, t := range ct.terms {
		out = append(out, t.nonce[:]...)
		out = binary.BigEndian.AppendUint32(out, uint32(t.coeff))
	}
	return out
}

// ParseCiphertext decodes a handle from its transport encoding.
func ParseCiphertext(data []byte) (Ciphertext, error) {
	if len(data) < WordSize+2 {
		return Ciphertext{}, errors.New("ciphertext too short")
	}
	word := new(big.Int).SetBytes(data[:WordSize])
	nTerms := int(binary.BigEndian.Uint16(data[WordSize : WordSize+2]))
	rest := data[WordSize+2:]
	if len(rest) != nTerms*(nonceSize+4) {
		return Ciphertext{}, fmt.Errorf("ciphertext length mismatch: %d terms, %d trailing bytes", nTerms, len(rest))
	}

	terms := make([]maskTerm, nTerms)
	for i := range terms {
		copy(terms[i].nonce[:], rest[:nonceSize])
		terms[i].coeff = int32(binary.BigEndian.Uint32(rest[nonceSize : nonceSize+4]))
		rest = rest[nonceSize+4:]
	}
	return Ciphertext{word: word, terms: terms}, nil
}

// MarshalJSON encodes the handle as a hex string of its transport bytes.
func (ct Ciphertext) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(ct.TransportBytes()))
}

// UnmarshalJSON decodes a handle from a hex string of its transport bytes.
func (ct *Ciphertext) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*ct = Ciphertext{}
		return nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	parsed, err := ParseCiphertext(raw)
	if err != nil {
		return err
	}
	*ct = parsed
	return nil
}

// Engine is the homomorphic arithmetic boundary. Operations work on opaque
// handles and never observe plaintext; only the decryption oracle holds the
// key material needed to recover cleartext.
type Engine interface {
	// Add returns a handle to the sum of the two encrypted values.
	Add(a, b Ciphertext) (Ciphertext, error)

	// Sub returns a handle to the difference of the two encrypted values.
	// Arithmetic wraps modulo 2^256; negative results decode as signed
	// two's complement.
	Sub(a, b Ciphertext) (Ciphertext, error)

	// EncryptZero returns a fresh encryption of zero, used to seed
	// per-round accumulators.
	EncryptZero() (Ciphertext, error)

	// IsInitialized reports whether the handle refers to an encrypted value.
	IsInitialized(ct Ciphertext) bool

	// TransportBytes returns the canonical wire encoding of the handle.
	TransportBytes(ct Ciphertext) []byte
}

// EncodeCleartext encodes a signed value as a 32-byte two's-complement word.
func EncodeCleartext(v *big.Int) []byte {
	reduced := new(big.Int).Mod(v, wordModulus)
	return reduced.FillBytes(make([]byte, WordSize))
}

// DecodeCleartext interprets a 32-byte word as a signed two's-complement
// value.
func DecodeCleartext(word []byte) (*big.Int, error) {
	if len(word) != WordSize {
		return nil, fmt.Errorf("cleartext word must be %d bytes, got %d", WordSize, len(word))
	}
	v := new(big.Int).SetBytes(word)
	if v.Cmp(signBound) >= 0 {
		v.Sub(v, wordModulus)
	}
	return v, nil
}
