// Package crypto provides the primitives used by the portfolio aggregation
// protocol: Ed25519 keys and signatures for caller and oracle identity, and
// the ciphertext handle type with the homomorphic arithmetic boundary.
//
// Ciphertexts are opaque handles. All arithmetic on them produces new
// encrypted values without revealing plaintext; only the decryption oracle,
// holding the engine key, can recover cleartext.
package crypto
