package crypto

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) *MaskedEngine {
	t.Helper()
	engine, err := NewMaskedEngine([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return engine
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	engine := testEngine(t)

	for _, v := range []int64{0, 1, 100, -1, -10, 1 << 40} {
		ct, err := engine.Encrypt(big.NewInt(v))
		require.NoError(t, err)
		require.True(t, engine.IsInitialized(ct))

		got, err := engine.Decrypt(ct)
		require.NoError(t, err)
		require.Zero(t, got.Cmp(big.NewInt(v)), "value %d round trip", v)
	}
}

func TestHomomorphicAddSub(t *testing.T) {
	engine := testEngine(t)

	a, err := engine.Encrypt(big.NewInt(40))
	require.NoError(t, err)
	b, err := engine.Encrypt(big.NewInt(60))
	require.NoError(t, err)

	sum, err := engine.Add(a, b)
	require.NoError(t, err)
	got, err := engine.Decrypt(sum)
	require.NoError(t, err)
	require.Zero(t, got.Cmp(big.NewInt(100)))

	// Difference goes negative and must decode as signed two's complement.
	diff, err := engine.Sub(a, b)
	require.NoError(t, err)
	got, err = engine.Decrypt(diff)
	require.NoError(t, err)
	require.Zero(t, got.Cmp(big.NewInt(-20)))
}

func TestAccumulatorFromEncryptedZero(t *testing.T) {
	engine := testEngine(t)

	acc, err := engine.EncryptZero()
	require.NoError(t, err)

	total := int64(0)
	for _, v := range []int64{50, -40, 3} {
		ct, err := engine.Encrypt(big.NewInt(v))
		require.NoError(t, err)
		acc, err = engine.Add(acc, ct)
		require.NoError(t, err)
		total += v
	}

	got, err := engine.Decrypt(acc)
	require.NoError(t, err)
	require.Zero(t, got.Cmp(big.NewInt(total)))
}

func TestUninitializedHandles(t *testing.T) {
	engine := testEngine(t)

	var empty Ciphertext
	require.False(t, engine.IsInitialized(empty))
	require.Nil(t, empty.TransportBytes())

	ct, err := engine.Encrypt(big.NewInt(1))
	require.NoError(t, err)

	_, err = engine.Add(ct, empty)
	require.Error(t, err)
	_, err = engine.Sub(empty, ct)
	require.Error(t, err)
	_, err = engine.Decrypt(empty)
	require.Error(t, err)
}

func TestTransportBytesRoundTrip(t *testing.T) {
	engine := testEngine(t)

	a, err := engine.Encrypt(big.NewInt(123))
	require.NoError(t, err)
	b, err := engine.Encrypt(big.NewInt(-45))
	require.NoError(t, err)
	ct, err := engine.Add(a, b)
	require.NoError(t, err)

	encoded := engine.TransportBytes(ct)
	parsed, err := ParseCiphertext(encoded)
	require.NoError(t, err)
	require.Equal(t, encoded, parsed.TransportBytes())

	got, err := engine.Decrypt(parsed)
	require.NoError(t, err)
	require.Zero(t, got.Cmp(big.NewInt(78)))

	_, err = ParseCiphertext(encoded[:len(encoded)-1])
	require.Error(t, err)
}

func TestCiphertextJSONRoundTrip(t *testing.T) {
	engine := testEngine(t)

	ct, err := engine.Encrypt(big.NewInt(7))
	require.NoError(t, err)

	data, err := json.Marshal(ct)
	require.NoError(t, err)

	var decoded Ciphertext
	require.NoError(t, json.Unmarshal(data, &decoded))

	got, err := engine.Decrypt(decoded)
	require.NoError(t, err)
	require.Zero(t, got.Cmp(big.NewInt(7)))
}

func TestCleartextWordCodec(t *testing.T) {
	for _, v := range []int64{0, 10, -10, 1 << 62, -(1 << 62)} {
		word := EncodeCleartext(big.NewInt(v))
		require.Len(t, word, WordSize)

		got, err := DecodeCleartext(word)
		require.NoError(t, err)
		require.Zero(t, got.Cmp(big.NewInt(v)))
	}

	_, err := DecodeCleartext([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecryptWithWrongKey(t *testing.T) {
	engine := testEngine(t)
	other, err := NewMaskedEngine([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	ct, err := engine.Encrypt(big.NewInt(42))
	require.NoError(t, err)

	got, err := other.Decrypt(ct)
	require.NoError(t, err)
	require.NotZero(t, got.Cmp(big.NewInt(42)))
}
