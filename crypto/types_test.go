package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyPairSignVerify(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	derived, err := priv.PublicKey()
	require.NoError(t, err)
	require.True(t, derived.Equal(pub))

	data := []byte("payload")
	sig, err := Sign(priv, data)
	require.NoError(t, err)
	require.True(t, sig.Verify(pub, data))
	require.False(t, sig.Verify(pub, []byte("other payload")))

	otherPub, _, err := GenerateKeyPair()
	require.NoError(t, err)
	require.False(t, sig.Verify(otherPub, data))
	require.False(t, pub.Equal(otherPub))
}

func TestPublicKeyHexRoundTrip(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	decoded, err := NewPublicKeyFromString(pub.String())
	require.NoError(t, err)
	require.True(t, decoded.Equal(pub))

	_, err = NewPublicKeyFromString("not hex")
	require.Error(t, err)
}

func TestSignRejectsShortKey(t *testing.T) {
	_, err := Sign(PrivateKey([]byte{1, 2, 3}), []byte("payload"))
	require.Error(t, err)

	_, err = PrivateKey([]byte{1, 2, 3}).PublicKey()
	require.Error(t, err)
}
