package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	scheme := SchnorrScheme{}
	body := []byte("block signing body")

	sig, err := scheme.Sign(key, body)
	require.NoError(t, err)
	require.True(t, scheme.Verify(sig, body, key.Identifier()))
}

func TestVerifyRejectsWrongIdentity(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)
	other, err := GenerateSigningKey()
	require.NoError(t, err)

	scheme := SchnorrScheme{}
	body := []byte("payload")
	sig, err := scheme.Sign(key, body)
	require.NoError(t, err)

	require.False(t, scheme.Verify(sig, body, other.Identifier()))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)
	scheme := SchnorrScheme{}

	sig, err := scheme.Sign(key, []byte("original"))
	require.NoError(t, err)
	require.False(t, scheme.Verify(sig, []byte("tampered"), key.Identifier()))
}
