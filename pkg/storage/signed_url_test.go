package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", time.Minute)

	token, expiresAt, err := signer.Generate("user-1", "user-1.png")
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))

	subjectID, relPath, _, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", subjectID)
	require.Equal(t, "user-1.png", relPath)
}

func TestSignedURLTamperedSignature(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", time.Minute)
	token, _, err := signer.Generate("user-1", "user-1.png")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token + "ff")
	require.Error(t, err)
}

func TestSignedURLExpired(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", time.Minute)
	signer.ttl = -time.Minute

	token, _, err := signer.Generate("user-1", "user-1.png")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token)
	require.ErrorContains(t, err, "expired")
}

func TestSignedURLWrongSecret(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", time.Minute)
	other := NewSignedURLSigner("other-secret", time.Minute)

	token, _, err := signer.Generate("user-1", "user-1.png")
	require.NoError(t, err)

	_, _, _, err = other.Parse(token)
	require.Error(t, err)
}
