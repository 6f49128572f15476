package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", time.Hour)

	token, expiresAt, err := signer.Generate("proof-1", "2026/08/proof-1.jpg")
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))

	proofID, relPath, _, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "proof-1", proofID)
	require.Equal(t, "2026/08/proof-1.jpg", relPath)
}

func TestSignedURLRejectsTamperedToken(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", time.Hour)

	token, _, err := signer.Generate("proof-1", "2026/08/proof-1.jpg")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token+"x", false)
	require.Error(t, err)
}

func TestSignedURLRejectsWrongSecret(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", time.Hour)
	other := NewSignedURLSigner("other-secret", time.Hour)

	token, _, err := signer.Generate("proof-1", "a/b.png")
	require.NoError(t, err)

	_, _, _, err = other.Parse(token, false)
	require.Error(t, err)
}

func TestSignedURLExpiry(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", time.Nanosecond)

	token, _, err := signer.Generate("proof-1", "a/b.png")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, _, _, err = signer.Parse(token, false)
	require.Error(t, err)

	_, relPath, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "a/b.png", relPath)
}
