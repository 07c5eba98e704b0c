package peerauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	tok, err := Sign("shared-secret", "user1", "/sessions/abc/delete/pcap")
	require.NoError(t, err)

	userID, err := Verify("shared-secret", tok, "/sessions/abc/delete/pcap")
	require.NoError(t, err)
	assert.Equal(t, "user1", userID)
}

func TestVerify_PathMismatch(t *testing.T) {
	tok, err := Sign("shared-secret", "user1", "/sessions/abc/delete/pcap")
	require.NoError(t, err)

	_, err = Verify("shared-secret", tok, "/sessions/other/delete/pcap")
	assert.ErrorIs(t, err, ErrPathMismatch)
}

func TestVerify_WrongSecret(t *testing.T) {
	tok, err := Sign("shared-secret", "user1", "/path")
	require.NoError(t, err)

	_, err = Verify("different-secret", tok, "/path")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerify_Malformed(t *testing.T) {
	_, err := Verify("shared-secret", "not-base64!!", "/path")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCSRF_RoundTrip(t *testing.T) {
	tok, err := IssueCSRF("shared-secret", "user1")
	require.NoError(t, err)

	require.NoError(t, VerifyCSRF("shared-secret", tok, "user1"))
}

func TestCSRF_WrongUser(t *testing.T) {
	tok, err := IssueCSRF("shared-secret", "user1")
	require.NoError(t, err)

	err = VerifyCSRF("shared-secret", tok, "user2")
	assert.ErrorIs(t, err, ErrPathMismatch)
}
