package httpfront

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashAndVerifyPassword_RoundTrip(t *testing.T) {
	digest := HashPassword("node-secret", "alice", "s3cret!")

	assert.True(t, verifyPassword("node-secret", "alice", "s3cret!", digest))
	assert.False(t, verifyPassword("node-secret", "alice", "wrong", digest))
	assert.False(t, verifyPassword("node-secret", "bob", "s3cret!", digest))
}

func TestVerifyPassword_EmptyPassStore(t *testing.T) {
	assert.False(t, verifyPassword("node-secret", "alice", "anything", ""))
}
