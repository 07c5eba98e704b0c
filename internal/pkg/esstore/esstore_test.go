package esstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTag(t *testing.T) {
	assert.Equal(t, "abc-123_x:y,z", sanitizeTag("abc-123_x:y,z"))
	assert.Equal(t, "helloDROPTABLE", sanitizeTag("hel'lo\"; DROP TABLE"))
	assert.Equal(t, "", sanitizeTag("!@#$%^&*()"))
}
