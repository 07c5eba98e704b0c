package cronengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitTags("a,b,c"))
	assert.Equal(t, []string{"a", "b"}, splitTags("a,,b,"))
	assert.Empty(t, splitTags(""))
	assert.Equal(t, []string{"solo"}, splitTags("solo"))
}
