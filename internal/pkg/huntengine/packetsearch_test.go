package huntengine

import (
	"testing"

	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/endorses/packhound/internal/pkg/pcapstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePacketSearch_ASCII(t *testing.T) {
	ps, err := compilePacketSearch(model.Hunt{SearchType: model.SearchASCII, Search: "HELLO"})
	require.NoError(t, err)

	assert.True(t, ps.matches([]byte("say hello world")))
	assert.False(t, ps.matches([]byte("say goodbye")))
}

func TestCompilePacketSearch_ASCIICase_IsCaseSensitive(t *testing.T) {
	ps, err := compilePacketSearch(model.Hunt{SearchType: model.SearchASCIICase, Search: "HELLO"})
	require.NoError(t, err)

	assert.True(t, ps.matches([]byte("HELLO world")))
	assert.False(t, ps.matches([]byte("hello world")))
}

func TestCompilePacketSearch_Hex(t *testing.T) {
	ps, err := compilePacketSearch(model.Hunt{SearchType: model.SearchHex, Search: "deadbeef"})
	require.NoError(t, err)

	assert.True(t, ps.matches([]byte{0xde, 0xad, 0xbe, 0xef}))
	assert.False(t, ps.matches([]byte{0x01, 0x02}))
}

func TestCompilePacketSearch_Regex(t *testing.T) {
	ps, err := compilePacketSearch(model.Hunt{SearchType: model.SearchRegex, Search: `^GET /\w+`})
	require.NoError(t, err)

	assert.True(t, ps.matches([]byte("GET /index HTTP/1.1")))
	assert.False(t, ps.matches([]byte("POST /index HTTP/1.1")))
}

func TestCompilePacketSearch_HexRegex(t *testing.T) {
	ps, err := compilePacketSearch(model.Hunt{SearchType: model.SearchHexRegex, Search: `^dead`})
	require.NoError(t, err)

	assert.True(t, ps.matches([]byte{0xde, 0xad, 0x00}))
}

func TestCompilePacketSearch_InvalidRegex(t *testing.T) {
	_, err := compilePacketSearch(model.Hunt{SearchType: model.SearchRegex, Search: "("})
	assert.Error(t, err)
}

func TestCompilePacketSearch_UnsupportedType(t *testing.T) {
	_, err := compilePacketSearch(model.Hunt{SearchType: model.SearchWildcard, Search: "x"})
	assert.Error(t, err)
}

func TestPacketDirectionAllowed_BothOrNeitherRequested(t *testing.T) {
	pkt := pcapstore.Packet{}
	assert.True(t, packetDirectionAllowed(pkt, 0, "1.1.1.1", "2.2.2.2", true, true))
	assert.True(t, packetDirectionAllowed(pkt, 0, "1.1.1.1", "2.2.2.2", false, false))
}
