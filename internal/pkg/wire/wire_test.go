package wire

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	f := Frame{
		SPIJSON: []byte(`{"id":"abc123"}`),
		Pcap:    bytes.Repeat([]byte{0xAB}, GlobalHeaderSize+40),
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, f))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, f.SPIJSON, got.SPIJSON)
	assert.Equal(t, f.Pcap, got.Pcap)
}

func TestEncodeBytes(t *testing.T) {
	f := Frame{SPIJSON: []byte(`{}`), Pcap: []byte{1, 2, 3}}

	b, err := EncodeBytes(f)
	require.NoError(t, err)

	got, err := Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, f.SPIJSON, got.SPIJSON)
	assert.Equal(t, f.Pcap, got.Pcap)
}

func TestDecode_TruncatedHeader(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecode_TruncatedBody(t *testing.T) {
	f := Frame{SPIJSON: []byte(`{"a":1}`), Pcap: []byte{9, 9, 9, 9}}
	full, err := EncodeBytes(f)
	require.NoError(t, err)

	// chop off the last byte of the pcap payload
	truncated := full[:len(full)-1]
	_, err = Decode(bytes.NewReader(truncated))
	assert.Error(t, err)
}

func TestSaveID_Deterministic(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	id1 := SaveID("node-a", now)
	id2 := SaveID("node-a", now)
	assert.Equal(t, id1, id2)
	assert.Contains(t, id1, "node-a-")

	idOther := SaveID("node-b", now)
	assert.NotEqual(t, id1, idOther)
}
