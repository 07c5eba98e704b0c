// Package wire implements the peer session-forward frame format (spec
// §6.1): the byte layout CronEngine's forward action and PeerProxy's
// S2S receive endpoint exchange. The length-prefixed, fixed-field
// framing mirrors internal/pkg/li/x2x3's PDU encoder/decoder pair in
// the teacher, adapted from ETSI X2/X3 framing to this repo's
// spi-then-pcap frame.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"time"
)

// GlobalHeaderSize is the size of a pcap global header, carried as the
// first 24 bytes of the pcap payload in a Frame.
const GlobalHeaderSize = 24

// Frame is one session-forward payload (spec §6.1): the session's SPI
// document (with packetPos rewritten to local offsets by the sender)
// followed by a pcap global header and the session's raw packet
// records, concatenated.
type Frame struct {
	SPIJSON []byte
	Pcap    []byte // 24-byte global header + concatenated packet records
}

// Encode writes the wire frame:
//
//	u32 BE  len(SPIJSON)
//	u32 BE  0 (reserved)
//	u32 BE  len(Pcap)
//	SPIJSON
//	Pcap
func Encode(w io.Writer, f Frame) error {
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(f.SPIJSON)))
	binary.BigEndian.PutUint32(hdr[4:8], 0)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(f.Pcap)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(f.SPIJSON); err != nil {
		return fmt.Errorf("write spi json: %w", err)
	}
	if _, err := w.Write(f.Pcap); err != nil {
		return fmt.Errorf("write pcap bytes: %w", err)
	}
	return nil
}

// Decode reads a wire frame previously written by Encode.
func Decode(r io.Reader) (Frame, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}
	spiLen := binary.BigEndian.Uint32(hdr[0:4])
	pcapLen := binary.BigEndian.Uint32(hdr[8:12])

	spi := make([]byte, spiLen)
	if _, err := io.ReadFull(r, spi); err != nil {
		return Frame{}, fmt.Errorf("read spi json (%d bytes): %w", spiLen, err)
	}
	pcap := make([]byte, pcapLen)
	if _, err := io.ReadFull(r, pcap); err != nil {
		return Frame{}, fmt.Errorf("read pcap bytes (%d bytes): %w", pcapLen, err)
	}
	return Frame{SPIJSON: spi, Pcap: pcap}, nil
}

// EncodeBytes is a convenience wrapper returning the encoded frame as
// a byte slice, for callers building an HTTP request body.
func EncodeBytes(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveID builds the `<nodeName>-<nowMs base36>` correlation id the
// receiver uses to group frames from one forward operation (spec §6.1,
// §6.5 GLOSSARY).
func SaveID(nodeName string, now time.Time) string {
	return nodeName + "-" + strconv.FormatInt(now.UnixMilli(), 36)
}
