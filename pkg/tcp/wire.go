/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tcp

import (
	"encoding/binary"
	"net/netip"

	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
)

// ProtocolTCP is the IPv4 protocol number carried in the pseudo-header
// and passed to the IPv4 boundary.
const ProtocolTCP = 6

// HeaderSize is the fixed RFC-793 header size this stack emits and
// expects; no TCP options are supported, so DataOffset is always 5.
const HeaderSize = 20

// Flags is the set of the header's six control bits.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	var out []byte
	add := func(bit Flags, c byte) {
		if f.Has(bit) {
			out = append(out, c)
		}
	}
	add(FlagURG, 'U')
	add(FlagACK, 'A')
	add(FlagPSH, 'P')
	add(FlagRST, 'R')
	add(FlagSYN, 'S')
	add(FlagFIN, 'F')
	if len(out) == 0 {
		return "-"
	}
	return string(out)
}

// Header is the in-memory, host-byte-order rendering of an RFC-793 TCP
// segment header.
type Header struct {
	SrcPort    uint16
	DstPort    uint16
	SeqNum     uint32
	AckNum     uint32
	DataOffset uint8 // header length in 32-bit words
	Flags      Flags
	Window     uint16
	Checksum   uint16
	Urgent     uint16
}

// HdrLen returns the header's declared length in bytes.
func (h Header) HdrLen() int { return int(h.DataOffset) * 4 }

// DecodeHeader parses a HeaderSize-byte wire-format slice into a
// Header. Reading each field with encoding/binary.BigEndian already
// performs the network-to-host conversion the original C stack did
// field-by-field with x_ntohs/x_ntohl; there is no separate
// byte-swap-in-place step in this port.
func DecodeHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize {
		return Header{}, NewError(SIZE, "short tcp header")
	}
	return Header{
		SrcPort:    binary.BigEndian.Uint16(raw[0:2]),
		DstPort:    binary.BigEndian.Uint16(raw[2:4]),
		SeqNum:     binary.BigEndian.Uint32(raw[4:8]),
		AckNum:     binary.BigEndian.Uint32(raw[8:12]),
		DataOffset: raw[12] >> 4,
		Flags:      Flags(raw[13] & 0x3f),
		Window:     binary.BigEndian.Uint16(raw[14:16]),
		Checksum:   binary.BigEndian.Uint16(raw[16:18]),
		Urgent:     binary.BigEndian.Uint16(raw[18:20]),
	}, nil
}

// EncodeHeader writes h into raw in wire format. raw must be at least
// HeaderSize bytes.
func EncodeHeader(h Header, raw []byte) {
	binary.BigEndian.PutUint16(raw[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(raw[2:4], h.DstPort)
	binary.BigEndian.PutUint32(raw[4:8], h.SeqNum)
	binary.BigEndian.PutUint32(raw[8:12], h.AckNum)
	raw[12] = h.DataOffset << 4
	raw[13] = byte(h.Flags) & 0x3f
	binary.BigEndian.PutUint16(raw[14:16], h.Window)
	binary.BigEndian.PutUint16(raw[16:18], h.Checksum)
	binary.BigEndian.PutUint16(raw[18:20], h.Urgent)
}

// ChecksumPseudoHeader computes the Internet checksum of the pseudo-
// header (src, dst, zero, protocol, tcp_length) followed by buf's full
// contents, folding carries and returning the one's complement.
//
// The same routine both computes a fresh checksum and verifies a
// received one, by the usual Internet-checksum trick: to compute,
// zero the checksum field before calling; the result is the value to
// store. To verify, call with the checksum field as received; the
// result is zero iff it matches.
//
// If buf's length is odd, the trailing byte is implicitly zero-padded
// for the purpose of this calculation only — the buffer itself is
// never modified.
func ChecksumPseudoHeader(protocol uint8, src, dst netip.Addr, buf *pktbuf.Buf) (uint16, error) {
	var sum uint32

	s4 := src.As4()
	d4 := dst.As4()
	sum += uint32(s4[0])<<8 | uint32(s4[1])
	sum += uint32(s4[2])<<8 | uint32(s4[3])
	sum += uint32(d4[0])<<8 | uint32(d4[1])
	sum += uint32(d4[2])<<8 | uint32(d4[3])
	sum += uint32(protocol)
	sum += uint32(buf.Len())

	savedCursor := buf.Tell()
	if err := buf.Seek(0); err != nil {
		return 0, err
	}

	const chunkSize = 256
	remaining := buf.Len()
	chunk := make([]byte, 0, chunkSize)
	var pending byte
	havePending := false

	for remaining > 0 {
		n := remaining
		if n > chunkSize {
			n = chunkSize
		}
		chunk = chunk[:n]
		if err := buf.Read(chunk); err != nil {
			return 0, err
		}

		i := 0
		if havePending {
			sum += uint32(pending)<<8 | uint32(chunk[0])
			i = 1
			havePending = false
		}
		for ; i+1 < len(chunk); i += 2 {
			sum += uint32(chunk[i])<<8 | uint32(chunk[i+1])
		}
		if i < len(chunk) {
			pending = chunk[i]
			havePending = true
		}
		remaining -= n
	}
	if havePending {
		sum += uint32(pending) << 8
	}

	if err := buf.Seek(savedCursor); err != nil {
		return 0, err
	}

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum), nil
}
