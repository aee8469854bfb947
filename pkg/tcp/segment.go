/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tcp

import "net/netip"

// Segment is the worker-local descriptor built once per inbound
// datagram: the decoded header plus the 4-tuple and sequence-length
// bookkeeping every downstream step (acceptability test, state
// handlers, ACK processing) needs. It does not own the packet buffer;
// Input retains that and frees it exactly once when processing the
// message completes.
type Segment struct {
	LocalAddr  netip.Addr
	RemoteAddr netip.Addr
	Hdr        Header
	DataLen    int
	Seq        Seq
	SeqLen     uint32
}

// newSegment builds a Segment from a decoded header and the IP
// addresses it arrived between. dataLen is total_size - declared
// header size; seq_len is data_len plus one for each of SYN/FIN
// present, per spec.md §4.G step 7.
func newSegment(hdr Header, localAddr, remoteAddr netip.Addr, dataLen int) Segment {
	var synFin uint32
	if hdr.Flags.Has(FlagSYN) {
		synFin++
	}
	if hdr.Flags.Has(FlagFIN) {
		synFin++
	}
	return Segment{
		LocalAddr:  localAddr,
		RemoteAddr: remoteAddr,
		Hdr:        hdr,
		DataLen:    dataLen,
		Seq:        Seq(hdr.SeqNum),
		SeqLen:     uint32(dataLen) + synFin,
	}
}
