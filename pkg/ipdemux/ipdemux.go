/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package ipdemux stands in for the ARP/IPv4-forwarding/ICMP layer
// spec.md explicitly models only through the interface the TCP core
// consumes. It is deliberately not a router: a single local address,
// one driver hook for every outbound datagram, no ARP resolution, no
// fragmentation. Its job
// is to get real IPv4 addresses and a real pseudo-header checksum in
// front of pkg/tcp so the core can be exercised end-to-end without
// pulling in a full network stack.
package ipdemux

import (
	"net/netip"

	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/netlog"
	"github.com/go-tcpstack/microtcp/pkg/nettimer"
	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
	"github.com/go-tcpstack/microtcp/pkg/tcp"
)

var log = netlog.For(netlog.IPDemux)

// minIPv4HeaderSize is the shortest legal IPv4 header (no options).
const minIPv4HeaderSize = 20

// Demux is a minimal IPv4 demultiplexer implementing tcp.IPv4Sender. It
// owns no routing table: IPv4Out hands every datagram with an IPv4
// destination to the send hook, whatever that destination is, and only
// a non-IPv4 address is refused with UNREACH.
type Demux struct {
	pool   *mblock.Pool
	table  *tcp.Table
	local  netip.Addr
	send   func(buf *pktbuf.Buf) error
	timers *nettimer.Wheel
}

// New creates a Demux bound to localAddr (the only address it will
// accept inbound datagrams for; IPv4Out takes its source address from
// the caller). send is
// the driver-boundary hook (pkg/netif) that actually puts a finished IP
// datagram on the wire. timers may be nil (tests that don't care about
// TIME_WAIT expiry); the worker always supplies its own wheel so that
// connections reaching TIME_WAIT via the inbound path get reaped.
func New(pool *mblock.Pool, table *tcp.Table, localAddr netip.Addr, send func(buf *pktbuf.Buf) error, timers *nettimer.Wheel) *Demux {
	return &Demux{pool: pool, table: table, local: localAddr, send: send, timers: timers}
}

// IPv4In parses an IPv4 header off the front of buf (ownership
// transfers in) and, if it carries TCP addressed to our local address,
// strips the header and hands the remainder to tcp.Input. Anything else
// (wrong protocol, wrong destination, malformed header) is dropped.
func (d *Demux) IPv4In(buf *pktbuf.Buf, out tcp.IPv4Sender) error {
	if buf.Len() < minIPv4HeaderSize {
		buf.Free()
		return tcp.NewError(tcp.SIZE, "ipv4 datagram shorter than header")
	}

	raw, err := buf.ContiguousPrefix(minIPv4HeaderSize)
	if err != nil {
		buf.Free()
		return err
	}

	ihl := int(raw[0]&0x0f) * 4
	protocol := raw[9]
	src := netip.AddrFrom4([4]byte{raw[12], raw[13], raw[14], raw[15]})
	dst := netip.AddrFrom4([4]byte{raw[16], raw[17], raw[18], raw[19]})

	if protocol != tcp.ProtocolTCP {
		log.WithField("protocol", protocol).Debug("dropping non-tcp datagram")
		buf.Free()
		return nil
	}
	if dst != d.local {
		log.WithField("dst", dst).Debug("dropping datagram not addressed to us")
		buf.Free()
		return nil
	}
	if ihl < minIPv4HeaderSize || ihl > buf.Len() {
		buf.Free()
		return tcp.NewError(tcp.SIZE, "ipv4 ihl out of range")
	}
	if err := buf.RemoveHeader(ihl); err != nil {
		buf.Free()
		return err
	}

	return tcp.InputWithTimers(buf, dst, src, d.pool, d.table, out, d.timers)
}

// IPv4Out implements tcp.IPv4Sender: it prepends a minimal 20-byte IPv4
// header (no options, no fragmentation) and hands the datagram to the
// driver boundary. Ownership of buf transfers in regardless of outcome.
func (d *Demux) IPv4Out(protocol uint8, dst, src netip.Addr, buf *pktbuf.Buf) error {
	if !dst.Is4() || !src.Is4() {
		buf.Free()
		return tcp.NewError(tcp.UNREACH, "ipdemux supports ipv4 only")
	}

	if err := buf.AddHeader(minIPv4HeaderSize, true); err != nil {
		buf.Free()
		return err
	}
	raw, err := buf.ContiguousPrefix(minIPv4HeaderSize)
	if err != nil {
		buf.Free()
		return err
	}

	totalLen := buf.Len()
	raw[0] = 0x45 // version 4, IHL 5
	raw[1] = 0
	raw[2] = byte(totalLen >> 8)
	raw[3] = byte(totalLen)
	raw[4], raw[5] = 0, 0 // identification
	raw[6], raw[7] = 0, 0 // flags/fragment offset
	raw[8] = 64           // TTL
	raw[9] = protocol
	raw[10], raw[11] = 0, 0 // header checksum, filled below

	s4 := src.As4()
	d4 := dst.As4()
	copy(raw[12:16], s4[:])
	copy(raw[16:20], d4[:])

	cs := ipHeaderChecksum(raw)
	raw[10], raw[11] = byte(cs>>8), byte(cs)

	return d.send(buf)
}

// ipHeaderChecksum computes the Internet checksum over a 20-byte IPv4
// header with the checksum field itself zeroed, the same
// compute-vs-verify trick pkg/tcp.ChecksumPseudoHeader documents.
func ipHeaderChecksum(raw []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(raw); i += 2 {
		sum += uint32(raw[i])<<8 | uint32(raw[i+1])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
