/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tcp

import (
	"net/netip"

	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/netlog"
	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
)

var outLog = netlog.For(netlog.TCP)

// IPv4Sender is the IPv4 boundary the output path hands finished
// segments to; ownership of buf transfers on every call, success or
// failure. pkg/ipdemux implements this; pkg/tcp depends only on the
// interface, so the two packages don't form an import cycle (ipdemux
// depends on tcp for Input, not the other way around).
type IPv4Sender interface {
	IPv4Out(protocol uint8, dst, src netip.Addr, buf *pktbuf.Buf) error
}

// maxSegmentData bounds how many payload bytes transmit packs into a
// single outgoing segment; the driver boundary's MTU is fixed at 1500
// per spec.md §6, so this leaves room for the (option-less) TCP header.
const maxSegmentData = 1500 - HeaderSize

// sendOut finalizes hdr (zeroing and recomputing the checksum) and
// hands buf to out. Ownership of buf always transfers: out.IPv4Out
// frees it on failure per the IPv4 boundary contract, and sendOut
// itself frees it if it cannot even get that far.
func sendOut(hdr Header, buf *pktbuf.Buf, dst, src netip.Addr, out IPv4Sender) error {
	raw, err := buf.ContiguousPrefix(HeaderSize)
	if err != nil {
		buf.Free()
		return err
	}
	hdr.Checksum = 0
	EncodeHeader(hdr, raw)

	cs, err := ChecksumPseudoHeader(ProtocolTCP, src, dst, buf)
	if err != nil {
		buf.Free()
		return err
	}
	raw[16], raw[17] = byte(cs>>8), byte(cs)

	if err := out.IPv4Out(ProtocolTCP, dst, src, buf); err != nil {
		outLog.WithError(err).Debug("send failed")
		return err
	}
	return nil
}

// sendReset replies to seg with RST, unless seg itself carried RST (two
// RST-producing peers would otherwise loop forever). Source/destination
// ports swap since the reply runs in the opposite direction of seg.
func sendReset(pool *mblock.Pool, seg *Segment, out IPv4Sender) error {
	if seg.Hdr.Flags.Has(FlagRST) {
		return nil
	}

	buf, err := pktbuf.Alloc(pool, HeaderSize)
	if err != nil {
		return err
	}

	hdr := Header{
		SrcPort:    seg.Hdr.DstPort,
		DstPort:    seg.Hdr.SrcPort,
		DataOffset: HeaderSize / 4,
		Flags:      FlagRST,
	}
	if seg.Hdr.Flags.Has(FlagACK) {
		hdr.SeqNum = seg.Hdr.AckNum
		hdr.AckNum = 0
	} else {
		hdr.SeqNum = 0
		hdr.AckNum = seg.Seq.Add(seg.SeqLen).fold()
		hdr.Flags |= FlagACK
	}

	return sendOut(hdr, buf, seg.RemoteAddr, seg.LocalAddr, out)
}

// fold turns a Seq back into the raw uint32 wire value.
func (a Seq) fold() uint32 { return uint32(a) }

// sendAck emits a bare ACK (no data) reflecting the TCB's current
// snd.nxt/rcv.nxt, unless seg carried RST.
func sendAck(pool *mblock.Pool, tcb *TCB, seg *Segment, out IPv4Sender) error {
	if seg.Hdr.Flags.Has(FlagRST) {
		return nil
	}

	buf, err := pktbuf.Alloc(pool, HeaderSize)
	if err != nil {
		return err
	}

	hdr := Header{
		SrcPort:    tcb.LocalPort,
		DstPort:    tcb.RemotePort,
		SeqNum:     uint32(tcb.Snd.NXT),
		AckNum:     uint32(tcb.Rcv.NXT),
		DataOffset: HeaderSize / 4,
		Flags:      FlagACK,
		Window:     tcb.Rcv.WND,
	}
	return sendOut(hdr, buf, tcb.RemoteAddr, tcb.LocalAddr, out)
}

// sendSyn marks SYN pending and transmits immediately.
func sendSyn(pool *mblock.Pool, tcb *TCB, out IPv4Sender) error {
	tcb.Flags.SynOut = true
	return transmit(pool, tcb, out)
}

// sendFin marks FIN pending and transmits immediately. transmit only
// actually sets the FIN bit once the send queue has drained (see
// transmit's doc comment) — calling sendFin before that just requests
// it.
func sendFin(pool *mblock.Pool, tcb *TCB, out IPv4Sender) error {
	tcb.Flags.FinOut = true
	return transmit(pool, tcb, out)
}

// transmit builds and sends one segment carrying whatever of the send
// queue currently fits, plus SYN/ACK/FIN flags as appropriate, then
// advances snd.nxt by the number of sequence-number-consuming bits
// (data bytes + SYN + FIN) it just sent.
//
// The source this stack is ported from sets FIN unconditionally
// whenever fin_out is true, even mid-transfer; its own comment says
// that's wrong. This port gates FIN on sendQueue being fully drained,
// matching what the comment (and RFC-793) actually require.
func transmit(pool *mblock.Pool, tcb *TCB, out IPv4Sender) error {
	n := tcb.PendingSendLen()
	if n > maxSegmentData {
		n = maxSegmentData
	}
	data, remaining, err := tcb.TakeSend(n)
	if err != nil {
		return err
	}

	buf, err := pktbuf.Alloc(pool, HeaderSize+len(data))
	if err != nil {
		// Requeue the data we just pulled off so it isn't lost.
		if len(data) > 0 {
			_ = tcb.QueueSend(pool, data)
		}
		return err
	}
	if len(data) > 0 {
		if err := buf.Seek(HeaderSize); err != nil {
			buf.Free()
			return err
		}
		if err := buf.Write(data); err != nil {
			buf.Free()
			return err
		}
	}

	hdr := Header{
		SrcPort:    tcb.LocalPort,
		DstPort:    tcb.RemotePort,
		SeqNum:     uint32(tcb.Snd.NXT),
		AckNum:     uint32(tcb.Rcv.NXT),
		DataOffset: HeaderSize / 4,
		Window:     tcb.Rcv.WND,
	}
	if tcb.Flags.SynOut {
		hdr.Flags |= FlagSYN
	}
	if tcb.Flags.IRSValid {
		hdr.Flags |= FlagACK
	}
	if tcb.Flags.FinOut && remaining == 0 {
		hdr.Flags |= FlagFIN
	}

	var inc uint32 = uint32(len(data))
	if hdr.Flags.Has(FlagSYN) {
		inc++
	}
	if hdr.Flags.Has(FlagFIN) {
		inc++
	}
	tcb.Snd.NXT = tcb.Snd.NXT.Add(inc)

	return sendOut(hdr, buf, tcb.RemoteAddr, tcb.LocalAddr, out)
}

// ackProcess handles an incoming ACK value against the TCB's send
// state, per spec.md §4.H's ACK-processing rules. It reports an
// *Error with Kind UNREACH when the ACK acknowledges something not yet
// sent (out-of-range), in which case it has already re-synced the peer
// with an ACK of its own.
func ackProcess(pool *mblock.Pool, tcb *TCB, seg *Segment, out IPv4Sender) error {
	ack := Seq(seg.Hdr.AckNum)

	if ack.BeforeEq(tcb.Snd.UNA) {
		// Duplicate/old ACK: ignore.
		return nil
	}
	if tcb.Snd.NXT.Before(ack) {
		if err := sendAck(pool, tcb, seg, out); err != nil {
			return err
		}
		return NewError(UNREACH, "ack beyond snd.nxt")
	}

	if tcb.Flags.SynOut {
		tcb.Snd.UNA = tcb.Snd.UNA.Add(1)
		tcb.Flags.SynOut = false
	}

	ackedCount := uint32(ack.Diff(tcb.Snd.UNA))
	tcb.Snd.UNA = tcb.Snd.UNA.Add(ackedCount)

	tcb.Wakeup(WaitWrite, Result{Err: nil})
	return nil
}
