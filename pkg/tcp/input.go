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
	"github.com/go-tcpstack/microtcp/pkg/nettimer"
	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
)

var inLog = netlog.For(netlog.TCP)

// Input runs the ten-step TCP input path of spec.md §4.G over buf, with
// no timer wheel: a connection that reaches TIME_WAIT through this path
// enters the state but never schedules its 2*MSL deadline. Tests that
// don't exercise TIME_WAIT expiry use this; production call sites go
// through InputWithTimers via the worker's Demux.
func Input(buf *pktbuf.Buf, localAddr, remoteAddr netip.Addr, pool *mblock.Pool, table *Table, out IPv4Sender) error {
	return InputWithTimers(buf, localAddr, remoteAddr, pool, table, out, nil)
}

// InputWithTimers is Input plus a timer wheel, needed so that a TIME_WAIT
// entry reached via the normal inbound path schedules its reaping the
// same as one entered through the API-driven close path.
func InputWithTimers(buf *pktbuf.Buf, localAddr, remoteAddr netip.Addr, pool *mblock.Pool, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	defer buf.Free()

	if buf.Len() < HeaderSize {
		return NewError(SIZE, "segment shorter than tcp header")
	}

	raw, err := buf.ContiguousPrefix(HeaderSize)
	if err != nil {
		return NewError(SIZE, "cannot make header contiguous")
	}

	checksumField := uint16(raw[16])<<8 | uint16(raw[17])
	if checksumField != 0 {
		result, err := ChecksumPseudoHeader(ProtocolTCP, remoteAddr, localAddr, buf)
		if err != nil {
			return err
		}
		if result != 0 {
			inLog.Warn("tcp checksum incorrect")
			return NewError(CHKSUM, "checksum mismatch")
		}
	}

	hdr, err := DecodeHeader(raw)
	if err != nil {
		return err
	}
	if buf.Len() < hdr.HdrLen() {
		inLog.WithField("declared", hdr.HdrLen()).Warn("tcp packet size incorrect")
		return NewError(SIZE, "declared header size exceeds segment")
	}
	if hdr.SrcPort == 0 || hdr.DstPort == 0 {
		inLog.Warn("port == 0")
		return NewError(UNREACH, "zero port")
	}
	if hdr.Flags == 0 {
		inLog.Warn("flags == 0")
		return NewError(UNREACH, "no flags set")
	}

	dataLen := buf.Len() - hdr.HdrLen()
	seg := newSegment(hdr, localAddr, remoteAddr, dataLen)

	tcb := table.Lookup(localAddr, hdr.DstPort, remoteAddr, hdr.SrcPort)
	if tcb == nil {
		inLog.WithField("port", hdr.DstPort).Info("no tcb found")
		return sendReset(pool, &seg, out)
	}

	switch tcb.State {
	case StateClosed, StateListen, StateSynSent, StateSynRcvd:
		// These states haven't yet validated the peer's sequence space,
		// so the acceptability test doesn't apply.
	default:
		if !acceptable(tcb, &seg) {
			inLog.WithField("seq", seg.Seq).Info("seq not acceptable")
			if !hdr.Flags.Has(FlagRST) {
				return sendAck(pool, tcb, &seg, out)
			}
			return nil
		}
	}

	return DispatchWithTimers(pool, tcb, &seg, buf, table, out, timers)
}

// acceptable implements RFC-793 §3.3's segment acceptability test.
func acceptable(tcb *TCB, seg *Segment) bool {
	segLen := seg.SeqLen
	wnd := uint32(tcb.Rcv.WND)

	switch {
	case segLen == 0 && wnd == 0:
		return seg.Seq == tcb.Rcv.NXT
	case segLen == 0 && wnd > 0:
		return seg.Seq.InWindow(tcb.Rcv.NXT, wnd)
	case segLen > 0 && wnd == 0:
		return false
	default:
		if seg.Seq.InWindow(tcb.Rcv.NXT, wnd) {
			return true
		}
		last := seg.Seq.Add(segLen - 1)
		return last.InWindow(tcb.Rcv.NXT, wnd)
	}
}

// dataIn applies the simplified, non-reassembling data-in policy of
// spec.md §4.I: accepted payload bytes are copied out of buf (which
// Input retains ownership of and frees itself) into the TCB's receive
// queue and readers woken; a FIN advances rcv.nxt by one and wakes
// every waiter with CLOSE, after which an ACK is sent.
//
// Full out-of-order reassembly is explicitly out of scope (spec.md §9);
// segments that arrive out of order are handled only by the
// acceptability test admitting or rejecting them, not by buffering and
// reordering.
func dataIn(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, out IPv4Sender) error {
	woke := false

	if seg.DataLen > 0 {
		payload, err := pktbuf.Alloc(pool, seg.DataLen)
		if err != nil {
			return err
		}
		if err := buf.Seek(seg.Hdr.HdrLen()); err != nil {
			payload.Free()
			return err
		}
		if err := payload.Seek(0); err != nil {
			payload.Free()
			return err
		}
		if err := pktbuf.Copy(payload, buf, seg.DataLen); err != nil {
			payload.Free()
			return err
		}
		if err := tcb.QueueRecv(payload); err != nil {
			return err
		}
		tcb.Rcv.NXT = tcb.Rcv.NXT.Add(uint32(seg.DataLen))
		woke = true
	}

	if seg.Hdr.Flags.Has(FlagFIN) {
		tcb.Rcv.NXT = tcb.Rcv.NXT.Add(1)
		woke = true
	}

	if !woke {
		return nil
	}

	if seg.Hdr.Flags.Has(FlagFIN) {
		tcb.Wakeup(WaitAll, Result{Err: NewError(CLOSE, "peer closed")})
	} else {
		tcb.Wakeup(WaitRead, Result{})
	}
	return sendAck(pool, tcb, seg, out)
}
