/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tcp

import (
	"time"

	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/nettimer"
	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
)

// MSL is the assumed maximum segment lifetime; TIME_WAIT dwells for
// twice this before the TCB is reaped.
const MSL = 30 * time.Second

// stateHandler is the signature every per-state function implements:
// spec.md §4.I models the state machine as a table of these, dispatched
// by current state rather than a generic if/else chain.
type stateHandler func(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error

var stateHandlers [stateMax]stateHandler

func init() {
	stateHandlers[StateClosed] = closedIn
	stateHandlers[StateListen] = listenIn
	stateHandlers[StateSynSent] = synSentIn
	stateHandlers[StateSynRcvd] = synRcvdIn
	stateHandlers[StateEstablished] = establishedIn
	stateHandlers[StateFinWait1] = finWait1In
	stateHandlers[StateFinWait2] = finWait2In
	stateHandlers[StateClosing] = closingIn
	stateHandlers[StateTimeWait] = timeWaitIn
	stateHandlers[StateCloseWait] = closeWaitIn
	stateHandlers[StateLastAck] = lastAckIn
}

// DispatchWithTimers looks up tcb's current state handler and runs it.
// Called once per inbound segment, after the connection table lookup
// and acceptability test have already run (or been judged not to
// apply), by both Input (nil wheel) and InputWithTimers (a real one,
// needed so TIME_WAIT's 2*MSL deadline gets scheduled).
func DispatchWithTimers(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	h := stateHandlers[tcb.State]
	if h == nil {
		return NewError(SYS, "no handler for state "+tcb.State.String())
	}
	return h(pool, tcb, seg, buf, table, out, timers)
}

// abort marks tcb CLOSED, wakes every waiter with reason, cancels any
// pending TIME_WAIT timer, and removes it from table. Per invariant 5,
// no further segments are emitted for tcb after this, and every
// waiter has been released.
func abort(tcb *TCB, reason error, table *Table, timers *nettimer.Wheel) error {
	if timers != nil && tcb.hasTimer {
		timers.Cancel(tcb.timerID)
		tcb.hasTimer = false
	}
	tcb.Abort(reason)
	table.Remove(tcb)
	return nil
}

// commonChecks implements the preamble shared by every state from
// ESTABLISHED onward: RST aborts with RESET; an unexpected SYN is met
// with RST and aborts the connection; otherwise ACK processing runs.
// It returns (handled, err): handled is true if the caller should stop
// (RST or SYN path already took terminal action).
func commonChecks(pool *mblock.Pool, tcb *TCB, seg *Segment, table *Table, out IPv4Sender, timers *nettimer.Wheel) (bool, error) {
	if seg.Hdr.Flags.Has(FlagRST) {
		inLog.WithField("state", tcb.State).Warn("received rst")
		return true, abort(tcb, NewError(RESET, "peer rst"), table, timers)
	}
	if seg.Hdr.Flags.Has(FlagSYN) {
		inLog.WithField("state", tcb.State).Warn("received syn")
		if err := sendReset(pool, seg, out); err != nil {
			return true, err
		}
		return true, abort(tcb, NewError(RESET, "unexpected syn"), table, timers)
	}
	if err := ackProcess(pool, tcb, seg, out); err != nil {
		return true, err
	}
	return false, nil
}

// closedIn replies RST to any segment addressed to a closed/nonexistent
// connection, unless the segment itself is RST (in which case it is
// simply dropped).
func closedIn(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	return sendReset(pool, seg, out)
}

// listenIn is the minimal passive-open handling spec.md §4.I leaves as
// "mirror SYN_SENT in reverse": a bare SYN spawns a new connection-
// specific TCB in SYN_RCVD and replies SYN|ACK; an ACK has no matching
// connection yet and is answered with RST, and any other segment (RST,
// or one with neither SYN nor ACK) is ignored, so state is only
// instantiated once the three-way handshake begins.
func listenIn(pool *mblock.Pool, listener *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	if seg.Hdr.Flags.Has(FlagRST) {
		return nil
	}
	if seg.Hdr.Flags.Has(FlagACK) {
		return sendReset(pool, seg, out)
	}
	if !seg.Hdr.Flags.Has(FlagSYN) {
		return nil
	}

	child := NewTCB()
	child.LocalAddr = seg.LocalAddr
	child.LocalPort = seg.Hdr.DstPort
	child.RemoteAddr = seg.RemoteAddr
	child.RemotePort = seg.Hdr.SrcPort
	child.State = StateSynRcvd
	child.Rcv.ISS = seg.Seq
	child.Rcv.NXT = seg.Seq.Add(1)
	child.Rcv.WND = defaultWindow
	child.Flags.IRSValid = true
	child.Snd.ISS = initialSendSeq()
	child.Snd.UNA = child.Snd.ISS
	child.Snd.NXT = child.Snd.ISS

	table.Insert(child)
	return sendSyn(pool, child, out)
}

// synSentIn handles the response to a locally-initiated connect: a
// correctly-ACKed SYN|ACK completes the handshake; a bare SYN (peer
// opened simultaneously) moves to SYN_RCVD and retransmits our SYN.
func synSentIn(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	hdr := seg.Hdr

	if hdr.Flags.Has(FlagACK) {
		ack := Seq(hdr.AckNum)
		if ack.BeforeEq(tcb.Snd.ISS) || ack.After(tcb.Snd.NXT) {
			inLog.Warn("SYN_SENT: ack incorrect")
			return sendReset(pool, seg, out)
		}
	}

	if hdr.Flags.Has(FlagRST) {
		if !hdr.Flags.Has(FlagACK) {
			return nil
		}
		inLog.Warn("SYN_SENT: received rst")
		return abort(tcb, NewError(RESET, "connection refused"), table, timers)
	}

	if hdr.Flags.Has(FlagSYN) {
		tcb.Rcv.ISS = seg.Seq
		tcb.Rcv.NXT = seg.Seq.Add(1)
		tcb.Flags.IRSValid = true

		if hdr.Flags.Has(FlagACK) {
			if err := ackProcess(pool, tcb, seg, out); err != nil {
				if e, ok := err.(*Error); !ok || e.Kind != UNREACH {
					return err
				}
			}
		}

		if tcb.Snd.UNA.Diff(tcb.Snd.ISS) > 0 {
			if err := sendAck(pool, tcb, seg, out); err != nil {
				return err
			}
			tcb.State = StateEstablished
			tcb.Wakeup(WaitConn, Result{})
		} else {
			tcb.State = StateSynRcvd
			// The retransmitted SYN reuses iss as its sequence number.
			tcb.Snd.NXT = tcb.Snd.ISS
			if err := sendSyn(pool, tcb, out); err != nil {
				return err
			}
		}
	}

	return nil
}

// synRcvdIn is reached either from LISTEN (passive open, awaiting the
// final ACK of the three-way handshake) or from SYN_SENT (simultaneous
// open). A valid ACK of our SYN completes the handshake.
func synRcvdIn(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	if seg.Hdr.Flags.Has(FlagRST) {
		return abort(tcb, NewError(RESET, "peer rst"), table, timers)
	}
	if seg.Hdr.Flags.Has(FlagSYN) {
		if err := sendReset(pool, seg, out); err != nil {
			return err
		}
		return abort(tcb, NewError(RESET, "unexpected syn"), table, timers)
	}
	if !seg.Hdr.Flags.Has(FlagACK) {
		return nil
	}
	if err := ackProcess(pool, tcb, seg, out); err != nil {
		return err
	}
	if tcb.Snd.UNA.Diff(tcb.Snd.ISS) > 0 {
		tcb.State = StateEstablished
		tcb.Wakeup(WaitConn, Result{})
	}
	return nil
}

// establishedIn is the data-transfer state: both directions are open.
func establishedIn(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	if handled, err := commonChecks(pool, tcb, seg, table, out, timers); handled {
		return err
	}

	if err := dataIn(pool, tcb, seg, buf, out); err != nil {
		return err
	}

	if seg.Hdr.Flags.Has(FlagFIN) {
		tcb.State = StateCloseWait
	}
	return nil
}

// closeWaitIn is reached once the peer's FIN has been accepted: no
// more data will arrive, but we may still have data (and our own FIN)
// to send.
func closeWaitIn(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	if handled, err := commonChecks(pool, tcb, seg, table, out, timers); handled {
		return err
	}
	return transmit(pool, tcb, out)
}

// lastAckIn awaits the ACK of our FIN, sent after CLOSE_WAIT. This
// simplified core treats the first valid ACK as terminal rather than
// distinguishing it from ACKs of retransmitted data.
func lastAckIn(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	if handled, err := commonChecks(pool, tcb, seg, table, out, timers); handled {
		return err
	}
	return abort(tcb, NewError(CLOSE, "connection closed"), table, timers)
}

// finWait1In: we have sent FIN and are awaiting its ACK, but may still
// receive data. If the peer's FIN arrives too, both sides are done and
// we go straight to TIME_WAIT; otherwise a clean ACK of our FIN moves to
// FIN_WAIT_2.
func finWait1In(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	if handled, err := commonChecks(pool, tcb, seg, table, out, timers); handled {
		return err
	}

	// Our FIN went out once the send queue drained; it is acked once
	// snd.una has caught up with snd.nxt. Checked before transmit, which
	// re-sends the FIN and advances snd.nxt past it again.
	finAcked := tcb.PendingSendLen() == 0 && tcb.Snd.UNA.Diff(tcb.Snd.NXT) >= 0

	if err := dataIn(pool, tcb, seg, buf, out); err != nil {
		return err
	}
	if err := transmit(pool, tcb, out); err != nil {
		return err
	}

	if seg.Hdr.Flags.Has(FlagFIN) {
		enterTimeWait(tcb, timers)
	} else if finAcked {
		tcb.State = StateFinWait2
	}
	return nil
}

// finWait2In: our FIN has been acked; we've fully stopped sending but
// may still receive data until the peer's FIN arrives.
func finWait2In(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	if handled, err := commonChecks(pool, tcb, seg, table, out, timers); handled {
		return err
	}

	if err := dataIn(pool, tcb, seg, buf, out); err != nil {
		return err
	}
	if err := transmit(pool, tcb, out); err != nil {
		return err
	}

	if seg.Hdr.Flags.Has(FlagFIN) {
		enterTimeWait(tcb, timers)
	}
	return nil
}

// closingIn: both sides initiated close simultaneously. We've already
// ACKed the peer's FIN; once our own FIN is ACKed we move to TIME_WAIT.
func closingIn(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	if handled, err := commonChecks(pool, tcb, seg, table, out, timers); handled {
		return err
	}
	if tcb.Snd.UNA.Diff(tcb.Snd.NXT) >= 0 {
		enterTimeWait(tcb, timers)
	}
	return nil
}

// timeWaitIn: the connection is fully closed on our side; our only
// remaining job is to re-ACK any retransmission of the peer's FIN until
// the 2*MSL deadline, handled by the timer wheel rather than here.
func timeWaitIn(pool *mblock.Pool, tcb *TCB, seg *Segment, buf *pktbuf.Buf, table *Table, out IPv4Sender, timers *nettimer.Wheel) error {
	if seg.Hdr.Flags.Has(FlagRST) {
		return abort(tcb, NewError(RESET, "peer rst"), table, timers)
	}
	if seg.Hdr.Flags.Has(FlagFIN) {
		return sendAck(pool, tcb, seg, out)
	}
	return nil
}

// enterTimeWait transitions tcb into TIME_WAIT and schedules its 2*MSL
// deletion on the timer wheel. The worker's TimerTick handling calls
// ReapExpired, which finishes the abort once the deadline fires; timers
// never mutate tcb directly themselves (see pkg/nettimer's doc comment).
func enterTimeWait(tcb *TCB, timers *nettimer.Wheel) {
	tcb.State = StateTimeWait
	if timers != nil {
		tcb.timerID = timers.Add(2 * MSL)
		tcb.hasTimer = true
	}
}

// ReapExpired is called by the worker after every TimerTick: it asks
// the wheel which TIME_WAIT deadlines have elapsed, matches them back
// to their TCBs by scanning the table (the table's own conns map is
// unexported and only ever this small, so a scan beats threading an
// id->TCB index through every enterTimeWait/abort call site), and
// aborts those TCBs, completing the 2*MSL teardown the TIME_WAIT state
// itself only schedules.
func ReapExpired(table *Table, timers *nettimer.Wheel, now time.Time) {
	expired := timers.Expired(now)
	if len(expired) == 0 {
		return
	}
	want := make(map[nettimer.ID]bool, len(expired))
	for _, id := range expired {
		want[id] = true
	}
	var due []*TCB
	for _, tcb := range table.conns {
		if tcb.hasTimer && want[tcb.timerID] {
			due = append(due, tcb)
		}
	}
	for _, tcb := range due {
		abort(tcb, NewError(CLOSE, "time_wait expired"), table, timers)
	}
}

const defaultWindow = 4096

// initialSendSeq picks a starting sequence number for a freshly created
// TCB. The spec does not mandate any particular generator (it only
// requires "initial send sequence number" bookkeeping); a random start
// avoids colliding with a prior incarnation of the same 4-tuple, the
// same property RFC-793's clock-driven ISS aims for.
func initialSendSeq() Seq {
	return Seq(randUint32())
}
