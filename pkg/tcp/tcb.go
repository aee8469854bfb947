/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tcp

import (
	"net/netip"

	"github.com/rs/xid"

	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/nettimer"
	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
)

// State is a TCP connection's position in the RFC-793 state diagram.
type State int

const (
	StateFree State = iota
	StateClosed
	StateListen
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateClosing
	StateTimeWait
	StateCloseWait
	StateLastAck
	stateMax
)

func (s State) String() string {
	names := [...]string{
		StateFree:        "FREE",
		StateClosed:      "CLOSED",
		StateListen:      "LISTEN",
		StateSynSent:     "SYN_SENT",
		StateSynRcvd:     "SYN_RCVD",
		StateEstablished: "ESTABLISHED",
		StateFinWait1:    "FIN_WAIT_1",
		StateFinWait2:    "FIN_WAIT_2",
		StateClosing:     "CLOSING",
		StateTimeWait:    "TIME_WAIT",
		StateCloseWait:   "CLOSE_WAIT",
		StateLastAck:     "LAST_ACK",
	}
	if int(s) < 0 || int(s) >= len(names) || names[s] == "" {
		return "UNKNOWN"
	}
	return names[s]
}

// SendVars is the TCB's send-side sequence bookkeeping: snd.{iss,una,nxt,wnd}.
type SendVars struct {
	ISS Seq
	UNA Seq
	NXT Seq
	WND uint16
}

// RecvVars is the TCB's receive-side sequence bookkeeping: rcv.{iss,nxt,wnd}.
type RecvVars struct {
	ISS Seq
	NXT Seq
	WND uint16
}

// EventFlags are the TCB's one-shot output-shaping flags.
type EventFlags struct {
	SynOut   bool
	FinOut   bool
	IRSValid bool
}

// WaitKind selects which class of blocked caller a wakeup targets.
type WaitKind int

const (
	WaitRead WaitKind = iota
	WaitWrite
	WaitConn
	WaitAll
)

// Result is delivered to a blocked wait descriptor when the worker
// resolves it: either an error classified by Kind, or a byte count on
// success.
type Result struct {
	Err error
	N   int
}

// waiter is one blocked application-goroutine call. Kind selects which
// wakeups it cares about; Done is the completion channel the caller is
// blocked receiving from (buffered by one so the worker never blocks
// delivering a result).
type waiter struct {
	kind WaitKind
	done chan Result
}

// readWaiter is a pending Read() call with nothing yet to return. Unlike
// the generic waiter list, satisfying one requires touching recvQueue,
// so these are resolved directly by the worker (via satisfyReads, called
// right after QueueRecv) rather than leaving the calling goroutine to
// pull bytes out of the TCB itself — that would violate "TCBs are
// mutated only by the worker".
type readWaiter struct {
	buf  []byte
	done chan Result
}

// TCB is a TCP control block: all per-connection state. It is created,
// mutated and destroyed exclusively by the protocol worker goroutine;
// every other goroutine reaches it only through its Handle, by posting
// a request on pkg/exmsg and blocking on a waiter's Done channel.
type TCB struct {
	Handle xid.ID

	LocalAddr  netip.Addr
	LocalPort  uint16
	RemoteAddr netip.Addr
	RemotePort uint16

	State State
	Snd   SendVars
	Rcv   RecvVars
	Flags EventFlags

	// sendQueue holds bytes written by the application but not yet
	// handed to the IP layer. transmit drains it MSS bytes at a time;
	// FIN is only set on the wire once it is empty (see output.go).
	sendQueue *pktbuf.Buf

	// recvQueue holds bytes accepted from the peer but not yet
	// consumed by an application Read.
	recvQueue *pktbuf.Buf

	waiters     []waiter
	readWaiters []readWaiter

	// timerID is the TIME_WAIT 2*MSL deadline, valid only while
	// State == StateTimeWait.
	timerID   nettimer.ID
	hasTimer  bool
	abortErr  error
	closeable bool // set once Abort has run
}

// NewTCB allocates a fresh TCB in CLOSED state with a random handle.
func NewTCB() *TCB {
	return &TCB{
		Handle: xid.New(),
		State:  StateClosed,
	}
}

// PendingSendLen reports how many bytes are queued to send but not yet
// transmitted.
func (t *TCB) PendingSendLen() int {
	if t.sendQueue == nil {
		return 0
	}
	return t.sendQueue.Len()
}

// QueueSend appends data to the TCB's send queue, growing it with
// pool-backed blocks. Used by pkg/socket's Write.
func (t *TCB) QueueSend(pool *mblock.Pool, data []byte) error {
	add, err := pktbuf.Alloc(pool, len(data))
	if err != nil {
		return err
	}
	if err := add.Seek(0); err != nil {
		add.Free()
		return err
	}
	if err := add.Write(data); err != nil {
		add.Free()
		return err
	}
	if t.sendQueue == nil {
		t.sendQueue = add
		return nil
	}
	return t.sendQueue.Join(add)
}

// TakeSend removes and returns up to n bytes from the front of the send
// queue, along with how many bytes remain queued afterward.
func (t *TCB) TakeSend(n int) ([]byte, int, error) {
	if t.sendQueue == nil {
		return nil, 0, nil
	}
	if n > t.sendQueue.Len() {
		n = t.sendQueue.Len()
	}
	out := make([]byte, n)
	if err := t.sendQueue.Seek(0); err != nil {
		return nil, 0, err
	}
	if err := t.sendQueue.Read(out); err != nil {
		return nil, 0, err
	}
	if err := t.sendQueue.RemoveHeader(n); err != nil {
		return nil, 0, err
	}
	remaining := t.sendQueue.Len()
	if remaining == 0 {
		t.sendQueue.Free()
		t.sendQueue = nil
	}
	return out, remaining, nil
}

// QueueRecv appends newly-received application data (ownership of buf
// transfers in). Used by the ESTABLISHED/FIN_WAIT data-in path. Any
// Read calls already blocked waiting for data are satisfied immediately
// afterward, still on the worker goroutine.
func (t *TCB) QueueRecv(buf *pktbuf.Buf) error {
	if buf.Len() == 0 {
		buf.Free()
		return nil
	}
	var err error
	if t.recvQueue == nil {
		t.recvQueue = buf
	} else {
		err = t.recvQueue.Join(buf)
	}
	t.satisfyReads()
	return err
}

// AddReadWaiter registers a blocked Read() call that found nothing
// queued yet. Must only be called from the worker goroutine (same
// requirement as AddWaiter).
func (t *TCB) AddReadWaiter(buf []byte, done chan Result) {
	t.readWaiters = append(t.readWaiters, readWaiter{buf: buf, done: done})
}

// satisfyReads drains recvQueue into pending read waiters, oldest first,
// until either is exhausted.
func (t *TCB) satisfyReads() {
	for len(t.readWaiters) > 0 && t.recvQueue != nil && t.recvQueue.Len() > 0 {
		rw := t.readWaiters[0]
		t.readWaiters = t.readWaiters[1:]
		n, err := t.TakeRecv(rw.buf)
		rw.done <- Result{N: n, Err: err}
	}
}

// TakeRecv removes and returns up to len(dst) bytes from the front of
// the receive queue, reporting how many bytes were copied.
func (t *TCB) TakeRecv(dst []byte) (int, error) {
	if t.recvQueue == nil {
		return 0, nil
	}
	n := len(dst)
	if n > t.recvQueue.Len() {
		n = t.recvQueue.Len()
	}
	if err := t.recvQueue.Seek(0); err != nil {
		return 0, err
	}
	if err := t.recvQueue.Read(dst[:n]); err != nil {
		return 0, err
	}
	if err := t.recvQueue.RemoveHeader(n); err != nil {
		return 0, err
	}
	if t.recvQueue.Len() == 0 {
		t.recvQueue.Free()
		t.recvQueue = nil
	}
	return n, nil
}

// AddWaiter registers a blocked caller. Returns the channel the caller
// should receive from.
func (t *TCB) AddWaiter(kind WaitKind) chan Result {
	ch := make(chan Result, 1)
	t.waiters = append(t.waiters, waiter{kind: kind, done: ch})
	return ch
}

// Wakeup resolves every waiter matching kind (or all waiters if kind is
// WaitAll) with the given result, and removes them from the TCB. A
// WaitAll wakeup (abort, or the peer's FIN) is terminal, so it also
// flushes any still-pending read waiters with the same result — no more
// data is ever coming for them to wait on.
func (t *TCB) Wakeup(kind WaitKind, result Result) {
	remaining := t.waiters[:0]
	for _, w := range t.waiters {
		if kind == WaitAll || w.kind == kind {
			w.done <- result
		} else {
			remaining = append(remaining, w)
		}
	}
	t.waiters = remaining

	if kind == WaitAll {
		for _, rw := range t.readWaiters {
			rw.done <- result
		}
		t.readWaiters = nil
	}
}

// Abort marks the TCB CLOSED, wakes every waiter with reason, and frees
// any queued buffers. Per invariant 5, after Abort no further segments
// are emitted for this TCB and every wait descriptor has been released.
func (t *TCB) Abort(reason error) {
	t.State = StateClosed
	t.Wakeup(WaitAll, Result{Err: reason})
	if t.sendQueue != nil {
		t.sendQueue.Free()
		t.sendQueue = nil
	}
	if t.recvQueue != nil {
		t.recvQueue.Free()
		t.recvQueue = nil
	}
	t.abortErr = reason
	t.closeable = true
}
