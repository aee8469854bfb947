/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tcp

import (
	"net/netip"
	"testing"

	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
)

func newPool(t *testing.T) *mblock.Pool {
	t.Helper()
	return mblock.New(256, 64, false)
}

// fakeSender records every segment handed to the IPv4 boundary and frees
// the buffer, mirroring what a real IPv4Out does on the happy path.
type fakeSender struct {
	sent []Header
}

func (f *fakeSender) IPv4Out(protocol uint8, dst, src netip.Addr, buf *pktbuf.Buf) error {
	raw, err := buf.ContiguousPrefix(HeaderSize)
	if err != nil {
		buf.Free()
		return err
	}
	hdr, err := DecodeHeader(raw)
	if err != nil {
		buf.Free()
		return err
	}
	f.sent = append(f.sent, hdr)
	buf.Free()
	return nil
}

func (f *fakeSender) last() Header {
	return f.sent[len(f.sent)-1]
}

var (
	localAddr  = netip.MustParseAddr("10.0.0.2")
	remoteAddr = netip.MustParseAddr("10.0.0.1")
)

// buildSegment encodes a TCP segment with a valid checksum into a fresh
// pktbuf.Buf, the way a decoded-from-the-wire inbound frame would look.
func buildSegment(t *testing.T, pool *mblock.Pool, hdr Header, payload []byte) *pktbuf.Buf {
	t.Helper()
	buf, err := pktbuf.Alloc(pool, HeaderSize+len(payload))
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	raw, err := buf.ContiguousPrefix(HeaderSize)
	if err != nil {
		t.Fatalf("ContiguousPrefix() error = %v", err)
	}
	hdr.Checksum = 0
	EncodeHeader(hdr, raw)
	if len(payload) > 0 {
		if err := buf.Seek(HeaderSize); err != nil {
			t.Fatalf("Seek() error = %v", err)
		}
		if err := buf.Write(payload); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	cs, err := ChecksumPseudoHeader(ProtocolTCP, remoteAddr, localAddr, buf)
	if err != nil {
		t.Fatalf("ChecksumPseudoHeader() error = %v", err)
	}
	raw[16], raw[17] = byte(cs>>8), byte(cs)
	return buf
}

func newSynSentTCB() *TCB {
	tcb := NewTCB()
	tcb.LocalAddr = localAddr
	tcb.LocalPort = 40000
	tcb.RemoteAddr = remoteAddr
	tcb.RemotePort = 80
	tcb.State = StateSynSent
	tcb.Snd.ISS = 1000
	tcb.Snd.UNA = 1000
	tcb.Snd.NXT = 1001
	tcb.Flags.SynOut = true
	tcb.Rcv.WND = defaultWindow
	return tcb
}

// S1 — active open handshake.
func TestScenarioActiveOpenHandshake(t *testing.T) {
	pool := newPool(t)
	table := NewTable()
	sender := &fakeSender{}
	tcb := newSynSentTCB()
	table.Insert(tcb)

	segBuf := buildSegment(t, pool, Header{
		SrcPort: 80, DstPort: 40000,
		SeqNum: 5000, AckNum: 1001,
		DataOffset: HeaderSize / 4,
		Flags:      FlagSYN | FlagACK,
		Window:     4096,
	}, nil)

	if err := Input(segBuf, localAddr, remoteAddr, pool, table, sender); err != nil {
		t.Fatalf("Input() error = %v", err)
	}

	if tcb.State != StateEstablished {
		t.Fatalf("state = %v, want ESTABLISHED", tcb.State)
	}
	got := sender.last()
	if got.Flags != FlagACK || got.SeqNum != 1001 || got.AckNum != 5001 {
		t.Fatalf("emitted %+v, want ACK seq=1001 ack=5001", got)
	}
}

// S2 — simultaneous open.
func TestScenarioSimultaneousOpen(t *testing.T) {
	pool := newPool(t)
	table := NewTable()
	sender := &fakeSender{}
	tcb := newSynSentTCB()
	table.Insert(tcb)

	segBuf := buildSegment(t, pool, Header{
		SrcPort: 80, DstPort: 40000,
		SeqNum:     7000,
		DataOffset: HeaderSize / 4,
		Flags:      FlagSYN,
		Window:     4096,
	}, nil)

	if err := Input(segBuf, localAddr, remoteAddr, pool, table, sender); err != nil {
		t.Fatalf("Input() error = %v", err)
	}

	if tcb.State != StateSynRcvd {
		t.Fatalf("state = %v, want SYN_RCVD", tcb.State)
	}
	got := sender.last()
	if got.Flags != (FlagSYN|FlagACK) || got.SeqNum != 1000 || got.AckNum != 7001 {
		t.Fatalf("emitted %+v, want SYN|ACK seq=1000 ack=7001", got)
	}
}

// S3 — reset on unknown port.
func TestScenarioResetOnUnknownPort(t *testing.T) {
	pool := newPool(t)
	table := NewTable()
	sender := &fakeSender{}

	segBuf := buildSegment(t, pool, Header{
		SrcPort: 9999, DstPort: 12345,
		SeqNum:     9,
		DataOffset: HeaderSize / 4,
		Flags:      FlagSYN,
		Window:     4096,
	}, nil)

	if err := Input(segBuf, localAddr, remoteAddr, pool, table, sender); err != nil {
		t.Fatalf("Input() error = %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d segments, want 1", len(sender.sent))
	}
	got := sender.sent[0]
	if got.Flags != (FlagRST|FlagACK) || got.SeqNum != 0 || got.AckNum != 10 {
		t.Fatalf("emitted %+v, want RST|ACK seq=0 ack=10", got)
	}
	if table.Len() != 0 {
		t.Fatalf("table has %d conns, want 0", table.Len())
	}
}

func newEstablishedTCB() *TCB {
	tcb := NewTCB()
	tcb.LocalAddr = localAddr
	tcb.LocalPort = 40000
	tcb.RemoteAddr = remoteAddr
	tcb.RemotePort = 80
	tcb.State = StateEstablished
	tcb.Snd.ISS = 1000
	tcb.Snd.UNA = 2000
	tcb.Snd.NXT = 2500
	tcb.Rcv.NXT = 500
	tcb.Rcv.WND = defaultWindow
	tcb.Flags.IRSValid = true
	return tcb
}

// S4 — passive close.
func TestScenarioPassiveClose(t *testing.T) {
	pool := newPool(t)
	table := NewTable()
	sender := &fakeSender{}
	tcb := newEstablishedTCB()
	table.Insert(tcb)

	waiter := tcb.AddWaiter(WaitRead)

	segBuf := buildSegment(t, pool, Header{
		SrcPort: 80, DstPort: 40000,
		SeqNum: 500, AckNum: 2500,
		DataOffset: HeaderSize / 4,
		Flags:      FlagFIN | FlagACK,
		Window:     4096,
	}, nil)

	if err := Input(segBuf, localAddr, remoteAddr, pool, table, sender); err != nil {
		t.Fatalf("Input() error = %v", err)
	}

	if tcb.Rcv.NXT != 501 {
		t.Fatalf("rcv.nxt = %d, want 501", tcb.Rcv.NXT)
	}
	if tcb.State != StateCloseWait {
		t.Fatalf("state = %v, want CLOSE_WAIT", tcb.State)
	}
	got := sender.last()
	if got.AckNum != 501 {
		t.Fatalf("emitted ack=%d, want 501", got.AckNum)
	}

	select {
	case res := <-waiter:
		if res.Err == nil {
			t.Fatalf("waiter woken with nil error, want CLOSE")
		}
		tcpErr, ok := res.Err.(*Error)
		if !ok || tcpErr.Kind != CLOSE {
			t.Fatalf("waiter error = %v, want Kind=CLOSE", res.Err)
		}
	default:
		t.Fatalf("reader waiter was not woken")
	}
}

// S5 — duplicate ACK.
func TestScenarioDuplicateACK(t *testing.T) {
	pool := newPool(t)
	table := NewTable()
	sender := &fakeSender{}
	tcb := newEstablishedTCB()
	table.Insert(tcb)

	writer := tcb.AddWaiter(WaitWrite)

	segBuf := buildSegment(t, pool, Header{
		SrcPort: 80, DstPort: 40000,
		SeqNum: 500, AckNum: 1500,
		DataOffset: HeaderSize / 4,
		Flags:      FlagACK,
		Window:     4096,
	}, nil)

	if err := Input(segBuf, localAddr, remoteAddr, pool, table, sender); err != nil {
		t.Fatalf("Input() error = %v", err)
	}

	if tcb.State != StateEstablished {
		t.Fatalf("state changed to %v", tcb.State)
	}
	if tcb.Snd.UNA != 2000 {
		t.Fatalf("snd.una = %d, want unchanged 2000", tcb.Snd.UNA)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent %d segments, want 0", len(sender.sent))
	}
	select {
	case <-writer:
		t.Fatalf("writer woken on duplicate ack")
	default:
	}
}

// S6 — out-of-range ACK.
func TestScenarioOutOfRangeACK(t *testing.T) {
	pool := newPool(t)
	table := NewTable()
	sender := &fakeSender{}
	tcb := newEstablishedTCB()
	table.Insert(tcb)

	segBuf := buildSegment(t, pool, Header{
		SrcPort: 80, DstPort: 40000,
		SeqNum: 500, AckNum: 3000,
		DataOffset: HeaderSize / 4,
		Flags:      FlagACK,
		Window:     4096,
	}, nil)

	err := Input(segBuf, localAddr, remoteAddr, pool, table, sender)
	tcpErr, ok := err.(*Error)
	if !ok || tcpErr.Kind != UNREACH {
		t.Fatalf("Input() error = %v, want Kind=UNREACH", err)
	}

	got := sender.last()
	if got.SeqNum != 2500 || got.AckNum != 500 {
		t.Fatalf("emitted %+v, want ack seq=2500 ack=500", got)
	}
}

// invariant 3: past SYN_SENT, snd.una - snd.iss >= 0 and snd.nxt - snd.una >= 0.
func TestInvariantSendSequenceMonotonic(t *testing.T) {
	pool := newPool(t)
	table := NewTable()
	sender := &fakeSender{}
	tcb := newEstablishedTCB()
	table.Insert(tcb)

	segBuf := buildSegment(t, pool, Header{
		SrcPort: 80, DstPort: 40000,
		SeqNum: 500, AckNum: 2200,
		DataOffset: HeaderSize / 4,
		Flags:      FlagACK,
		Window:     4096,
	}, nil)

	if err := Input(segBuf, localAddr, remoteAddr, pool, table, sender); err != nil {
		t.Fatalf("Input() error = %v", err)
	}

	if tcb.Snd.UNA.Diff(tcb.Snd.ISS) < 0 {
		t.Fatalf("snd.una - snd.iss < 0")
	}
	if tcb.Snd.NXT.Diff(tcb.Snd.UNA) < 0 {
		t.Fatalf("snd.nxt - snd.una < 0")
	}
}

// invariant 4: every accepted in-window segment eventually produces an
// ACK with ack = rcv.nxt at emission time.
func TestInvariantAcceptedSegmentProducesMatchingAck(t *testing.T) {
	pool := newPool(t)
	table := NewTable()
	sender := &fakeSender{}
	tcb := newEstablishedTCB()
	table.Insert(tcb)

	payload := []byte("hello")
	segBuf := buildSegment(t, pool, Header{
		SrcPort: 80, DstPort: 40000,
		SeqNum: 500, AckNum: 2500,
		DataOffset: HeaderSize / 4,
		Flags:      FlagACK | FlagPSH,
		Window:     4096,
	}, payload)

	if err := Input(segBuf, localAddr, remoteAddr, pool, table, sender); err != nil {
		t.Fatalf("Input() error = %v", err)
	}

	got := sender.last()
	if got.AckNum != uint32(tcb.Rcv.NXT) {
		t.Fatalf("emitted ack=%d, want rcv.nxt=%d", got.AckNum, tcb.Rcv.NXT)
	}
	dst := make([]byte, len(payload))
	n, err := tcb.TakeRecv(dst)
	if err != nil {
		t.Fatalf("TakeRecv() error = %v", err)
	}
	if n != len(payload) || string(dst) != string(payload) {
		t.Fatalf("TakeRecv() = %q, want %q", dst[:n], payload)
	}
}

// invariant 5: after abort, no further packets are emitted and every
// wait descriptor has been released with the abort reason.
func TestInvariantAbortReleasesWaitersAndSilencesOutput(t *testing.T) {
	pool := newPool(t)
	table := NewTable()
	sender := &fakeSender{}
	tcb := newEstablishedTCB()
	table.Insert(tcb)

	reader := tcb.AddWaiter(WaitRead)
	writer := tcb.AddWaiter(WaitWrite)

	reason := NewError(RESET, "peer rst")
	if err := abort(tcb, reason, table, nil); err != nil {
		t.Fatalf("abort() error = %v", err)
	}

	if tcb.State != StateClosed {
		t.Fatalf("state = %v, want CLOSED", tcb.State)
	}
	for name, ch := range map[string]chan Result{"reader": reader, "writer": writer} {
		select {
		case res := <-ch:
			if res.Err != reason {
				t.Fatalf("%s woken with %v, want %v", name, res.Err, reason)
			}
		default:
			t.Fatalf("%s was not woken", name)
		}
	}

	if table.ByHandle(tcb.Handle) != nil {
		t.Fatalf("tcb still present in table after abort")
	}

	// Once abort has removed the TCB, a later segment addressed to the
	// same 4-tuple finds nothing in the table and gets a plain RST
	// reply, not a continuation of the aborted connection.
	segBuf := buildSegment(t, pool, Header{
		SrcPort: 80, DstPort: 40000,
		SeqNum: 500, AckNum: 2500,
		DataOffset: HeaderSize / 4,
		Flags:      FlagACK,
		Window:     4096,
	}, nil)
	if err := Input(segBuf, localAddr, remoteAddr, pool, table, sender); err != nil {
		t.Fatalf("Input() error = %v", err)
	}
	got := sender.last()
	if !got.Flags.Has(FlagRST) {
		t.Fatalf("emitted %+v after abort, want RST", got)
	}
}
