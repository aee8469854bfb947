/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package ipdemux

import (
	"net/netip"
	"testing"

	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
	"github.com/go-tcpstack/microtcp/pkg/tcp"
)

func newPool(t *testing.T) *mblock.Pool {
	t.Helper()
	return mblock.New(256, 64, false)
}

var (
	local  = netip.MustParseAddr("10.0.0.2")
	remote = netip.MustParseAddr("10.0.0.1")
)

func TestIPv4OutHeaderChecksumVerifies(t *testing.T) {
	pool := newPool(t)
	table := tcp.NewTable()

	var sent *pktbuf.Buf
	d := New(pool, table, local, func(buf *pktbuf.Buf) error { sent = buf; return nil }, nil)

	payload, err := pktbuf.Alloc(pool, 4)
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if err := payload.Seek(0); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if err := payload.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := d.IPv4Out(tcp.ProtocolTCP, remote, local, payload); err != nil {
		t.Fatalf("IPv4Out() error = %v", err)
	}
	if sent == nil {
		t.Fatal("send hook never called")
	}
	defer sent.Free()

	raw, err := sent.ContiguousPrefix(minIPv4HeaderSize)
	if err != nil {
		t.Fatalf("ContiguousPrefix() error = %v", err)
	}
	if got := ipHeaderChecksum(raw); got != 0 {
		t.Errorf("ipHeaderChecksum() over sent header = %#x, want 0", got)
	}
	if raw[9] != tcp.ProtocolTCP {
		t.Errorf("protocol = %d, want %d", raw[9], tcp.ProtocolTCP)
	}
}

func TestIPv4InDropsWrongProtocol(t *testing.T) {
	pool := newPool(t)
	table := tcp.NewTable()
	d := New(pool, table, local, func(buf *pktbuf.Buf) error { return nil }, nil)

	buf, err := pktbuf.Alloc(pool, minIPv4HeaderSize)
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if err := buf.Seek(0); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	hdr := make([]byte, minIPv4HeaderSize)
	hdr[0] = 0x45
	hdr[9] = 17 // UDP, not TCP
	l4 := local.As4()
	r4 := remote.As4()
	copy(hdr[12:16], r4[:])
	copy(hdr[16:20], l4[:])
	if err := buf.Write(hdr); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := d.IPv4In(buf, nil); err != nil {
		t.Fatalf("IPv4In() error = %v, want nil (dropped)", err)
	}
}

func TestIPv4InRejectsShortDatagram(t *testing.T) {
	pool := newPool(t)
	table := tcp.NewTable()
	d := New(pool, table, local, func(buf *pktbuf.Buf) error { return nil }, nil)

	buf, err := pktbuf.Alloc(pool, 8)
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}

	err = d.IPv4In(buf, nil)
	if err == nil {
		t.Fatal("IPv4In() on short buffer: want error, got nil")
	}
	if terr, ok := err.(*tcp.Error); !ok || terr.Kind != tcp.SIZE {
		t.Fatalf("IPv4In() error = %v, want Kind=SIZE", err)
	}
}
