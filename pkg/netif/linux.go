/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

//go:build linux

package netif

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
)

// snapLen bounds a single received frame; anything longer is truncated
// by the kernel before it reaches recvfrom, same as rawcap's SnapLen.
const snapLen = 65536

// htons converts a 16-bit value to network byte order, needed because
// AF_PACKET's Protocol field in SockaddrLinklayer is compared against
// the wire byte order, not the host's.
func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// LinuxRawSocket is an AF_PACKET/SOCK_RAW driver bound to one network
// interface: every Ethernet frame the interface sees arrives here,
// including ones not addressed to us, since spec.md's driver boundary
// delegates demultiplexing to pkg/ipdemux rather than the kernel.
type LinuxRawSocket struct {
	name  string
	pool  *mblock.Pool
	fd    int
	index int
	addr  unix.SockaddrLinklayer

	cancel context.CancelFunc
}

// OpenLinuxRawSocket binds a raw socket to ifaceName. pool supplies the
// blocks backing every received frame's pktbuf.Buf.
func OpenLinuxRawSocket(ifaceName string, pool *mblock.Pool) (*LinuxRawSocket, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("netif: interface %s not found: %w", ifaceName, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("netif: socket: %w", err)
	}

	r := &LinuxRawSocket{
		name:  ifaceName,
		pool:  pool,
		fd:    fd,
		index: iface.Index,
		addr: unix.SockaddrLinklayer{
			Protocol: htons(unix.ETH_P_ALL),
			Ifindex:  iface.Index,
		},
	}

	if err := unix.Bind(fd, &r.addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netif: bind: %w", err)
	}
	return r, nil
}

// Fd exposes the raw descriptor for metrics labeling. netfd.GetFdFromConn
// serves the same purpose for a net.Conn; this socket is not one, so it
// carries its own accessor instead of depending on that helper (see
// DESIGN.md).
func (r *LinuxRawSocket) Fd() int { return r.fd }

func (r *LinuxRawSocket) Name() string { return r.name }

func (r *LinuxRawSocket) Open(ctx context.Context, bus *exmsg.Bus) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	raw := make([]byte, snapLen)
	go runRx(ctx, r.name, bus, func() (*pktbuf.Buf, error) {
		n, _, err := unix.Recvfrom(r.fd, raw, 0)
		if err != nil {
			if err == unix.EINTR {
				return nil, fmt.Errorf("netif: transient recvfrom: %w", err)
			}
			return nil, err
		}
		buf, err := pktbuf.Alloc(r.pool, n)
		if err != nil {
			return nil, err
		}
		if err := buf.Seek(0); err != nil {
			buf.Free()
			return nil, err
		}
		if err := buf.Write(raw[:n]); err != nil {
			buf.Free()
			return nil, err
		}
		return buf, nil
	})
	return nil
}

func (r *LinuxRawSocket) Send(buf *pktbuf.Buf) error {
	defer buf.Free()
	if err := buf.Seek(0); err != nil {
		return err
	}
	frame := make([]byte, buf.Len())
	if err := buf.Read(frame); err != nil {
		return err
	}
	return unix.Sendto(r.fd, frame, 0, &r.addr)
}

func (r *LinuxRawSocket) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	return unix.Close(r.fd)
}
