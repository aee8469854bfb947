/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package netif is the driver boundary: the contract between a physical
// or virtual link and the protocol worker's exmsg queue. An Interface
// owns a background goroutine that turns received frames into
// exmsg.RxFrame messages (dropping on backpressure, never blocking the
// link) and exposes Send for the worker's output path to inject
// completed IPv4 datagrams back onto the wire.
package netif

import (
	"context"

	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/netlog"
	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
)

var log = netlog.For(netlog.NetIf)

// Interface is the contract every driver (LinuxRawSocket, FIFODriver,
// or any future one) satisfies. Open starts the RX goroutine that feeds
// bus; Send transmits one frame; Close stops RX and releases the
// underlying descriptor.
type Interface interface {
	Name() string
	Open(ctx context.Context, bus *exmsg.Bus) error
	Send(buf *pktbuf.Buf) error
	Close() error
}

// runRx is the shared receive-loop shape every driver's Open uses: pull
// frames from recv (blocking is fine, it runs on its own goroutine) and
// post them to bus with a non-blocking send, freeing the frame and
// logging the drop when the queue is full. This is the one place spec.md's
// producer-drops-on-full exception (rather than block) applies.
func runRx(ctx context.Context, ifaceName string, bus *exmsg.Bus, recv func() (*pktbuf.Buf, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		buf, err := recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithField("iface", ifaceName).WithError(err).Warn("netif receive error")
			continue
		}

		msg := exmsg.Msg{Tag: exmsg.RxFrame, Frame: exmsg.RxFrameMsg{IfaceName: ifaceName, Buf: buf}}
		if !bus.TrySend(msg) {
			log.WithField("iface", ifaceName).Debug("dropping frame: exmsg queue full")
			buf.Free()
		}
	}
}
