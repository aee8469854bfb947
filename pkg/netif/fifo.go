/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package netif

import (
	"context"
	"errors"

	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
)

// FIFODriver is the in-memory reference driver used by tests and
// cmd/tcpecho: two buffered channels stand in for an interface's RX and
// TX rings, so two FIFODrivers wired Inbound<->Outbound to each other
// form a loopback link with no real socket involved.
type FIFODriver struct {
	name     string
	inbound  chan *pktbuf.Buf
	outbound chan *pktbuf.Buf
	cancel   context.CancelFunc
}

// NewFIFODriver creates a driver named name. inbound is read by the RX
// goroutine and delivered to the worker; outbound receives frames
// Send writes, for a test or a peer FIFODriver to drain.
func NewFIFODriver(name string, depth int) *FIFODriver {
	return &FIFODriver{
		name:     name,
		inbound:  make(chan *pktbuf.Buf, depth),
		outbound: make(chan *pktbuf.Buf, depth),
	}
}

func (f *FIFODriver) Name() string { return f.name }

// Inbound is the channel a test (or a peer FIFODriver's Outbound drain
// loop) pushes received frames onto.
func (f *FIFODriver) Inbound() chan<- *pktbuf.Buf { return f.inbound }

// Outbound is the channel a test reads transmitted frames from.
func (f *FIFODriver) Outbound() <-chan *pktbuf.Buf { return f.outbound }

func (f *FIFODriver) Open(ctx context.Context, bus *exmsg.Bus) error {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	go runRx(ctx, f.name, bus, func() (*pktbuf.Buf, error) {
		select {
		case buf, ok := <-f.inbound:
			if !ok {
				return nil, errors.New("netif: fifo inbound closed")
			}
			return buf, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return nil
}

func (f *FIFODriver) Send(buf *pktbuf.Buf) error {
	select {
	case f.outbound <- buf:
		return nil
	default:
		buf.Free()
		return errors.New("netif: fifo outbound full")
	}
}

func (f *FIFODriver) Close() error {
	if f.cancel != nil {
		f.cancel()
	}
	return nil
}
