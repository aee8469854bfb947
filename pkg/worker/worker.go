/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package worker is the single goroutine that owns every mutable piece
// of connection state: the TCB table and the TCBs in it are touched only
// from inside Worker.Run (the pktbuf pool and the timer wheel, which
// other goroutines also use, carry their own locks). Every other goroutine (netif drivers, application
// callers of pkg/socket, the timer wheel itself) reaches the worker
// exclusively by posting a message onto pkg/exmsg and, where a reply
// matters, blocking on a channel the message carries.
package worker

import (
	"context"
	"time"

	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/ipdemux"
	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/netlog"
	"github.com/go-tcpstack/microtcp/pkg/nettimer"
	"github.com/go-tcpstack/microtcp/pkg/socket"
	"github.com/go-tcpstack/microtcp/pkg/tcp"
)

var log = netlog.For(netlog.Worker)

// Worker ties the protocol core's pieces together behind the exmsg bus.
type Worker struct {
	bus    *exmsg.Bus
	pool   *mblock.Pool
	table  *tcp.Table
	demux  *ipdemux.Demux
	timers *nettimer.Wheel
}

// New wires a Worker. demux must have been constructed with the same
// timers wheel, so that TIME_WAIT entries reached via the inbound path
// (ipdemux.IPv4In -> tcp.InputWithTimers) and the API-driven close path
// (the worker's own tcp.SendFin/state transitions) are reaped the same
// way.
func New(bus *exmsg.Bus, pool *mblock.Pool, table *tcp.Table, demux *ipdemux.Demux, timers *nettimer.Wheel) *Worker {
	return &Worker{bus: bus, pool: pool, table: table, demux: demux, timers: timers}
}

// Run drains the bus until ctx is canceled. Every message is handled to
// completion before the next is read: this serialization is exactly
// what makes "the worker is the sole mutator of connection state" hold
// without any lock inside pkg/tcp.
func (w *Worker) Run(ctx context.Context) {
	for {
		msg, err := w.bus.Recv(ctx)
		if err != nil {
			log.WithError(err).Debug("worker stopping")
			return
		}
		w.handle(msg)
	}
}

func (w *Worker) handle(msg exmsg.Msg) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Fatal("worker invariant violated, exiting")
		}
	}()

	switch msg.Tag {
	case exmsg.RxFrame:
		w.handleRxFrame(msg.Frame)
	case exmsg.APICall:
		w.handleAPICall(msg.Call)
	case exmsg.TimerTick:
		w.handleTimerTick()
	default:
		log.WithField("tag", msg.Tag).Warn("unknown message tag")
	}
}

func (w *Worker) handleRxFrame(frame exmsg.RxFrameMsg) {
	if err := w.demux.IPv4In(frame.Buf, w.demux); err != nil {
		log.WithField("iface", frame.IfaceName).WithError(err).Debug("dropping inbound frame")
	}
}

func (w *Worker) handleAPICall(call any) {
	req, ok := call.(socket.Request)
	if !ok {
		log.WithField("call", call).Error("api call payload is not a socket.Request")
		return
	}
	req.Apply(w.pool, w.table, w.demux, w.timers)
}

func (w *Worker) handleTimerTick() {
	tcp.ReapExpired(w.table, w.timers, time.Now())
}
