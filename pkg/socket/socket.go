/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package socket is the application-facing facade onto the protocol
// worker: Connect/Read/Write/Close package each call as a request posted
// onto the worker's pkg/exmsg bus and block the caller on a completion
// channel until the worker resolves it. This mirrors the blocking-call-
// completed-via-a-result shape of the teacher's sockstats.Conn wrapper
// (OpenedAt/ClosedAt bookkeeping plus a reportStats callback blocking
// implicitly inside Read/Write/Close), generalized from passively
// observing a real net.Conn to actively driving our own TCB through the
// worker, since Socket has no underlying net.Conn to delegate to.
package socket

import (
	"context"
	"net/netip"

	"github.com/rs/xid"

	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/nettimer"
	"github.com/go-tcpstack/microtcp/pkg/tcp"
)

// Request is the interface every posted API call satisfies; the worker
// type-asserts exmsg.Msg.Call to this rather than pkg/socket needing to
// import the worker package (avoiding an import cycle in the other
// direction: pkg/worker already imports pkg/socket for nothing, since
// Request is the only contract it needs).
type Request interface {
	// Apply runs on the worker goroutine with the same pool/table/output/
	// timers every inbound segment is processed with, and must resolve
	// its own completion channel before returning.
	Apply(pool *mblock.Pool, table *tcp.Table, out tcp.IPv4Sender, timers *nettimer.Wheel)
}

type connectRequest struct {
	localAddr, remoteAddr netip.Addr
	localPort, remotePort uint16
	done                  chan tcp.Result
	handle                chan xid.ID
}

func (r *connectRequest) Apply(pool *mblock.Pool, table *tcp.Table, out tcp.IPv4Sender, timers *nettimer.Wheel) {
	tcb := tcp.NewTCB()
	tcb.LocalAddr = r.localAddr
	tcb.LocalPort = r.localPort
	tcb.RemoteAddr = r.remoteAddr
	tcb.RemotePort = r.remotePort
	tcb.State = tcp.StateSynSent
	tcb.Snd.ISS = tcp.RandomISS()
	tcb.Snd.UNA = tcb.Snd.ISS
	tcb.Snd.NXT = tcb.Snd.ISS
	tcb.Rcv.WND = tcp.DefaultWindow
	tcb.Flags.SynOut = true

	table.Insert(tcb)
	wait := tcb.AddWaiter(tcp.WaitConn)

	if err := tcp.SendSyn(pool, tcb, out); err != nil {
		tcp.AbortConn(tcb, err, table, timers)
		r.done <- tcp.Result{Err: err}
		close(r.handle)
		return
	}

	r.handle <- tcb.Handle
	close(r.handle)
	go func() {
		r.done <- <-wait
	}()
}

type readRequest struct {
	handle xid.ID
	buf    []byte
	done   chan tcp.Result
}

func (r *readRequest) Apply(pool *mblock.Pool, table *tcp.Table, out tcp.IPv4Sender, timers *nettimer.Wheel) {
	tcb := table.ByHandle(r.handle)
	if tcb == nil {
		r.done <- tcp.Result{Err: tcp.NewError(tcp.SYS, "unknown handle")}
		return
	}
	n, err := tcb.TakeRecv(r.buf)
	if err != nil {
		r.done <- tcp.Result{Err: err}
		return
	}
	if n > 0 {
		r.done <- tcp.Result{N: n}
		return
	}
	// Nothing queued yet: register with the TCB itself so the worker
	// fills r.buf and resolves r.done the moment data arrives or the
	// connection reaches a terminal state, without any other goroutine
	// ever touching tcb.
	tcb.AddReadWaiter(r.buf, r.done)
}

type writeRequest struct {
	handle xid.ID
	data   []byte
	done   chan tcp.Result
}

func (r *writeRequest) Apply(pool *mblock.Pool, table *tcp.Table, out tcp.IPv4Sender, timers *nettimer.Wheel) {
	tcb := table.ByHandle(r.handle)
	if tcb == nil {
		r.done <- tcp.Result{Err: tcp.NewError(tcp.SYS, "unknown handle")}
		return
	}
	if err := tcb.QueueSend(pool, r.data); err != nil {
		r.done <- tcp.Result{Err: err}
		return
	}
	if err := tcp.Transmit(pool, tcb, out); err != nil {
		r.done <- tcp.Result{Err: err}
		return
	}
	r.done <- tcp.Result{N: len(r.data)}
}

type closeRequest struct {
	handle xid.ID
	done   chan tcp.Result
}

func (r *closeRequest) Apply(pool *mblock.Pool, table *tcp.Table, out tcp.IPv4Sender, timers *nettimer.Wheel) {
	tcb := table.ByHandle(r.handle)
	if tcb == nil {
		r.done <- tcp.Result{}
		return
	}
	if err := tcp.SendFin(pool, tcb, out); err != nil {
		r.done <- tcp.Result{Err: err}
		return
	}
	switch tcb.State {
	case tcp.StateEstablished:
		tcb.State = tcp.StateFinWait1
	case tcp.StateCloseWait:
		tcb.State = tcp.StateLastAck
	}
	r.done <- tcp.Result{}
}

// Socket is the handle an application goroutine holds. It carries no TCB
// state itself (the worker owns that exclusively) beyond the opaque
// handle needed to address it.
type Socket struct {
	bus    *exmsg.Bus
	handle xid.ID
}

// Attach wraps an already-established connection's handle (one obtained
// by some other means than Connect, most notably a server-side TCB a
// LISTEN socket's handshake spawned) in a Socket, so the caller can
// Read/Write/Close it through the same request/response path as an
// actively opened one.
func Attach(bus *exmsg.Bus, handle xid.ID) *Socket {
	return &Socket{bus: bus, handle: handle}
}

// Connect posts a connectRequest and blocks until the worker either
// completes the handshake or the connection fails/ctx is canceled.
func Connect(ctx context.Context, bus *exmsg.Bus, localAddr, remoteAddr netip.Addr, localPort, remotePort uint16) (*Socket, error) {
	req := &connectRequest{
		localAddr: localAddr, remoteAddr: remoteAddr,
		localPort: localPort, remotePort: remotePort,
		done:   make(chan tcp.Result, 1),
		handle: make(chan xid.ID, 1),
	}
	if err := bus.Send(ctx, exmsg.Msg{Tag: exmsg.APICall, Call: req}); err != nil {
		return nil, err
	}

	var handle xid.ID
	select {
	case handle = <-req.handle:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.done:
		if res.Err != nil {
			return nil, res.Err
		}
		return &Socket{bus: bus, handle: handle}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Read blocks until at least one byte has been received or the
// connection has been closed/reset, or ctx is canceled.
func (s *Socket) Read(ctx context.Context, buf []byte) (int, error) {
	req := &readRequest{handle: s.handle, buf: buf, done: make(chan tcp.Result, 1)}
	if err := s.bus.Send(ctx, exmsg.Msg{Tag: exmsg.APICall, Call: req}); err != nil {
		return 0, err
	}
	select {
	case res := <-req.done:
		return res.N, res.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Write queues data for transmission and kicks the worker to send what
// fits immediately; it does not wait for the peer to ACK.
func (s *Socket) Write(ctx context.Context, data []byte) (int, error) {
	req := &writeRequest{handle: s.handle, data: data, done: make(chan tcp.Result, 1)}
	if err := s.bus.Send(ctx, exmsg.Msg{Tag: exmsg.APICall, Call: req}); err != nil {
		return 0, err
	}
	select {
	case res := <-req.done:
		return res.N, res.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close sends FIN and moves the TCB toward its closing states; it does
// not wait for the peer's final ACK (TIME_WAIT cleanup happens
// asynchronously on the worker).
func (s *Socket) Close(ctx context.Context) error {
	req := &closeRequest{handle: s.handle, done: make(chan tcp.Result, 1)}
	if err := s.bus.Send(ctx, exmsg.Msg{Tag: exmsg.APICall, Call: req}); err != nil {
		return err
	}
	select {
	case res := <-req.done:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
