/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package exmsg is the cross-thread message bus: a bounded FIFO that
// funnels every event the protocol worker cares about (received frames,
// socket API calls, timer ticks) onto one queue with exactly one
// consumer. Producers (the netif driver, application goroutines, the
// timer wheel) block when the queue is full; the worker blocks when it
// is empty. Messages from a single producer preserve enqueue order;
// interleaving across producers is unspecified.
package exmsg

import (
	"context"

	"github.com/go-tcpstack/microtcp/pkg/pktbuf"
)

// Tag identifies the kind of work item carried by a Msg.
type Tag int

const (
	// RxFrame carries a frame the netif driver received, still owning
	// the link-layer header.
	RxFrame Tag = iota
	// APICall carries an opaque request from an application goroutine
	// (connect/send/recv/close); the worker resolves it and signals the
	// caller through whatever completion channel the payload carries.
	APICall
	// TimerTick notifies the worker that the timer wheel wants a scan.
	TimerTick
)

func (t Tag) String() string {
	switch t {
	case RxFrame:
		return "RX_FRAME"
	case APICall:
		return "API_CALL"
	case TimerTick:
		return "TIMER_TICK"
	default:
		return "UNKNOWN"
	}
}

// Msg is one tagged work item. Exactly one of Frame/Call is populated,
// matching Tag; TimerTick messages carry neither.
type Msg struct {
	Tag   Tag
	Frame RxFrameMsg
	Call  any // opaque API request payload, interpreted by pkg/socket and pkg/worker
}

// RxFrameMsg is the payload of an RxFrame message.
type RxFrameMsg struct {
	IfaceName string
	Buf       *pktbuf.Buf
}

// Bus is a bounded, single-consumer FIFO of Msg. It is the Go rendering
// of the original stack's exmsg queue: a mutex-guarded ring plus two
// counting semaphores (one for free slots, one for filled slots), here
// expressed directly as buffered channels rather than hand-rolled
// semaphores.
type Bus struct {
	ch chan Msg
}

// New creates a bus with the given queue depth (EXMSG_MSG_CNT).
func New(depth int) *Bus {
	if depth <= 0 {
		panic("exmsg: depth must be positive")
	}
	return &Bus{ch: make(chan Msg, depth)}
}

// Send enqueues msg, blocking if the queue is full until space is
// available or ctx is done.
func (b *Bus) Send(ctx context.Context, msg Msg) error {
	select {
	case b.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues msg without blocking. It reports false if the queue
// is full; per SPEC_FULL.md this is the driver RX path's drop-on-full
// policy, where the caller frees the frame's buffer itself.
func (b *Bus) TrySend(msg Msg) bool {
	select {
	case b.ch <- msg:
		return true
	default:
		return false
	}
}

// Recv dequeues the next message, blocking if the queue is empty until
// a message arrives or ctx is done. The protocol worker is the only
// caller of Recv.
func (b *Bus) Recv(ctx context.Context) (Msg, error) {
	select {
	case msg := <-b.ch:
		return msg, nil
	case <-ctx.Done():
		return Msg{}, ctx.Err()
	}
}

// Len reports the number of messages currently queued. Intended for
// metrics, not for control flow (the length can change between the call
// and its use).
func (b *Bus) Len() int { return len(b.ch) }

// Cap reports the queue's configured depth.
func (b *Bus) Cap() int { return cap(b.ch) }
