/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tcp

import (
	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/nettimer"
)

// DefaultWindow is the fixed advertised receive window this stack
// offers on every connection; per spec.md's Non-goals there is no
// window-scaling or dynamic sizing.
const DefaultWindow = defaultWindow

// RandomISS picks a fresh initial send sequence number, exported for
// pkg/socket's active-open path.
func RandomISS() Seq { return initialSendSeq() }

// SendSyn is the exported entry point pkg/socket uses to start an
// active open.
func SendSyn(pool *mblock.Pool, tcb *TCB, out IPv4Sender) error {
	return sendSyn(pool, tcb, out)
}

// SendFin is the exported entry point pkg/socket uses to begin closing
// a connection.
func SendFin(pool *mblock.Pool, tcb *TCB, out IPv4Sender) error {
	return sendFin(pool, tcb, out)
}

// Transmit is the exported entry point pkg/socket uses to flush queued
// send data immediately after Write.
func Transmit(pool *mblock.Pool, tcb *TCB, out IPv4Sender) error {
	return transmit(pool, tcb, out)
}

// AbortConn is the exported entry point pkg/socket uses to tear down a
// TCB that failed before ever being admitted to the normal input path
// (e.g. a Connect whose initial sendSyn failed).
func AbortConn(tcb *TCB, reason error, table *Table, timers *nettimer.Wheel) error {
	return abort(tcb, reason, table, timers)
}
