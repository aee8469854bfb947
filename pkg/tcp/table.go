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
)

// fourTuple is the connection table's primary key.
type fourTuple struct {
	localAddr  netip.Addr
	localPort  uint16
	remoteAddr netip.Addr
	remotePort uint16
}

// Table is the TCP connection table: lookup by 4-tuple with a wildcard
// fallback onto LISTEN entries keyed by local port alone, exactly as
// spec.md §4.F describes. A linear scan is spec-legal at the table's
// expected fan-in; a Go map gives that same lookup hashed rather than
// scanned, which is the idiomatic trade the original leaves open
// ("implementations may hash").
//
// Every method is called only from the protocol worker goroutine; Table
// itself holds no lock, mirroring the "TCBs are exclusively owned by
// the worker" invariant.
type Table struct {
	conns     map[fourTuple]*TCB
	listeners map[uint16]*TCB
	byHandle  map[xid.ID]*TCB
}

// NewTable creates an empty connection table.
func NewTable() *Table {
	return &Table{
		conns:     make(map[fourTuple]*TCB),
		listeners: make(map[uint16]*TCB),
		byHandle:  make(map[xid.ID]*TCB),
	}
}

// Lookup finds the TCB for an exact 4-tuple match, falling back to a
// LISTEN entry on the local port if no specific connection exists.
func (t *Table) Lookup(localAddr netip.Addr, localPort uint16, remoteAddr netip.Addr, remotePort uint16) *TCB {
	key := fourTuple{localAddr, localPort, remoteAddr, remotePort}
	if tcb, ok := t.conns[key]; ok {
		return tcb
	}
	if tcb, ok := t.listeners[localPort]; ok {
		return tcb
	}
	return nil
}

// ByHandle finds a TCB by its opaque handle, the only way application
// goroutines (via pkg/socket) may address a TCB.
func (t *Table) ByHandle(h xid.ID) *TCB {
	return t.byHandle[h]
}

// Insert adds tcb to the table, keyed by its current state: LISTEN
// entries go in the wildcard-remote bucket, everything else in the
// specific-4-tuple bucket.
func (t *Table) Insert(tcb *TCB) {
	t.byHandle[tcb.Handle] = tcb
	if tcb.State == StateListen {
		t.listeners[tcb.LocalPort] = tcb
		return
	}
	t.conns[t.key(tcb)] = tcb
}

// Remove deletes tcb from whichever bucket it was filed under.
func (t *Table) Remove(tcb *TCB) {
	delete(t.byHandle, tcb.Handle)
	if tcb.State == StateListen {
		delete(t.listeners, tcb.LocalPort)
	} else {
		delete(t.conns, t.key(tcb))
	}
}

// Rekey re-files tcb after its identifying fields (state, remote
// address/port) change: it drops the entry filed under the old state
// and remote address/port, then inserts tcb under its current ones.
// listenIn does not use it; each TCB it spawns is filed with Insert.
func (t *Table) Rekey(tcb *TCB, oldState State, oldRemoteAddr netip.Addr, oldRemotePort uint16) {
	if oldState == StateListen {
		delete(t.listeners, tcb.LocalPort)
	} else {
		delete(t.conns, fourTuple{tcb.LocalAddr, tcb.LocalPort, oldRemoteAddr, oldRemotePort})
	}
	t.Insert(tcb)
}

func (t *Table) key(tcb *TCB) fourTuple {
	return fourTuple{tcb.LocalAddr, tcb.LocalPort, tcb.RemoteAddr, tcb.RemotePort}
}

// Len returns the number of specific connections tracked (excluding
// LISTEN entries), for metrics.
func (t *Table) Len() int { return len(t.conns) }

// ListenerCount returns the number of LISTEN entries, for metrics.
func (t *Table) ListenerCount() int { return len(t.listeners) }

// StateCounts tallies tracked connections (excluding LISTEN entries) by
// State, for pkg/metrics' per-state gauge.
func (t *Table) StateCounts() map[State]int {
	counts := make(map[State]int, stateMax)
	for _, tcb := range t.conns {
		counts[tcb.State]++
	}
	return counts
}
