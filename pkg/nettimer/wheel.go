/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package nettimer is the timer wheel: a goroutine that wakes up every
// TIMER_SCAN_PERIOD and checks for expired deadlines, notifying the
// protocol worker via pkg/exmsg rather than firing callbacks itself. The
// worker is the sole mutator of connection state (see SPEC_FULL.md's
// concurrency model), so the wheel only ever hands back opaque IDs for
// the worker to act on — most notably TIME_WAIT's 2*MSL expiry.
//
// There is no equivalent timer module in the retrieval pack's
// original_source tree; this package is grounded on the stack's
// documented concurrency model (single worker, everything else reaches
// it only by posting to exmsg) and on the teacher's own goroutine/channel
// idiom for background work (see pkg/exporter's periodic collection
// loop).
package nettimer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/netlog"
)

var log = netlog.For(netlog.Timer)

// ID identifies a scheduled deadline, returned by Add and used to
// Cancel it before it fires.
type ID uint64

type entry struct {
	id       ID
	deadline time.Time
	index    int
}

// entryHeap is a container/heap min-heap ordered by deadline.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Wheel tracks pending deadlines and periodically wakes the protocol
// worker (by posting exmsg.TimerTick) when at least one has expired. The
// worker then calls Expired to retrieve and clear the expired IDs; the
// wheel never calls back into worker state itself.
type Wheel struct {
	period time.Duration
	bus    *exmsg.Bus

	mu      sync.Mutex
	nextID  ID
	heap    entryHeap
	byID    map[ID]*entry
	stopped bool
}

// New creates a wheel that scans every period and posts ticks onto bus.
func New(period time.Duration, bus *exmsg.Bus) *Wheel {
	if period <= 0 {
		panic("nettimer: period must be positive")
	}
	return &Wheel{
		period: period,
		bus:    bus,
		byID:   make(map[ID]*entry),
	}
}

// Add schedules a deadline at now+d and returns its ID.
func (w *Wheel) Add(d time.Duration) ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	e := &entry{id: id, deadline: time.Now().Add(d)}
	heap.Push(&w.heap, e)
	w.byID[id] = e
	return id
}

// Cancel removes a pending deadline. It is a no-op if id already fired
// or was never scheduled.
func (w *Wheel) Cancel(id ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byID[id]
	if !ok {
		return
	}
	heap.Remove(&w.heap, e.index)
	delete(w.byID, id)
}

// Expired pops and returns every ID whose deadline is at or before now,
// removing them from the wheel. Called by the worker after a TimerTick.
func (w *Wheel) Expired(now time.Time) []ID {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []ID
	for len(w.heap) > 0 && !w.heap[0].deadline.After(now) {
		e := heap.Pop(&w.heap).(*entry)
		delete(w.byID, e.id)
		out = append(out, e.id)
	}
	return out
}

// pending reports whether any deadline is at or before now, without
// removing it.
func (w *Wheel) pending(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.heap) > 0 && !w.heap[0].deadline.After(now)
}

// Run scans every period until ctx is done, posting exmsg.TimerTick
// whenever a deadline has expired. It never blocks the worker: ticks are
// sent with TrySend, since a tick that's dropped because the queue is
// momentarily full just means the next scan will pick up the same
// expired deadline and try again.
func (w *Wheel) Run(ctx context.Context) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("timer wheel stopping")
			return
		case now := <-ticker.C:
			if w.pending(now) {
				if !w.bus.TrySend(exmsg.Msg{Tag: exmsg.TimerTick}) {
					log.Warn("timer tick dropped, exmsg queue full")
				}
			}
		}
	}
}
