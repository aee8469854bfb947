/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package microtcp collects the knobs every component in the pack
// (pkg/mblock, pkg/pktbuf, pkg/exmsg, pkg/netif, pkg/nettimer and the
// cmd/ binaries) is constructed from, in one place, the way the
// teacher's own cmd/ binaries hardcode their handful of knobs (listen
// address, namespace, labels) at the top of main().
package microtcp

import "time"

// Config holds every start-time tunable the protocol core needs.
// Fields map 1:1 onto the enumerated configuration knobs.
type Config struct {
	// PktbufBlockSize is the size in bytes of a single pktbuf block.
	PktbufBlockSize int
	// PktbufBlockCount is the number of blocks in the shared pool.
	PktbufBlockCount int
	// PktbufBufCount is the configured number of buffers; no component
	// reads it, so the number of buffers in use is not bounded by it.
	PktbufBufCount int

	// ExmsgQueueDepth is the bus's queue depth.
	ExmsgQueueDepth int

	// NetifInQueueSize and NetifOutQueueSize are the per-interface
	// inbound/outbound queue depths. Only NetifInQueueSize is read: it
	// sizes both channels of pkg/netif.FIFODriver. LinuxRawSocket has no
	// queue of its own.
	NetifInQueueSize  int
	NetifOutQueueSize int

	// TimerScanPeriod is how often the timer wheel is polled for expired
	// deadlines (the 2*MSL TIME_WAIT reap; there are no retransmission
	// timers).
	TimerScanPeriod time.Duration

	// ARPCacheSize bounds the neighbor-resolution cache. microtcp
	// targets only directly-addressed loopback/point-to-point links in
	// its current scope (see SPEC_FULL.md's ARP non-goal), so this is
	// carried as a configuration knob without a consumer yet: sized for
	// a future pkg/arp rather than left out of Config entirely, since
	// every other teacher-style binary in the pack declares its full
	// knob set up front even when a feature is still unbuilt.
	ARPCacheSize int

	// MetricsNamespace prefixes every series pkg/metrics exports,
	// mirroring the namespace argument every teacher exporter
	// constructor (exporter.NewTCPInfoCollector) takes.
	MetricsNamespace string

	// LogLevel sets pkg/netlog's verbosity, named and typed the way the
	// teacher's logrus-based components expect ("debug", "info",
	// "warn", "error").
	LogLevel string
}

// DefaultConfig returns the knob values the spec enumerates as defaults,
// plus the expansion-added ambient ones set to values sane for a single
// daemon instance.
func DefaultConfig() Config {
	return Config{
		PktbufBlockSize:  128,
		PktbufBlockCount: 100,
		PktbufBufCount:   100,

		ExmsgQueueDepth: 10,

		NetifInQueueSize:  50,
		NetifOutQueueSize: 50,

		TimerScanPeriod: 500 * time.Millisecond,

		ARPCacheSize: 32,

		MetricsNamespace: "microtcp",
		LogLevel:         "info",
	}
}
