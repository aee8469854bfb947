/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/tcp"
)

func TestCollectorReportsPoolAndQueueGauges(t *testing.T) {
	pool := mblock.New(64, 10, false)
	table := tcp.NewTable()
	bus := exmsg.New(5)

	c := New("microtcp", table, pool, bus)

	want := `
# HELP microtcp_pktbuf_pool_available_blocks Free blocks remaining in the packet buffer pool.
# TYPE microtcp_pktbuf_pool_available_blocks gauge
microtcp_pktbuf_pool_available_blocks 10
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want), "microtcp_pktbuf_pool_available_blocks"); err != nil {
		t.Fatalf("unexpected collector output: %v", err)
	}
}

func TestCollectorReportsConnectionsByState(t *testing.T) {
	pool := mblock.New(64, 10, false)
	table := tcp.NewTable()
	bus := exmsg.New(5)

	tcb := tcp.NewTCB()
	tcb.LocalPort = 9000
	tcb.RemotePort = 40000
	tcb.State = tcp.StateEstablished
	table.Insert(tcb)

	c := New("microtcp", table, pool, bus)

	if n := testutil.CollectAndCount(c); n == 0 {
		t.Fatal("Collect() produced no metrics")
	}

	want := `
# HELP microtcp_connections Number of tracked TCP connections by state.
# TYPE microtcp_connections gauge
microtcp_connections{state="ESTABLISHED"} 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want), "microtcp_connections"); err != nil {
		t.Fatalf("unexpected connections output: %v", err)
	}

	descs := make(chan *prometheus.Desc, 16)
	c.Describe(descs)
	close(descs)
	if len(descs) != 7 {
		t.Fatalf("Describe() sent %d descriptors, want 7", len(descs))
	}
}
