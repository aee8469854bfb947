/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// tcpecho demonstrates pkg/socket end to end on a single process: a
// client and a server endpoint, each with their own pool/table/bus/
// timer wheel, joined by an in-process netif.FIFODriver loopback
// (standing in for the real link two daemons would exchange frames
// over), exchanging one request/response pair the way the pack's
// cmd/get demonstrates a single HTTP round trip over sockstats.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/rs/xid"

	microtcp "github.com/go-tcpstack/microtcp"
	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/ipdemux"
	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/netif"
	"github.com/go-tcpstack/microtcp/pkg/nettimer"
	"github.com/go-tcpstack/microtcp/pkg/socket"
	"github.com/go-tcpstack/microtcp/pkg/tcp"
	"github.com/go-tcpstack/microtcp/pkg/worker"
)

const (
	clientPort = 5000
	serverPort = 7000
)

// endpoint bundles everything one side of the loopback link needs: its
// own pool, table, bus, timer wheel, driver and worker goroutine.
type endpoint struct {
	addr   netip.Addr
	bus    *exmsg.Bus
	table  *tcp.Table
	driver *netif.FIFODriver
}

func newEndpoint(ctx context.Context, cfg microtcp.Config, name string, addr netip.Addr) *endpoint {
	pool := mblock.New(cfg.PktbufBlockSize, cfg.PktbufBlockCount, false)
	table := tcp.NewTable()
	bus := exmsg.New(cfg.ExmsgQueueDepth)
	timers := nettimer.New(cfg.TimerScanPeriod, bus)
	driver := netif.NewFIFODriver(name, cfg.NetifInQueueSize)
	demux := ipdemux.New(pool, table, addr, driver.Send, timers)
	w := worker.New(bus, pool, table, demux, timers)

	if err := driver.Open(ctx, bus); err != nil {
		panic(err)
	}
	go timers.Run(ctx)
	go w.Run(ctx)

	return &endpoint{addr: addr, bus: bus, table: table, driver: driver}
}

func relay(ctx context.Context, from, to *endpoint) {
	go func() {
		for {
			select {
			case buf := <-from.driver.Outbound():
				select {
				case to.driver.Inbound() <- buf:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func main() {
	cfg := microtcp.DefaultConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientAddr := netip.MustParseAddr("10.0.0.1")
	serverAddr := netip.MustParseAddr("10.0.0.2")

	client := newEndpoint(ctx, cfg, "client", clientAddr)
	server := newEndpoint(ctx, cfg, "server", serverAddr)
	relay(ctx, client, server)
	relay(ctx, server, client)

	listener := tcp.NewTCB()
	listener.LocalAddr = serverAddr
	listener.LocalPort = serverPort
	listener.State = tcp.StateListen
	server.table.Insert(listener)

	sock, err := socket.Connect(ctx, client.bus, clientAddr, serverAddr, clientPort, serverPort)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}

	msg := []byte("ping")
	if _, err := sock.Write(ctx, msg); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}

	var handle xid.ID
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tcb := server.table.Lookup(serverAddr, serverPort, clientAddr, clientPort); tcb != nil && tcb.State == tcp.StateEstablished {
			handle = tcb.Handle
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if handle == (xid.ID{}) {
		fmt.Fprintln(os.Stderr, "server never spawned a connection for the handshake")
		os.Exit(1)
	}

	srvSock := socket.Attach(server.bus, handle)
	buf := make([]byte, 64)
	n, err := srvSock.Read(ctx, buf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server read:", err)
		os.Exit(1)
	}

	if _, err := srvSock.Write(ctx, buf[:n]); err != nil {
		fmt.Fprintln(os.Stderr, "server write:", err)
		os.Exit(1)
	}

	echoed := make([]byte, 64)
	n, err = sock.Read(ctx, echoed)
	if err != nil {
		fmt.Fprintln(os.Stderr, "client read:", err)
		os.Exit(1)
	}

	fmt.Printf("echoed: %q\n", string(echoed[:n]))

	_ = sock.Close(ctx)
	_ = srvSock.Close(ctx)
}
