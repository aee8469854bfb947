/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// microtcpd wires one pktbuf pool, one connection table, one exmsg bus,
// one timer wheel and one netif driver into a single worker goroutine,
// and serves its pkg/metrics Collector over HTTP — the daemon shape the
// pack's exporter_example1 uses (construct a collector, MustRegister
// it, serve promhttp.Handler), generalized from wrapping one net.Conn
// to running the whole protocol core.
package main

import (
	"context"
	"flag"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	microtcp "github.com/go-tcpstack/microtcp"
	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/ipdemux"
	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/metrics"
	"github.com/go-tcpstack/microtcp/pkg/netif"
	"github.com/go-tcpstack/microtcp/pkg/netlog"
	"github.com/go-tcpstack/microtcp/pkg/nettimer"
	"github.com/go-tcpstack/microtcp/pkg/platform"
	"github.com/go-tcpstack/microtcp/pkg/tcp"
	"github.com/go-tcpstack/microtcp/pkg/worker"
)

func main() {
	var (
		iface       = flag.String("iface", "", "Linux interface to bind a raw socket to (leave empty for an in-process loopback driver)")
		localAddr   = flag.String("local-addr", "127.0.0.1", "local IPv4 address this daemon answers as")
		listenPort  = flag.Uint("listen-port", 7000, "TCP port to place a LISTEN connection on at startup")
		metricsAddr = flag.String("metrics-addr", ":9100", "address to serve /metrics on")
		logLevel    = flag.String("log-level", "", "override the config's default log level")
	)
	flag.Parse()

	cfg := microtcp.DefaultConfig()
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("invalid log level")
	}
	netlog.Base.SetLevel(level)
	log := netlog.For("main")

	addr, err := netip.ParseAddr(*localAddr)
	if err != nil {
		log.WithError(err).Fatal("invalid -local-addr")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := platform.CheckCapabilities(); err != nil {
		log.WithError(err).Fatal("startup capability check failed")
	}

	pool := mblock.New(cfg.PktbufBlockSize, cfg.PktbufBlockCount, true)
	table := tcp.NewTable()
	bus := exmsg.New(cfg.ExmsgQueueDepth)
	timers := nettimer.New(cfg.TimerScanPeriod, bus)

	driver := openDriver(ctx, log, *iface, pool, cfg, bus)
	demux := ipdemux.New(pool, table, addr, driver.Send, timers)
	w := worker.New(bus, pool, table, demux, timers)

	listener := tcp.NewTCB()
	listener.LocalAddr = addr
	listener.LocalPort = uint16(*listenPort)
	listener.State = tcp.StateListen
	table.Insert(listener)

	collector := metrics.New(cfg.MetricsNamespace, table, pool, bus)
	prometheus.MustRegister(collector)

	go timers.Run(ctx)
	go w.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	log.WithField("local_addr", addr).WithField("listen_port", *listenPort).Info("microtcpd running")
	<-ctx.Done()
	log.Info("shutting down")
	_ = server.Close()
	_ = driver.Close()
}

// openDriver picks a netif.Interface: a real AF_PACKET raw socket when
// -iface names one (Linux only, see driver_linux.go/driver_other.go),
// otherwise an in-process FIFODriver that simply loops every frame it
// sends back onto its own inbound queue, so the daemon is still
// runnable (and its metrics endpoint exercisable) on a box with no
// raw-socket privileges.
func openDriver(ctx context.Context, log *logrus.Entry, iface string, pool *mblock.Pool, cfg microtcp.Config, bus *exmsg.Bus) netif.Interface {
	if iface != "" {
		return openRawSocketDriver(ctx, log, iface, pool, bus)
	}

	drv := netif.NewFIFODriver("loop0", cfg.NetifInQueueSize)
	if err := drv.Open(ctx, bus); err != nil {
		log.WithError(err).Fatal("starting loopback driver")
	}
	go func() {
		for {
			select {
			case buf := <-drv.Outbound():
				select {
				case drv.Inbound() <- buf:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return drv
}
