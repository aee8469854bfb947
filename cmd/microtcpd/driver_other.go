/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

//go:build !linux

package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/netif"
)

// openRawSocketDriver has no non-Linux implementation: AF_PACKET is a
// Linux-only socket family. -iface is refused rather than silently
// falling back to the loopback driver, since that would mean "send
// real frames" silently turned into "send nowhere".
func openRawSocketDriver(ctx context.Context, log *logrus.Entry, iface string, pool *mblock.Pool, bus *exmsg.Bus) netif.Interface {
	log.WithField("iface", iface).Fatal("-iface requires a Linux build (AF_PACKET raw sockets are not available on this platform)")
	return nil
}
