/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

//go:build linux

package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/netif"
)

func openRawSocketDriver(ctx context.Context, log *logrus.Entry, iface string, pool *mblock.Pool, bus *exmsg.Bus) netif.Interface {
	drv, err := netif.OpenLinuxRawSocket(iface, pool)
	if err != nil {
		log.WithError(err).Fatal("opening raw socket")
	}
	if err := drv.Open(ctx, bus); err != nil {
		log.WithError(err).Fatal("starting raw socket driver")
	}
	return drv
}
