/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package netlog assigns a logrus.Entry to each component of the stack,
// mirroring the DBG_MBLOCK/DBG_BUF/DBG_TCP/... categories of the original
// C stack's net_cfg.h: every component logs through its own tagged entry
// instead of a single global logger, so a single Logger's level can be
// tuned without touching the others.
package netlog

import "github.com/sirupsen/logrus"

// Component names, one per net_cfg.h DBG_* category this port carries
// forward.
const (
	MBlock  = "mblock"
	PktBuf  = "pktbuf"
	ExMsg   = "exmsg"
	Timer   = "timer"
	TCP     = "tcp"
	Socket  = "socket"
	NetIf   = "netif"
	IPDemux = "ipdemux"
	Worker  = "worker"
)

// Base is the shared logrus.Logger that every component entry derives
// from. Callers that want a non-default output or level should configure
// Base directly (e.g. Base.SetLevel, Base.SetOutput) before calling For.
var Base = logrus.New()

// For returns a logrus.Entry tagged with the given component name.
func For(component string) *logrus.Entry {
	return Base.WithField("component", component)
}
