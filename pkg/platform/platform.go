/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package platform holds the startup-time host checks and the monotonic
// clock pkg/metrics stamps its start time with. The original C stack's
// "platform" layer is threads, mutexes, counting semaphores and a
// monotonic clock read directly from the kernel; in this port the first
// three are Go goroutines, sync.Mutex and buffered channels respectively
// (see pkg/mblock, pkg/exmsg), leaving this package with the one piece
// that still has no stdlib equivalent worth hand-rolling: a minimum
// kernel version check for the AF_PACKET raw socket pkg/netif opens.
package platform

import (
	"fmt"
	"time"

	"github.com/docker/docker/pkg/parsers/kernel"

	"github.com/go-tcpstack/microtcp/pkg/netlog"
)

var log = netlog.For(netlog.Worker)

// MinKernelVersion, MinKernelMajor and MinKernelMinor name the oldest Linux kernel this stack's AF_PACKET driver is
// validated against.
const (
	MinKernelVersion = 4
	MinKernelMajor   = 14
	MinKernelMinor   = 0
)

// CheckCapabilities probes the running kernel version and logs a warning
// (not a hard failure — the in-memory FIFO driver works on any OS) if
// it's older than MinKernel*. Called once at daemon startup.
func CheckCapabilities() error {
	ok, err := kernel.CheckKernelVersion(MinKernelVersion, MinKernelMajor, MinKernelMinor)
	if err != nil {
		log.WithError(err).Warn("could not determine kernel version")
		return nil
	}
	if !ok {
		v, _ := kernel.GetKernelVersion()
		log.WithField("kernel", versionString(v)).Warn("kernel older than the AF_PACKET driver was validated against")
	}
	return nil
}

// Now returns the monotonic clock reading pkg/metrics measures uptime
// from (pkg/nettimer calls time.Now directly). time.Now() already
// carries a monotonic reading alongside its wall-clock value on every
// platform Go supports, so unlike the C original there is no separate
// clock_gettime(CLOCK_MONOTONIC) call to wrap.
func Now() time.Time {
	return time.Now()
}

// Since is a small convenience used by pkg/metrics for uptime gauges.
func Since(t time.Time) time.Duration {
	return time.Since(t)
}

// versionString renders a VersionInfo the way GetKernelVersion returns it, used
// only for log fields since kernel.VersionInfo has no Stringer of its
// own.
func versionString(v *kernel.VersionInfo) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d.%d.%d", v.Kernel, v.Major, v.Minor)
}
