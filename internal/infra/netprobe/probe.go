// Package netprobe derives network reachability from the host's interfaces.
package netprobe

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// Lister returns the host's network interfaces.
type Lister func(ctx context.Context) (psnet.InterfaceStatList, error)

// Probe reports the host online when at least one non-loopback interface
// is up and carries an address.
type Probe struct {
	list Lister
}

// New creates a probe over the host's interfaces.
func New() *Probe {
	return &Probe{list: psnet.InterfacesWithContext}
}

// NewWithLister creates a probe over a custom interface source.
func NewWithLister(list Lister) *Probe {
	return &Probe{list: list}
}

// Probe implements connectivity.Probe.
func (p *Probe) Probe(ctx context.Context) (bool, error) {
	ifaces, err := p.list(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to list network interfaces")
	}
	return Reachable(ifaces), nil
}

// Reachable reports whether any interface can carry traffic off the host.
func Reachable(ifaces psnet.InterfaceStatList) bool {
	return lo.SomeBy(ifaces, func(iface psnet.InterfaceStat) bool {
		return lo.Contains(iface.Flags, "up") &&
			!lo.Contains(iface.Flags, "loopback") &&
			len(iface.Addrs) > 0
	})
}
