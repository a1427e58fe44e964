package netprobe

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
)

func TestReachable(t *testing.T) {
	addr := psnet.InterfaceAddrList{{Addr: "192.168.1.10/24"}}

	tests := []struct {
		name     string
		ifaces   psnet.InterfaceStatList
		expected bool
	}{
		{
			name:     "No interfaces",
			ifaces:   nil,
			expected: false,
		},
		{
			name: "Loopback only",
			ifaces: psnet.InterfaceStatList{
				{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
			},
			expected: false,
		},
		{
			name: "Interface down",
			ifaces: psnet.InterfaceStatList{
				{Name: "eth0", Flags: []string{"broadcast", "multicast"}, Addrs: addr},
			},
			expected: false,
		},
		{
			name: "Interface up without address",
			ifaces: psnet.InterfaceStatList{
				{Name: "eth0", Flags: []string{"up", "broadcast"}},
			},
			expected: false,
		},
		{
			name: "Interface up with address",
			ifaces: psnet.InterfaceStatList{
				{Name: "lo", Flags: []string{"up", "loopback"}},
				{Name: "wlan0", Flags: []string{"up", "broadcast", "multicast"}, Addrs: addr},
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Reachable(tt.ifaces))
		})
	}
}

func TestProbe_ListError(t *testing.T) {
	p := NewWithLister(func(ctx context.Context) (psnet.InterfaceStatList, error) {
		return nil, errors.New("permission denied")
	})
	online, err := p.Probe(context.Background())
	assert.Error(t, err)
	assert.False(t, online)
}
