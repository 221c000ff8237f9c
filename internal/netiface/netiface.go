// Package netiface enumerates local network interfaces and computes
// broadcast addresses for Art-Net use. No other package of the daemon
// imports it; cmd/lacylightsd resolves the node's addresses itself.
package netiface

import (
	"fmt"
	"net"
)

// Interface describes one usable IPv4 interface for Art-Net broadcast.
type Interface struct {
	Name      string
	Address   string
	Broadcast string
	Loopback  bool
}

// calculateBroadcast computes the broadcast address from IP and netmask.
func calculateBroadcast(ip net.IP, mask net.IPMask) net.IP {
	if ip == nil || mask == nil {
		return nil
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}

	if len(mask) == 16 {
		mask = mask[12:16]
	}
	if len(mask) != 4 {
		return nil
	}

	broadcast := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		broadcast[i] = ip4[i] | ^mask[i]
	}
	return broadcast
}

// List returns every up, non-loopback IPv4 interface with a usable
// broadcast address, plus a trailing loopback entry for local-only testing.
func List() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("netiface: enumerate interfaces: %w", err)
	}

	var out []Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			broadcast := calculateBroadcast(ip4, ipNet.Mask)
			if broadcast == nil || broadcast.String() == ip4.String() {
				continue
			}
			out = append(out, Interface{
				Name:      iface.Name,
				Address:   ip4.String(),
				Broadcast: broadcast.String(),
			})
		}
	}

	out = append(out, Interface{
		Name:      "lo",
		Address:   "127.0.0.1",
		Broadcast: "127.0.0.1",
		Loopback:  true,
	})

	return out, nil
}

// BroadcastFor returns the broadcast address bound to the interface named
// name, or an error if no such up, IPv4-configured interface exists.
func BroadcastFor(name string) (string, error) {
	ifaces, err := List()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Name == name {
			return iface.Broadcast, nil
		}
	}
	return "", fmt.Errorf("netiface: no usable interface named %q", name)
}
