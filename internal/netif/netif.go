// Package netif enumerates local IPv4 interfaces that are worth probing for peers.
package netif

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"

	"github.com/italolelis/zher/internal/logctx"
)

// Interface is a local IPv4 interface that qualified for discovery.
type Interface struct {
	Name      string
	IP        netip.Addr
	Broadcast netip.Addr
	Hotspot   bool
}

// Addr is one address bound to a named interface.
type Addr struct {
	Name string
	IP   netip.Addr
}

// AddrSource lists the addresses bound to local interfaces.
type AddrSource func() ([]Addr, error)

// Enumerator turns the host's interface addresses into broadcast targets.
type Enumerator struct {
	source AddrSource
}

// NewEnumerator returns an Enumerator backed by the operating system's interface table.
func NewEnumerator() *Enumerator {
	return &Enumerator{source: SystemAddrs}
}

// NewEnumeratorFrom returns an Enumerator reading addresses from source.
func NewEnumeratorFrom(source AddrSource) *Enumerator {
	return &Enumerator{source: source}
}

// Interfaces returns the qualifying interfaces. Enumeration failures yield no interfaces.
func (e *Enumerator) Interfaces(ctx context.Context) []Interface {
	addrs, err := e.source()
	if err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to enumerate network interfaces", "err", err)

		return nil
	}

	return Qualifying(addrs)
}

// BroadcastTargets returns the deduplicated broadcast addresses of all qualifying interfaces.
func (e *Enumerator) BroadcastTargets(ctx context.Context) []netip.Addr {
	return broadcastTargets(e.Interfaces(ctx))
}

// SystemAddrs lists every IP address assigned to a local interface.
func SystemAddrs() ([]Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var out []Addr

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}

			ip, ok := netip.AddrFromSlice(ipNet.IP)
			if !ok {
				continue
			}

			out = append(out, Addr{Name: iface.Name, IP: ip.Unmap()})
		}
	}

	return out, nil
}

// Qualifying keeps non-loopback IPv4 addresses on wireless or hotspot interfaces.
func Qualifying(addrs []Addr) []Interface {
	var out []Interface

	for _, a := range addrs {
		ip := a.IP.Unmap()
		if !ip.Is4() || ip.IsLoopback() {
			continue
		}

		hotspot := IsHotspot(a.Name)
		if !hotspot && !IsWireless(a.Name) {
			continue
		}

		out = append(out, Interface{
			Name:      a.Name,
			IP:        ip,
			Broadcast: BroadcastOf(ip),
			Hotspot:   hotspot,
		})
	}

	return out
}

// IsHotspot reports whether name looks like an access-point interface.
func IsHotspot(name string) bool {
	n := strings.ToLower(name)

	return strings.Contains(n, "ap") ||
		n == "wlan1" ||
		strings.Contains(n, "softap") ||
		strings.Contains(n, "swlan") ||
		n == "ap0"
}

// IsWireless reports whether name follows a wireless interface naming convention.
func IsWireless(name string) bool {
	n := strings.ToLower(name)

	return strings.HasPrefix(n, "wlan") ||
		strings.HasPrefix(n, "wi-fi") ||
		strings.HasPrefix(n, "wifi") ||
		strings.Contains(n, "wireless")
}

// BroadcastOf treats ip as part of a /24 and returns that subnet's broadcast address.
// The real netmask is not consulted.
func BroadcastOf(ip netip.Addr) netip.Addr {
	b := ip.As4()
	b[3] = 255

	return netip.AddrFrom4(b)
}

func broadcastTargets(ifaces []Interface) []netip.Addr {
	if len(ifaces) == 0 {
		return nil
	}

	out := make([]netip.Addr, 0, len(ifaces))
	for _, iface := range ifaces {
		out = append(out, iface.Broadcast)
	}

	slices.SortFunc(out, func(a, b netip.Addr) int { return a.Compare(b) })

	return slices.Compact(out)
}
