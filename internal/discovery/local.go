package discovery

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
)

// ValidateServiceURL reports whether raw is a URL naming the service port explicitly.
func ValidateServiceURL(raw string, servicePort uint16) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}

	return u.Port() == strconv.Itoa(int(servicePort))
}

// LocalIP returns the IPv4 address of the interface holding the default route.
// No packet is sent; connecting a UDP socket only selects a source address.
func LocalIP() (netip.Addr, error) {
	conn, err := net.Dial("udp4", "192.0.2.1:9")
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to get local IP: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("failed to get local IP: unexpected address %s", conn.LocalAddr())
	}

	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok || ip.Unmap().IsUnspecified() {
		return netip.Addr{}, fmt.Errorf("failed to get local IP: no route")
	}

	return ip.Unmap(), nil
}
