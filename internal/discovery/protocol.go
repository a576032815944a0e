// Package discovery locates peers on the local subnet with a UDP broadcast probe
// and answers probes from other peers.
package discovery

import (
	"fmt"
	"net/netip"
	"strconv"
)

// Protocol holds the wire constants of the presence protocol.
type Protocol struct {
	Product       string
	DiscoveryPort uint16
	ServicePort   uint16
}

// Probe is the payload broadcast to find peers.
func (p Protocol) Probe() []byte {
	return []byte(p.Product + "_DISCOVERY")
}

// ReplyPrefix is the prefix every service announcement starts with.
func (p Protocol) ReplyPrefix() []byte {
	return []byte(p.Product + "_SERVICE:")
}

// Reply is the announcement a peer sends back to a probing socket.
func (p Protocol) Reply() []byte {
	return append(p.ReplyPrefix(), strconv.Itoa(int(p.ServicePort))...)
}

// PeerInfo is one peer found during a discovery round.
type PeerInfo struct {
	IP   netip.Addr `json:"ip"`
	Port uint16     `json:"port"`
	URL  string     `json:"url"`
}

func newPeerInfo(ip netip.Addr, port uint16) PeerInfo {
	return PeerInfo{
		IP:   ip,
		Port: port,
		URL:  fmt.Sprintf("http://%s", netip.AddrPortFrom(ip, port)),
	}
}
