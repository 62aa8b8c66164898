// Package netscan supplies the discovery service's discovery_expose_ip
// address auto-detection: a local non-loopback IPv4 address.
package netscan

import (
	"fmt"
	"net"
)

// DetectExposeIP returns the first IPv4 address, skipping link-local
// ones, found on an up, non-loopback interface. ascii-chat-discovery
// calls it when the discovery_expose_ip setting is true and logs the
// result.
func DetectExposeIP() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("netscan: list interfaces: %w", err)
	}
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
			if ip4 == nil || ip4.IsLinkLocalUnicast() {
				continue
			}
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("netscan: no non-loopback IPv4 interface found")
}
