// ABOUTME: mDNS advertisement so bridge subscribers can find the stream
// ABOUTME: Publishes a _wavebridge._tcp service on all non-loopback interfaces
package bridge

import (
	"fmt"
	"log"
	"net"

	"github.com/hashicorp/mdns"
)

const mdnsServiceType = "_wavebridge._tcp"

// Advertiser publishes the bridge endpoint via mDNS until stopped.
type Advertiser struct {
	server *mdns.Server
}

// Advertise announces the named service on the given port.
func Advertise(name string, port int) (*Advertiser, error) {
	ips, err := localIPs()
	if err != nil {
		return nil, fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		name,
		mdnsServiceType,
		"",
		"",
		port,
		ips,
		[]string{"path=/stream"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", name, port, mdnsServiceType)
	return &Advertiser{server: server}, nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	if a.server != nil {
		a.server.Shutdown()
	}
}

func localIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
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
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
