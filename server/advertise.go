package server

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/hashicorp/mdns"
)

// ServiceType must match the type clients browse for.
const ServiceType = "_carelink-ws._tcp"

// Advertiser announces the relay on the local network until Shutdown.
type Advertiser struct {
	server *mdns.Server
}

// Advertise publishes the relay listening on addr over mDNS. secure is
// carried as a TXT record so clients pick wss.
func Advertise(addr string, secure bool) (*Advertiser, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid relay address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		return nil, fmt.Errorf("relay address %q needs a fixed port", addr)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "carelink"
	}

	txt := []string{"path=/ws", "secure=" + strconv.FormatBool(secure)}
	service, err := mdns.NewMDNSService(host, ServiceType, "", "", port, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("failed to build mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}
