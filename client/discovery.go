package client

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service a relay advertises itself under.
const ServiceType = "_carelink-ws._tcp"

// DiscoveredService represents a relay found on the local network
type DiscoveredService struct {
	ServiceName string
	Address     string
	Port        int
	Secure      bool
	TXTRecords  []string
}

// Origin returns the page origin the relay would be served from.
func (s *DiscoveredService) Origin() string {
	scheme := "http"
	if s.Secure {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// DiscoverService returns the first relay answering on mDNS within timeout.
func DiscoverService(timeout time.Duration) (*DiscoveredService, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true

	// Start discovery in background
	go func() {
		defer close(entriesCh)
		if err := mdns.Query(params); err != nil {
			slog.Debug("mDNS query failed", "error", err)
		}
	}()

	select {
	case entry := <-entriesCh:
		if entry == nil {
			return nil, fmt.Errorf("no %s service found", ServiceType)
		}

		var address string
		if entry.AddrV4 != nil {
			address = entry.AddrV4.String()
		} else if entry.AddrV6 != nil {
			address = entry.AddrV6.String()
		} else {
			return nil, fmt.Errorf("no valid address found for service")
		}

		service := &DiscoveredService{
			ServiceName: entry.Name,
			Address:     address,
			Port:        entry.Port,
			Secure:      hasTXT(entry.InfoFields, "secure=true"),
			TXTRecords:  entry.InfoFields,
		}

		slog.Info("Discovered relay",
			"service_name", service.ServiceName,
			"address", service.Address,
			"port", service.Port,
			"secure", service.Secure,
		)
		return service, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("mDNS discovery timeout for %s", ServiceType)
	}
}

func hasTXT(fields []string, want string) bool {
	for _, f := range fields {
		if f == want {
			return true
		}
	}
	return false
}
