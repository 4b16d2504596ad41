package discovery

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

// ServiceType is the mDNS service relays advertise themselves under.
const ServiceType = "_collabstudy._tcp"

// Relay is one advertised relay found on the local network.
type Relay struct {
	Instance string
	Addr     string
}

// URL is the websocket endpoint of the relay.
func (r Relay) URL() string {
	return "ws://" + r.Addr + "/api/ws"
}

// Advertise announces a relay listening on port. Shut the returned server
// down to withdraw the announcement.
func Advertise(instance string, port int) (*mdns.Server, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}

	info := []string{"collabstudy", "path=/api/ws"}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}

	log.Info().Str("module", "discovery").Str("instance", instance).Int("port", port).Msg("relay advertised")
	return server, nil
}

// Browse collects the relays that answer within timeout.
func Browse(timeout time.Duration) ([]Relay, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var relays []Relay
	done := make(chan struct{})

	go func() {
		defer close(done)
		seen := make(map[string]struct{})
		for e := range entries {
			relay, ok := relayFromEntry(e)
			if !ok {
				continue
			}
			if _, dup := seen[relay.Addr]; dup {
				continue
			}
			seen[relay.Addr] = struct{}{}
			relays = append(relays, relay)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done

	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	return relays, nil
}

func relayFromEntry(e *mdns.ServiceEntry) (Relay, bool) {
	if e == nil || e.Port == 0 {
		return Relay{}, false
	}
	ip := e.AddrV4
	if ip == nil {
		ip = e.AddrV6
	}
	if ip == nil {
		return Relay{}, false
	}
	return Relay{
		Instance: e.Name,
		Addr:     net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)),
	}, true
}
