package client

import (
	"fmt"
	"time"

	"github.com/Suraj08832/collabstudy/discovery"
	"github.com/Suraj08832/collabstudy/protocol"
)

var ErrNoRelay = fmt.Errorf("%w: no relay found on the local network", protocol.ErrRoomUnavailable)

// Discover lists relays advertising on the local network.
func Discover(timeout time.Duration) ([]discovery.Relay, error) {
	return discovery.Browse(timeout)
}

// DiscoverDialer dials the first relay found on the local network.
func DiscoverDialer(timeout time.Duration, token string) (DialFunc, error) {
	relays, err := Discover(timeout)
	if err != nil {
		return nil, err
	}
	if len(relays) == 0 {
		return nil, ErrNoRelay
	}
	return WebsocketDialer(relays[0].URL(), token), nil
}
