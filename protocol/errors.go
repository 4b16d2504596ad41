package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRoomUnavailable = errors.New("room unavailable")
	ErrNotJoined       = errors.New("participant has not joined a room")
	ErrAlreadyJoined   = errors.New("participant already joined a room")
	ErrInvalidEvent    = errors.New("invalid event")
	ErrInvalidLocator  = errors.New("invalid track locator")
	ErrQueueOverflow   = errors.New("outbound queue overflow")
	ErrSuperseded      = errors.New("participant connected from another session")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrRoomUnavailable, "room_unavailable"},
	{ErrNotJoined, "not_joined"},
	{ErrAlreadyJoined, "already_joined"},
	{ErrInvalidEvent, "invalid_event"},
	{ErrInvalidLocator, "invalid_locator"},
	{ErrQueueOverflow, "queue_overflow"},
	{ErrSuperseded, "superseded"},
}

// Code maps an error onto its wire code. Unknown errors map to "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// FromCode rebuilds an error received over the wire so that errors.Is
// matches the same sentinel on the client side.
func FromCode(code string, message string) error {
	for _, c := range codes {
		if c.code == code {
			detail := strings.TrimPrefix(message, c.err.Error())
			detail = strings.TrimPrefix(detail, ": ")
			if detail == "" {
				return c.err
			}
			return fmt.Errorf("%w: %s", c.err, detail)
		}
	}
	return fmt.Errorf("relay error %s: %s", code, message)
}
