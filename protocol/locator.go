package protocol

import (
	"regexp"
	"strings"
)

var (
	trackIdRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

	// Matches the usual share, embed and watch URL shapes; the second group
	// is the candidate identifier.
	locatorRegex = regexp.MustCompile(`^.*(youtu\.be/|v/|u/\w/|embed/|shorts/|watch\?v=|&v=)([^#&?/]*).*`)
)

// IsCanonicalTrack reports whether id is already a canonical track identifier.
func IsCanonicalTrack(id string) bool {
	return trackIdRegex.MatchString(id)
}

// ParseTrackLocator extracts the canonical track identifier from a pasted
// locator. A bare identifier is accepted as is.
func ParseTrackLocator(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", ErrInvalidLocator
	}
	if IsCanonicalTrack(locator) {
		return locator, nil
	}

	match := locatorRegex.FindStringSubmatch(locator)
	if match == nil || !IsCanonicalTrack(match[2]) {
		return "", ErrInvalidLocator
	}
	return match[2], nil
}
