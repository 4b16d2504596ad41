package protocol

import (
	"fmt"
	"math"
	"regexp"

	"github.com/Suraj08832/collabstudy/models"
)

const DefaultMaxStrokeWidth = 20

// Limits bounds the payloads the relay accepts.
type Limits struct {
	MaxStrokeWidth float64
}

func (l Limits) maxWidth() float64 {
	if l.MaxStrokeWidth <= 0 {
		return DefaultMaxStrokeWidth
	}
	return l.MaxStrokeWidth
}

var hexColorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ValidateEvent checks the shape of a client-published event. Join and Leave
// are produced by the relay itself and are never accepted from clients.
func ValidateEvent(ev models.SessionEvent, limits Limits) error {
	switch ev.Type {
	case models.EventDraw:
		return ValidateSegment(ev.Segment, limits)

	case models.EventClearCanvas, models.EventPause:
		return nil

	case models.EventPlay:
		if ev.Track != "" && !IsCanonicalTrack(ev.Track) {
			return fmt.Errorf("%w: track is not a canonical identifier", ErrInvalidEvent)
		}
		if ev.Position != nil && !validPosition(*ev.Position) {
			return fmt.Errorf("%w: invalid position", ErrInvalidEvent)
		}
		return nil

	case models.EventSeek:
		if ev.Position == nil {
			return fmt.Errorf("%w: seek requires a position", ErrInvalidEvent)
		}
		if !validPosition(*ev.Position) {
			return fmt.Errorf("%w: invalid position", ErrInvalidEvent)
		}
		return nil

	case models.EventJoin, models.EventLeave:
		return fmt.Errorf("%w: %s cannot be published", ErrInvalidEvent, ev.Type)

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
}

func ValidateSegment(seg *models.StrokeSegment, limits Limits) error {
	if seg == nil {
		return fmt.Errorf("%w: draw requires a segment", ErrInvalidEvent)
	}
	if !validPoint(seg.From) || !validPoint(seg.To) {
		return fmt.Errorf("%w: coordinates out of normalized range", ErrInvalidEvent)
	}
	if !hexColorRegex.MatchString(seg.Color) {
		return fmt.Errorf("%w: invalid color", ErrInvalidEvent)
	}
	if math.IsNaN(seg.Width) || seg.Width <= 0 || seg.Width > limits.maxWidth() {
		return fmt.Errorf("%w: invalid width", ErrInvalidEvent)
	}
	return nil
}

func validPoint(p models.Point) bool {
	return inUnitRange(p.X) && inUnitRange(p.Y)
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func validPosition(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
