package room

import (
	"fmt"

	"github.com/Suraj08832/collabstudy/models"
)

// EventLog is the append-only, gap-free sequence of a room's events.
// Sequences start at 1. It is owned by a Room and not safe for concurrent use.
type EventLog struct {
	events    []models.SessionEvent
	lastClear int
}

func NewEventLog() *EventLog {
	return &EventLog{lastClear: -1}
}

func (l *EventLog) LastSequence() uint64 {
	return uint64(len(l.events))
}

func (l *EventLog) Len() int {
	return len(l.events)
}

func (l *EventLog) Append(ev models.SessionEvent) error {
	if want := l.LastSequence() + 1; ev.Sequence != want {
		return fmt.Errorf("out of order append: got sequence %d, want %d", ev.Sequence, want)
	}
	l.events = append(l.events, ev)
	if ev.Type == models.EventClearCanvas {
		l.lastClear = len(l.events) - 1
	}
	return nil
}

// Since returns a copy of every event with a sequence greater than seq.
func (l *EventLog) Since(seq uint64) []models.SessionEvent {
	if seq >= l.LastSequence() {
		return []models.SessionEvent{}
	}
	out := make([]models.SessionEvent, len(l.events)-int(seq))
	copy(out, l.events[seq:])
	return out
}

func (l *EventLog) Events() []models.SessionEvent {
	return l.Since(0)
}

// LastClear returns the sequence of the most recent ClearCanvas, or 0.
func (l *EventLog) LastClear() uint64 {
	if l.lastClear < 0 {
		return 0
	}
	return l.events[l.lastClear].Sequence
}
