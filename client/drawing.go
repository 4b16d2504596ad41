package client

import (
	"errors"
	"math"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/protocol"
)

var ErrNotDrawing = errors.New("no stroke in progress")

// SetViewport sets the size of the local drawing area in pixels. Pointer
// positions are normalized against it.
func (a *Agent) SetViewport(width, height float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if width > 0 {
		a.viewWidth = width
	}
	if height > 0 {
		a.viewHeight = height
	}
}

func (a *Agent) SetBrush(color string, width float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.color = color
	a.width = width
}

// Normalize maps a viewport position into room units, clamped to [0, 1].
func (a *Agent) Normalize(x, y float64) models.Point {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.normalizeLocked(x, y)
}

func (a *Agent) normalizeLocked(x, y float64) models.Point {
	return models.Point{X: clampUnit(x / a.viewWidth), Y: clampUnit(y / a.viewHeight)}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func (a *Agent) PointerDown(x, y float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drawing = true
	a.last = a.normalizeLocked(x, y)
	a.hasLast = true
}

// PointerMove emits one segment from the previous pointer position. The first
// move after the board was cleared mid-stroke only anchors a new path.
func (a *Agent) PointerMove(x, y float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.drawing {
		return ErrNotDrawing
	}
	to := a.normalizeLocked(x, y)
	if !a.hasLast {
		a.last = to
		a.hasLast = true
		return nil
	}
	from := a.last
	a.last = to
	return a.emitStrokeLocked(from, to)
}

func (a *Agent) PointerUp() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drawing = false
	a.hasLast = false
}

// PointerLeave ends the stroke like PointerUp.
func (a *Agent) PointerLeave() {
	a.PointerUp()
}

// EmitStroke publishes one segment in room units with the current brush and
// draws it locally before the relay confirms it.
func (a *Agent) EmitStroke(from, to models.Point) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emitStrokeLocked(from, to)
}

func (a *Agent) emitStrokeLocked(from, to models.Point) error {
	ev := models.SessionEvent{
		Type:          models.EventDraw,
		ClientEventId: a.nextEventIdLocked(),
		Segment: &models.StrokeSegment{
			ParticipantId: a.self,
			From:          from,
			To:            to,
			Color:         a.color,
			Width:         a.width,
		},
	}
	if err := protocol.ValidateEvent(ev, a.cfg.Limits); err != nil {
		return err
	}

	msgType, data := protocol.PublishFromEvent(ev)
	if err := a.sendLocked(msgType, data); err != nil {
		return err
	}

	seg := *ev.Segment
	a.pending[ev.ClientEventId] = seg
	a.pendingOrder = append(a.pendingOrder, ev.ClientEventId)
	a.cfg.Surface.DrawSegment(seg)
	return nil
}

// EmitClear asks the room to wipe the board. The local board is wiped when
// the relay sequences it, so everyone clears at the same point.
func (a *Agent) EmitClear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ev := models.SessionEvent{Type: models.EventClearCanvas, ClientEventId: a.nextEventIdLocked()}
	msgType, data := protocol.PublishFromEvent(ev)
	return a.sendLocked(msgType, data)
}

// Strokes is the confirmed board content in sequence order.
func (a *Agent) Strokes() []models.StrokeSegment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.StrokeSegment(nil), a.strokes...)
}

// PendingStrokes is the number of own segments not yet confirmed.
func (a *Agent) PendingStrokes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pendingOrder)
}

func (a *Agent) applyDrawLocked(ev models.SessionEvent) {
	if ev.Segment == nil {
		return
	}
	seg := *ev.Segment
	a.strokes = append(a.strokes, seg)

	if ev.ParticipantId == a.self && ev.ClientEventId != 0 {
		if _, ok := a.pending[ev.ClientEventId]; ok {
			// Already on screen since it was emitted.
			a.dropPendingLocked(ev.ClientEventId)
			return
		}
	}
	a.cfg.Surface.DrawSegment(seg)
}

// applyClearLocked wipes confirmed strokes and ends the path being drawn; the
// next pointer move starts a new one. Own segments still in flight were
// sequenced after the clear and stay on screen.
func (a *Agent) applyClearLocked() {
	a.strokes = nil
	a.hasLast = false
	a.cfg.Surface.Clear()
	for _, id := range a.pendingOrder {
		a.cfg.Surface.DrawSegment(a.pending[id])
	}
}

func (a *Agent) dropPendingLocked(clientEventId uint32) {
	delete(a.pending, clientEventId)
	for i, id := range a.pendingOrder {
		if id == clientEventId {
			a.pendingOrder = append(a.pendingOrder[:i], a.pendingOrder[i+1:]...)
			return
		}
	}
}

// redrawLocked repaints the confirmed board followed by pending segments.
func (a *Agent) redrawLocked() {
	a.cfg.Surface.Clear()
	for _, seg := range a.strokes {
		a.cfg.Surface.DrawSegment(seg)
	}
	for _, id := range a.pendingOrder {
		a.cfg.Surface.DrawSegment(a.pending[id])
	}
}
