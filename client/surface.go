package client

import (
	"sync"
	"time"

	"github.com/Suraj08832/collabstudy/models"
)

// Surface is the local whiteboard. The agent calls it from one goroutine at a
// time.
type Surface interface {
	DrawSegment(seg models.StrokeSegment)
	Clear()
}

// Player is the embedded media surface. The agent only commands it.
type Player interface {
	Load(track string)
	Play()
	Pause()
	Seek(position float64)
	Track() string
	Playing() bool
	// Position is the current position in seconds.
	Position() float64
}

// Canvas is a Surface that keeps what was drawn, for headless clients and
// exports.
type Canvas struct {
	mu       sync.Mutex
	segments []models.StrokeSegment
	clears   int
}

func (c *Canvas) DrawSegment(seg models.StrokeSegment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segments = append(c.segments, seg)
}

func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segments = nil
	c.clears++
}

func (c *Canvas) Segments() []models.StrokeSegment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.StrokeSegment(nil), c.segments...)
}

func (c *Canvas) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

// MemoryPlayer is a Player driven by a clock instead of a media element.
type MemoryPlayer struct {
	now func() time.Time

	mu       sync.Mutex
	track    string
	playing  bool
	position float64
	anchor   time.Time
	seeks    int
}

func NewMemoryPlayer(now func() time.Time) *MemoryPlayer {
	if now == nil {
		now = time.Now
	}
	return &MemoryPlayer{now: now}
}

func (p *MemoryPlayer) Load(track string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.track = track
	p.playing = false
	p.position = 0
	p.anchor = p.now()
}

func (p *MemoryPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return
	}
	p.position = p.positionLocked()
	p.anchor = p.now()
	p.playing = true
}

func (p *MemoryPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = p.positionLocked()
	p.anchor = p.now()
	p.playing = false
}

func (p *MemoryPlayer) Seek(position float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = position
	p.anchor = p.now()
	p.seeks++
}

func (p *MemoryPlayer) Track() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

func (p *MemoryPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *MemoryPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

// Seeks counts explicit seeks, including those issued by reconciliation.
func (p *MemoryPlayer) Seeks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeks
}

func (p *MemoryPlayer) positionLocked() float64 {
	if !p.playing {
		return p.position
	}
	return p.position + p.now().Sub(p.anchor).Seconds()
}
