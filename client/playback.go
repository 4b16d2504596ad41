package client

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/protocol"
)

// PlaybackCommand is a local request to change the room's shared playback.
type PlaybackCommand interface {
	event() (models.SessionEvent, error)
}

// PlayCommand starts playback. Locator loads a new track when set, in any
// accepted locator form; Position defaults to the start of a new track or
// the current position when resuming.
type PlayCommand struct {
	Locator  string
	Position *float64
}

type PauseCommand struct{}

type SeekCommand struct {
	Position float64
}

func (c PlayCommand) event() (models.SessionEvent, error) {
	ev := models.SessionEvent{Type: models.EventPlay, Position: c.Position}
	if c.Locator != "" {
		track, err := protocol.ParseTrackLocator(c.Locator)
		if err != nil {
			return models.SessionEvent{}, err
		}
		ev.Track = track
	}
	return ev, nil
}

func (PauseCommand) event() (models.SessionEvent, error) {
	return models.SessionEvent{Type: models.EventPause}, nil
}

func (c SeekCommand) event() (models.SessionEvent, error) {
	return models.SessionEvent{Type: models.EventSeek, Position: models.Float64(c.Position)}, nil
}

// EmitPlaybackCommand publishes cmd and applies it to the local player right
// away. The relay's sequenced result corrects the player if another command
// won.
func (a *Agent) EmitPlaybackCommand(cmd PlaybackCommand) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil playback command", protocol.ErrInvalidEvent)
	}
	ev, err := cmd.event()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ev.ClientEventId = a.nextEventIdLocked()
	if err := protocol.ValidateEvent(ev, a.cfg.Limits); err != nil {
		return err
	}
	msgType, data := protocol.PublishFromEvent(ev)
	if err := a.sendLocked(msgType, data); err != nil {
		return err
	}

	a.pendingPlayback[ev.ClientEventId] = struct{}{}
	a.applyLocalPlaybackLocked(ev)
	return nil
}

func (a *Agent) applyLocalPlaybackLocked(ev models.SessionEvent) {
	player := a.cfg.Player
	if player == nil {
		return
	}
	switch ev.Type {
	case models.EventPlay:
		if ev.Track != "" && ev.Track != player.Track() {
			player.Load(ev.Track)
			if ev.Position == nil {
				player.Seek(0)
			}
		}
		if ev.Position != nil {
			player.Seek(*ev.Position)
		}
		player.Play()
	case models.EventPause:
		player.Pause()
	case models.EventSeek:
		if ev.Position != nil {
			player.Seek(*ev.Position)
		}
	}
}

// Playback is the room's last sequenced playback state.
func (a *Agent) Playback() models.PlaybackState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playback
}

// ExpectedPosition projects the room's playback position to now using the
// server clock offset learned at join.
func (a *Agent) ExpectedPosition() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expectedPositionLocked()
}

func (a *Agent) expectedPositionLocked() float64 {
	return a.playback.PositionAt(a.serverNowLocked())
}

func (a *Agent) serverNowLocked() int64 {
	return a.cfg.Now().Add(a.clockOffset).UnixMilli()
}

// Reconcile brings the local player in line with the room: same track, same
// play state, and a position within the drift tolerance. It does nothing
// while one of our own commands awaits its sequenced echo.
func (a *Agent) Reconcile() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reconcileLocked()
}

func (a *Agent) reconcileLocked() {
	player := a.cfg.Player
	if player == nil || !a.hasPlayback || a.playback.Track == "" {
		return
	}
	if len(a.pendingPlayback) > 0 {
		return
	}

	expected := a.expectedPositionLocked()
	if player.Track() != a.playback.Track {
		player.Load(a.playback.Track)
		player.Seek(expected)
	}

	if a.playback.Playing && !player.Playing() {
		player.Play()
	} else if !a.playback.Playing && player.Playing() {
		player.Pause()
	}

	drift := math.Abs(player.Position() - expected)
	if drift > a.cfg.Tolerance.Seconds() {
		log.Debug().Str("module", "client").Float64("drift", drift).Float64("expected", expected).Msg("correcting playback drift")
		player.Seek(expected)
	}
}

// ClockOffset is the estimated server clock minus the local clock.
func (a *Agent) ClockOffset() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clockOffset
}
