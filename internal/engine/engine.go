// Package engine defines the contract between the playback scheduler and
// the media engine that actually decodes and renders video.
//
// The engine is a black box: it hands out one Player per playback
// session, reports asynchronous state changes and errors through a
// Listener, and must have every Player it created released exactly once.
package engine

import (
	"player-grid/internal/grid"
)

// State is a coarse playback state reported by a Player.
type State int

const (
	Idle State = iota
	Opening
	Buffering
	Playing
	Paused
	Stopped
	Ended
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Buffering:
		return "buffering"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Ended:
		return "ended"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Listener receives asynchronous notifications from a Player.
// Callbacks may arrive on engine-owned goroutines and must not block.
type Listener interface {
	OnStateChanged(State)
	OnError(error)
}

// Player is one engine-provided playback instance bound to a grid cell.
//
// Release must be safe to call more than once; only the first call frees
// engine resources.
type Player interface {
	SetListener(Listener)
	Prepare(url string) error
	Play() error
	SetVolume(percent int) error
	Release()
}

// Engine creates players for grid cells.
type Engine interface {
	NewPlayer(cell grid.Cell) (Player, error)
	Release()
}

// ListenerFuncs adapts plain functions to the Listener interface.
// Nil fields are ignored.
type ListenerFuncs struct {
	StateChanged func(State)
	Error        func(error)
}

func (l ListenerFuncs) OnStateChanged(s State) {
	if l.StateChanged != nil {
		l.StateChanged(s)
	}
}

func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

// ClampVolume bounds a volume percentage to 0..100.
func ClampVolume(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
