package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"player-grid/internal/engine"
	"player-grid/internal/grid"

	"github.com/google/uuid"
)

// SessionPrefix marks playback session IDs.
const SessionPrefix = "sess_"

// EndReason says why a session stopped.
type EndReason string

const (
	// Superseded: a newer cycle took over.
	Superseded EndReason = "superseded"
	// Failed: the engine reported an error or refused the URL.
	Failed EndReason = "error"
	// Shutdown: the scheduler itself was cancelled.
	Shutdown EndReason = "shutdown"
)

// Slot is one grid cell that hosts at most one live session.
// The session pointer is only ever written by that session's goroutine.
type Slot struct {
	Cell grid.Cell

	ready   atomic.Bool
	session atomic.Pointer[Session]
}

// NewSlots builds one slot per cell, in cell order. Slots start ready.
func NewSlots(cells []grid.Cell) []*Slot {
	slots := make([]*Slot, len(cells))
	for i, c := range cells {
		slots[i] = &Slot{Cell: c}
		slots[i].ready.Store(true)
	}
	return slots
}

// Ready reports whether the host has a surface for this slot.
func (s *Slot) Ready() bool { return s.ready.Load() }

// SetReady marks the slot's surface as available or gone.
func (s *Slot) SetReady(ready bool) { s.ready.Store(ready) }

// Session returns the live session, or nil.
func (s *Slot) Session() *Session { return s.session.Load() }

// URL returns what the slot is currently playing, or "".
func (s *Slot) URL() string {
	if sess := s.session.Load(); sess != nil {
		return sess.URL
	}
	return ""
}

func (s *Slot) attach(sess *Session) bool {
	return s.session.CompareAndSwap(nil, sess)
}

func (s *Slot) detach(sess *Session) {
	s.session.CompareAndSwap(sess, nil)
}

// Session binds one slot to one URL through one engine player.
type Session struct {
	ID        string
	Slot      int
	URL       string
	StartedAt time.Time

	player      engine.Player
	errs        chan error
	releaseOnce sync.Once
	released    atomic.Bool
}

func newSession(slot *Slot, url string, p engine.Player) *Session {
	return &Session{
		ID:        SessionPrefix + uuid.New().String(),
		Slot:      slot.Cell.Index,
		URL:       url,
		StartedAt: time.Now(),
		player:    p,
		errs:      make(chan error, 1),
	}
}

// fail records an engine error. Only the first one is kept; the session
// is torn down as soon as the owning goroutine sees it.
func (s *Session) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Release frees the engine player. Further calls are no-ops.
func (s *Session) Release() {
	s.releaseOnce.Do(func() {
		s.player.Release()
		s.released.Store(true)
	})
}

// Released reports whether the engine player has been freed.
func (s *Session) Released() bool {
	return s.released.Load()
}
