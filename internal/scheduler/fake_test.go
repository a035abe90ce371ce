package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"player-grid/internal/engine"
	"player-grid/internal/grid"
)

type fakePlayer struct {
	cell     grid.Cell
	mu       sync.Mutex
	url      string
	playing  bool
	volume   int
	listener engine.Listener
	releases atomic.Int32

	prepareErr error
}

func (p *fakePlayer) SetListener(l engine.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

func (p *fakePlayer) Prepare(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prepareErr != nil {
		return p.prepareErr
	}
	p.url = url
	return nil
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	p.playing = true
	l := p.listener
	p.mu.Unlock()
	if l != nil {
		l.OnStateChanged(engine.Playing)
	}
	return nil
}

func (p *fakePlayer) SetVolume(v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
	return nil
}

func (p *fakePlayer) Release() {
	p.releases.Add(1)
}

func (p *fakePlayer) released() bool {
	return p.releases.Load() > 0
}

// emitError simulates an asynchronous decode failure inside the engine.
func (p *fakePlayer) emitError(err error) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	l.OnError(err)
}

func (p *fakePlayer) state() (playing bool, volume int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing, p.volume
}

func (p *fakePlayer) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// fakeEngine records every player and flags any cell that gets a second
// player while its first one is still unreleased.
type fakeEngine struct {
	mu         sync.Mutex
	players    []*fakePlayer
	violations int
	failCells  map[int]bool
	prepareErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{failCells: make(map[int]bool)}
}

func (e *fakeEngine) NewPlayer(cell grid.Cell) (engine.Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failCells[cell.Index] {
		return nil, errors.New("no surface")
	}
	for _, p := range e.players {
		if p.cell.Index == cell.Index && !p.released() {
			e.violations++
		}
	}
	p := &fakePlayer{cell: cell, prepareErr: e.prepareErr}
	e.players = append(e.players, p)
	return p, nil
}

func (e *fakeEngine) Release() {}

func (e *fakeEngine) all() []*fakePlayer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakePlayer(nil), e.players...)
}

func (e *fakeEngine) playingCount() int {
	n := 0
	for _, p := range e.all() {
		if playing, _ := p.state(); playing {
			n++
		}
	}
	return n
}

func (e *fakeEngine) unreleased() []*fakePlayer {
	var out []*fakePlayer
	for _, p := range e.all() {
		if !p.released() {
			out = append(out, p)
		}
	}
	return out
}

// manualClock hands the producer a channel the test fires by hand.
type manualClock struct {
	ch chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{ch: make(chan time.Time)}
}

func (c *manualClock) After(time.Duration) <-chan time.Time {
	return c.ch
}

// tick releases the producer's current wait.
func (c *manualClock) tick() {
	c.ch <- time.Now()
}

type recordedEnd struct {
	slot   int
	url    string
	reason EndReason
}

type fakeRecorder struct {
	mu      sync.Mutex
	started []string
	ended   []recordedEnd
}

func (r *fakeRecorder) SessionStarted(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, s.ID)
}

func (r *fakeRecorder) SessionEnded(s *Session, reason EndReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, recordedEnd{slot: s.Slot, url: s.URL, reason: reason})
}

func (r *fakeRecorder) endReasons() map[EndReason]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[EndReason]int)
	for _, e := range r.ended {
		out[e.reason]++
	}
	return out
}
