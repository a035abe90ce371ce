// Package scheduler drives the player wall: it reshuffles the playlist on
// a random timer, picks how many slots play this round, and runs one
// playback session per selected slot until the next round supersedes it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"player-grid/internal/engine"
	"player-grid/internal/grid"
	"player-grid/internal/playlist"

	"golang.org/x/sync/errgroup"
)

// Defaults match the demo wall: reshuffle every 5-44 seconds at
// 5% volume.
const (
	DefaultMinActive = 1
	DefaultMinDelay  = 5 * time.Second
	DefaultMaxDelay  = 44 * time.Second
	DefaultVolume    = 5
)

// ErrInvalidOptions is returned by New for unusable ranges.
var ErrInvalidOptions = errors.New("invalid scheduler options")

// Recorder observes session lifecycles. Implementations must not block.
type Recorder interface {
	SessionStarted(s *Session)
	SessionEnded(s *Session, reason EndReason)
}

// Options configures a Scheduler. Zero values pick the defaults, except
// Volume where zero means muted.
type Options struct {
	// MinActive and MaxActive bound the number of slots playing per
	// cycle, inclusive. MaxActive defaults to, and is clamped at, the
	// number of slots.
	MinActive int
	MaxActive int

	// MinDelay and MaxDelay bound the wait between reshuffles, inclusive.
	// Both are truncated to whole seconds.
	MinDelay time.Duration
	MaxDelay time.Duration

	// Volume in percent, applied to every new player.
	Volume int

	Rand     *rand.Rand
	After    func(time.Duration) <-chan time.Time
	Recorder Recorder
	Logger   *slog.Logger
}

// Stats is a point-in-time view for observability.
type Stats struct {
	Live     int64
	Cycles   uint64
	Snapshot uint64
	URLs     int
}

// Scheduler owns the slot grid and the reshuffle loop.
type Scheduler struct {
	engine engine.Engine
	slots  []*Slot

	minActive int
	maxActive int
	minDelay  int // seconds
	maxDelay  int // seconds
	volume    int
	after     func(time.Duration) <-chan time.Time
	recorder  Recorder
	logger    *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	urlsMu sync.RWMutex
	urls   []string

	mailbox *Mailbox[playlist.Snapshot]
	live    atomic.Int64
	cycles  atomic.Uint64
	seq     atomic.Uint64
}

// New creates a scheduler over the given slots.
func New(eng engine.Engine, slots []*Slot, urls []string, opts Options) (*Scheduler, error) {
	if eng == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrInvalidOptions)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: no slots", ErrInvalidOptions)
	}

	if opts.MinActive == 0 {
		opts.MinActive = DefaultMinActive
	}
	if opts.MaxActive == 0 || opts.MaxActive > len(slots) {
		opts.MaxActive = len(slots)
	}
	if opts.MinActive < 0 || opts.MinActive > opts.MaxActive {
		return nil, fmt.Errorf("%w: active range %d..%d", ErrInvalidOptions, opts.MinActive, opts.MaxActive)
	}

	if opts.MinDelay == 0 && opts.MaxDelay == 0 {
		opts.MinDelay, opts.MaxDelay = DefaultMinDelay, DefaultMaxDelay
	}
	minDelay := int(opts.MinDelay / time.Second)
	maxDelay := int(opts.MaxDelay / time.Second)
	if minDelay < 0 || maxDelay < minDelay {
		return nil, fmt.Errorf("%w: delay range %s..%s", ErrInvalidOptions, opts.MinDelay, opts.MaxDelay)
	}

	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.After == nil {
		opts.After = time.After
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Scheduler{
		engine:    eng,
		slots:     slots,
		minActive: opts.MinActive,
		maxActive: opts.MaxActive,
		minDelay:  minDelay,
		maxDelay:  maxDelay,
		volume:    engine.ClampVolume(opts.Volume),
		after:     opts.After,
		recorder:  opts.Recorder,
		logger:    opts.Logger.With("component", "scheduler"),
		rng:       opts.Rand,
		mailbox:   NewMailbox[playlist.Snapshot](),
	}
	s.SetURLs(urls)
	return s, nil
}

// NewGrid is a convenience wrapper building slots from a layout.
func NewGrid(eng engine.Engine, layout *grid.Layout, urls []string, opts Options) (*Scheduler, error) {
	return New(eng, NewSlots(layout.Cells()), urls, opts)
}

// SetURLs replaces the source list. It takes effect at the next reshuffle.
func (s *Scheduler) SetURLs(urls []string) {
	cp := make([]string, len(urls))
	copy(cp, urls)

	s.urlsMu.Lock()
	s.urls = cp
	s.urlsMu.Unlock()

	s.logger.Info("playlist updated", "urls", len(cp))
}

// URLs returns a copy of the current source list.
func (s *Scheduler) URLs() []string {
	s.urlsMu.RLock()
	defer s.urlsMu.RUnlock()
	cp := make([]string, len(s.urls))
	copy(cp, s.urls)
	return cp
}

// Slots returns the slot grid in enumeration order.
func (s *Scheduler) Slots() []*Slot {
	return s.slots
}

// Live returns the number of sessions currently holding an engine player.
func (s *Scheduler) Live() int64 {
	return s.live.Load()
}

// Stats returns counters for heartbeats and logs.
func (s *Scheduler) Stats() Stats {
	s.urlsMu.RLock()
	n := len(s.urls)
	s.urlsMu.RUnlock()

	return Stats{
		Live:     s.live.Load(),
		Cycles:   s.cycles.Load(),
		Snapshot: s.seq.Load(),
		URLs:     n,
	}
}

// Run drives reshuffle cycles until ctx is cancelled. Before returning it
// waits for every session of the last cycle to release its player.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"slots", len(s.slots),
		"active_min", s.minActive,
		"active_max", s.maxActive,
		"delay_min_sec", s.minDelay,
		"delay_max_sec", s.maxDelay)

	produced := make(chan struct{})
	go func() {
		defer close(produced)
		s.produce(ctx)
	}()

	s.consume(ctx)
	<-produced

	s.logger.Info("scheduler stopped", "live", s.live.Load())
	return ctx.Err()
}

// produce emits a fresh snapshot, then sleeps a random whole number of
// seconds, forever.
func (s *Scheduler) produce(ctx context.Context) {
	for {
		urls := s.URLs()

		s.rngMu.Lock()
		shuffled := playlist.Shuffle(urls, s.rng)
		s.rngMu.Unlock()

		snap := playlist.Snapshot{
			Seq:       s.seq.Add(1),
			URLs:      shuffled,
			CreatedAt: time.Now(),
		}
		if dropped := s.mailbox.Put(snap); dropped {
			s.logger.Debug("unprocessed snapshot replaced", "seq", snap.Seq)
		}

		delay := s.pickDelay()
		s.logger.Debug("next reshuffle scheduled", "seq", snap.Seq, "in", delay)

		select {
		case <-ctx.Done():
			return
		case <-s.after(delay):
		}
	}
}

// consume acts on the newest snapshot only. Each new snapshot cancels the
// cycle in flight and waits for its cleanup before assigning slots again.
func (s *Scheduler) consume(ctx context.Context) {
	var current *cycle
	for {
		select {
		case <-ctx.Done():
			if current != nil {
				current.stop()
			}
			return
		case <-s.mailbox.Ready():
		}

		snap, ok := s.mailbox.Take()
		if !ok || ctx.Err() != nil {
			continue
		}
		if current != nil {
			current.stop()
		}
		current = s.startCycle(ctx, snap)
	}
}

type cycle struct {
	root   context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

func (c *cycle) stop() {
	c.cancel()
	c.group.Wait()
}

func (s *Scheduler) startCycle(root context.Context, snap playlist.Snapshot) *cycle {
	ctx, cancel := context.WithCancel(root)
	g, gctx := errgroup.WithContext(ctx)
	c := &cycle{root: root, cancel: cancel, group: g}

	n := s.pickCount()
	s.cycles.Add(1)

	assigned := 0
	for i, slot := range s.slots[:n] {
		url, ok := snap.At(i)
		if !ok {
			break
		}
		if !slot.Ready() {
			s.logger.Debug("slot not ready, skipping", "slot", slot.Cell.ID())
			continue
		}
		assigned++
		g.Go(func() error {
			s.startSession(gctx, c, slot, url)
			return nil
		})
	}

	s.logger.Info("cycle started",
		"seq", snap.Seq,
		"active", n,
		"assigned", assigned,
		"urls", len(snap.URLs))
	return c
}

// startSession plays url on slot until ctx ends or the engine reports an
// error. The player is released and the slot cleared on every path out.
func (s *Scheduler) startSession(ctx context.Context, c *cycle, slot *Slot, url string) {
	log := s.logger.With("slot", slot.Cell.ID(), "url", url)

	p, err := s.engine.NewPlayer(slot.Cell)
	if err != nil {
		log.Error("create player failed", "error", err)
		return
	}

	sess := newSession(slot, url, p)
	if !slot.attach(sess) {
		// Previous cycle's cleanup always finishes first, so this means
		// two cycles overlapped.
		log.Error("slot still busy, dropping assignment")
		sess.Release()
		return
	}
	log = log.With("session", sess.ID)
	s.changeLive(1)
	s.recorder.SessionStarted(sess)

	reason := Superseded
	defer func() {
		slot.detach(sess)
		s.changeLive(-1)
		sess.Release()
		s.recorder.SessionEnded(sess, reason)
		log.Debug("session ended", "reason", string(reason))
	}()

	p.SetListener(engine.ListenerFuncs{
		StateChanged: func(st engine.State) {
			log.Debug("playback state changed", "state", st.String())
		},
		Error: func(err error) {
			log.Warn("error during playback", "error", err)
			sess.fail(err)
		},
	})

	if err := p.Prepare(url); err != nil {
		log.Warn("prepare failed", "error", err)
		reason = Failed
		return
	}
	if err := p.SetVolume(s.volume); err != nil {
		log.Debug("set volume failed", "error", err)
	}
	if err := p.Play(); err != nil {
		log.Warn("play failed", "error", err)
		reason = Failed
		return
	}

	select {
	case <-ctx.Done():
		if c.root.Err() != nil {
			reason = Shutdown
		}
	case <-sess.errs:
		reason = Failed
	}
}

func (s *Scheduler) changeLive(delta int64) {
	n := s.live.Add(delta)
	s.logger.Info("players changed", "live", n)
}

// pickCount draws the number of active slots for a cycle.
func (s *Scheduler) pickCount() int {
	if s.maxActive == s.minActive {
		return s.minActive
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.minActive + s.rng.Intn(s.maxActive-s.minActive+1)
}

// pickDelay draws the wait before the next reshuffle.
func (s *Scheduler) pickDelay() time.Duration {
	if s.maxDelay == s.minDelay {
		return time.Duration(s.minDelay) * time.Second
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return time.Duration(s.minDelay+s.rng.Intn(s.maxDelay-s.minDelay+1)) * time.Second
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(*Session)          {}
func (nopRecorder) SessionEnded(*Session, EndReason) {}
