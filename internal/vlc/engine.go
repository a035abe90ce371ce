// Package vlc is the media engine behind the player wall. Every playback
// session gets its own VLC player positioned over its grid cell.
// On RPi5 (linux/arm64) it uses CGO with libVLC.
// On other platforms it runs one VLC subprocess per player.
package vlc

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"player-grid/internal/engine"
	"player-grid/internal/grid"
)

// DefaultReleaseTimeout bounds how long Release waits for a player to
// shut down before giving up on it.
const DefaultReleaseTimeout = 5 * time.Second

// Config holds the screen geometry cells are mapped onto.
type Config struct {
	ScreenW        int
	ScreenH        int
	ReleaseTimeout time.Duration
}

// backend is the platform-specific player factory.
//
// IMPORTANT: players must deliver listener callbacks without holding
// their own mutex, so a callback may call back into the player.
type backend interface {
	newPlayer(cell grid.Cell) (releasablePlayer, error)
	release()
}

type releasablePlayer interface {
	engine.Player
	done() <-chan struct{}
}

// Engine tracks every player it created so Release can free stragglers.
type Engine struct {
	mu      sync.Mutex
	backend backend
	players map[releasablePlayer]struct{}
	closed  bool
	logger  *slog.Logger
}

// New creates the engine for this platform.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = DefaultReleaseTimeout
	}
	logger = logger.With("component", "vlc")

	b, err := newBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("engine ready", "screen_w", cfg.ScreenW, "screen_h", cfg.ScreenH)
	return &Engine{
		backend: b,
		players: make(map[releasablePlayer]struct{}),
		logger:  logger,
	}, nil
}

// NewPlayer creates a player positioned over cell.
func (e *Engine) NewPlayer(cell grid.Cell) (engine.Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errEngineClosed
	}

	p, err := e.backend.newPlayer(cell)
	if err != nil {
		return nil, err
	}
	e.players[p] = struct{}{}

	go func() {
		<-p.done()
		e.mu.Lock()
		delete(e.players, p)
		e.mu.Unlock()
	}()
	return p, nil
}

// Release frees every player still alive and then the backend itself.
func (e *Engine) Release() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	remaining := make([]releasablePlayer, 0, len(e.players))
	for p := range e.players {
		remaining = append(remaining, p)
	}
	e.mu.Unlock()

	for _, p := range remaining {
		p.Release()
	}
	e.backend.release()
	e.logger.Info("engine released", "leftover_players", len(remaining))
}

// Live returns how many players have not been released yet.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.players)
}

var errEngineClosed = errors.New("vlc: engine released")

// gain maps a 0-100 volume to VLC's linear audio gain.
func gain(volume int) float64 {
	return float64(engine.ClampVolume(volume)) / 100
}
