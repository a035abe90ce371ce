//go:build linux && arm64 && cgo

// Production backend: CGO bindings to libVLC on the Raspberry Pi 5.
// One libvlc.Player per session, all sharing a single libVLC instance.
package vlc

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"player-grid/internal/engine"
	"player-grid/internal/grid"
	"player-grid/internal/media"

	libvlc "github.com/adrg/libvlc-go/v3"
)

var vlcInitOnce sync.Once
var vlcInitErr error

type prodBackend struct {
	cfg    Config
	logger *slog.Logger
}

func newBackend(cfg Config, logger *slog.Logger) (backend, error) {
	vlcInitOnce.Do(func() {
		vlcInitErr = libvlc.Init(
			"--no-osd",
			"--no-dbus",
			"--no-video-title-show",
			"--no-spu",
			"--aout=alsa",

			"--network-caching=3000",
			"--file-caching=3000",
			"--avcodec-skiploopfilter=0",
			"--deinterlace=0",

			"--image-duration="+strconv.Itoa(media.DefaultImageDuration),
			"--quiet",
		)
	})
	if vlcInitErr != nil {
		return nil, fmt.Errorf("libvlc init failed: %w", vlcInitErr)
	}

	logger.Info("using libVLC backend")
	return &prodBackend{cfg: cfg, logger: logger}, nil
}

func (b *prodBackend) newPlayer(cell grid.Cell) (releasablePlayer, error) {
	player, err := libvlc.NewPlayer()
	if err != nil {
		return nil, fmt.Errorf("player creation failed: %w", err)
	}

	p := &libvlcPlayer{
		player: player,
		cell:   cell,
		cfg:    b.cfg,
		freed:  make(chan struct{}),
		logger: b.logger.With("slot", cell.ID()),
	}
	if err := p.attachEvents(); err != nil {
		player.Release()
		return nil, err
	}
	return p, nil
}

func (b *prodBackend) release() {
	if err := libvlc.Release(); err != nil {
		b.logger.Warn("libvlc release failed", "error", err)
	}
}

// libvlcEvents maps the player events we forward to engine states.
var libvlcEvents = map[libvlc.Event]engine.State{
	libvlc.MediaPlayerOpening:          engine.Opening,
	libvlc.MediaPlayerBuffering:        engine.Buffering,
	libvlc.MediaPlayerPlaying:          engine.Playing,
	libvlc.MediaPlayerPaused:           engine.Paused,
	libvlc.MediaPlayerStopped:          engine.Stopped,
	libvlc.MediaPlayerEndReached:       engine.Ended,
	libvlc.MediaPlayerEncounteredError: engine.Errored,
}

type libvlcPlayer struct {
	cell   grid.Cell
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	player   *libvlc.Player
	media    *libvlc.Media
	events   []libvlc.EventID
	listener engine.Listener

	freed       chan struct{}
	releaseOnce sync.Once
}

func (p *libvlcPlayer) attachEvents() error {
	em, err := p.player.EventManager()
	if err != nil {
		return fmt.Errorf("event manager: %w", err)
	}

	for ev, state := range libvlcEvents {
		id, err := em.Attach(ev, func(libvlc.Event, interface{}) {
			p.onEvent(state)
		}, nil)
		if err != nil {
			em.Detach(p.events...)
			return fmt.Errorf("attach event: %w", err)
		}
		p.events = append(p.events, id)
	}
	return nil
}

// onEvent runs on a libVLC thread and must not call back into libVLC.
func (p *libvlcPlayer) onEvent(state engine.State) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l == nil {
		return
	}

	l.OnStateChanged(state)
	switch state {
	case engine.Errored:
		l.OnError(errors.New("libvlc: playback error"))
	case engine.Ended:
		// Only reached once the repeat count runs out.
		l.OnError(errors.New("libvlc: end of media"))
	}
}

func (p *libvlcPlayer) SetListener(l engine.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

func (p *libvlcPlayer) Prepare(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil {
		return errors.New("player released")
	}

	var (
		m   *libvlc.Media
		err error
	)
	if media.IsRemote(url) {
		m, err = p.player.LoadMediaFromURL(url)
	} else {
		m, err = p.player.LoadMediaFromPath(url)
	}
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}

	// Keep the clip looping until the scheduler supersedes it.
	opts := []string{":input-repeat=65535"}
	if !p.cell.IsFullscreen() {
		x, y, w, h := p.cell.Pixels(p.cfg.ScreenW, p.cfg.ScreenH)
		opts = append(opts,
			":video-x="+strconv.Itoa(x),
			":video-y="+strconv.Itoa(y),
			":width="+strconv.Itoa(w),
			":height="+strconv.Itoa(h),
		)
	}
	if err := m.AddOptions(opts...); err != nil {
		p.logger.Debug("media options rejected", "error", err)
	}

	if p.media != nil {
		p.media.Release()
	}
	p.media = m
	return nil
}

func (p *libvlcPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil {
		return errors.New("player released")
	}
	if err := p.player.Play(); err != nil {
		return fmt.Errorf("play failed: %w", err)
	}
	return nil
}

func (p *libvlcPlayer) SetVolume(percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil {
		return errors.New("player released")
	}
	return p.player.SetVolume(engine.ClampVolume(percent))
}

func (p *libvlcPlayer) Release() {
	p.releaseOnce.Do(func() {
		defer close(p.freed)

		p.mu.Lock()
		player, m, events := p.player, p.media, p.events
		p.player, p.media, p.events = nil, nil, nil
		p.listener = nil
		p.mu.Unlock()

		if player == nil {
			return
		}
		if em, err := player.EventManager(); err == nil {
			em.Detach(events...)
		}
		if err := player.Stop(); err != nil {
			p.logger.Debug("stop failed", "error", err)
		}
		if m != nil {
			m.Release()
		}
		if err := player.Release(); err != nil {
			p.logger.Warn("player release failed", "error", err)
		}
	})
}

func (p *libvlcPlayer) done() <-chan struct{} {
	return p.freed
}
