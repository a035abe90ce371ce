//go:build !(linux && arm64 && cgo)

// Development backend: one VLC subprocess per player, no CGO required.
//
// Linux:   cvlc (VLC without Qt GUI) + xdotool for window positioning.
//          xdotool sets override-redirect which removes the window from WM
//          control entirely (no title bar, no taskbar entry, exact placement).
// Windows/macOS: vlc with Qt kiosk flags and explicit geometry.
package vlc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"player-grid/internal/engine"
	"player-grid/internal/grid"
	"player-grid/internal/media"
)

type devBackend struct {
	vlcPath string
	cfg     Config
	logger  *slog.Logger
}

func newBackend(cfg Config, logger *slog.Logger) (backend, error) {
	path, err := findVLC()
	if err != nil {
		return nil, err
	}
	logger.Info("using VLC subprocess backend", "path", path)
	return &devBackend{vlcPath: path, cfg: cfg, logger: logger}, nil
}

func (b *devBackend) newPlayer(cell grid.Cell) (releasablePlayer, error) {
	return &procPlayer{
		backend: b,
		cell:    cell,
		volume:  100,
		exited:  make(chan struct{}),
		freed:   make(chan struct{}),
		logger:  b.logger.With("slot", cell.ID()),
	}, nil
}

func (b *devBackend) release() {}

// procPlayer drives a single VLC process.
type procPlayer struct {
	backend *devBackend
	cell    grid.Cell
	logger  *slog.Logger

	mu       sync.Mutex
	url      string
	volume   int
	cmd      *exec.Cmd
	listener engine.Listener
	released bool

	exited      chan struct{} // closed when the process has been reaped
	freed       chan struct{} // closed once Release finished
	releaseOnce sync.Once
}

func (p *procPlayer) SetListener(l engine.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

func (p *procPlayer) Prepare(url string) error {
	if !media.IsSupported(url) {
		return fmt.Errorf("unsupported media: %s", url)
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()

	p.notifyState(engine.Opening)
	return nil
}

func (p *procPlayer) SetVolume(percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = engine.ClampVolume(percent)
	return nil
}

func (p *procPlayer) Play() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return errors.New("player released")
	}
	if p.url == "" {
		p.mu.Unlock()
		return errors.New("play before prepare")
	}
	if p.cmd != nil {
		p.mu.Unlock()
		return nil
	}

	cmd := exec.Command(p.backend.vlcPath, p.buildArgs()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if runtime.GOOS == "linux" {
		cmd.Env = append(os.Environ(), "DISPLAY=:0")
	}
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("vlc start failed: %w", err)
	}
	p.cmd = cmd
	p.mu.Unlock()

	if runtime.GOOS == "linux" && cmd.Process != nil {
		go p.positionWindow(cmd.Process.Pid)
	}

	go p.wait(cmd)
	p.notifyState(engine.Playing)
	return nil
}

// wait reaps the process. With --loop VLC only exits on failure, so an
// exit that was not caused by Release is reported as an engine error.
func (p *procPlayer) wait(cmd *exec.Cmd) {
	err := cmd.Wait()
	close(p.exited)

	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		return
	}

	if err == nil {
		err = errors.New("vlc exited")
	}
	p.notifyState(engine.Errored)
	p.notifyError(fmt.Errorf("vlc process: %w", err))
}

// Release kills the process and waits up to the release timeout for it
// to be reaped.
func (p *procPlayer) Release() {
	p.releaseOnce.Do(func() {
		defer close(p.freed)

		p.mu.Lock()
		p.released = true
		cmd := p.cmd
		p.mu.Unlock()

		if cmd == nil || cmd.Process == nil {
			return
		}
		cmd.Process.Kill()

		select {
		case <-p.exited:
		case <-time.After(p.backend.cfg.ReleaseTimeout):
			p.logger.Warn("vlc did not exit in time", "pid", cmd.Process.Pid)
		}
		p.notifyState(engine.Stopped)
	})
}

func (p *procPlayer) done() <-chan struct{} {
	return p.freed
}

func (p *procPlayer) notifyState(s engine.State) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l != nil {
		l.OnStateChanged(s)
	}
}

func (p *procPlayer) notifyError(err error) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l != nil {
		l.OnError(err)
	}
}

// buildArgs must be called with p.mu held.
func (p *procPlayer) buildArgs() []string {
	args := []string{
		"--no-video-title-show", // No filename overlay
		"--no-osd",              // No on-screen display
		"--no-spu",              // No subtitles
		"--loop",                // Keep the clip going until superseded

		"--avcodec-hw=any",
		"--avcodec-threads=0",

		"--network-caching=3000",
		"--file-caching=3000",

		"--gain=" + strconv.FormatFloat(gain(p.volume), 'f', 2, 64),
		"--image-duration=" + strconv.Itoa(media.DefaultImageDuration),

		"--quiet",
	}

	if runtime.GOOS != "linux" {
		args = append(args,
			"--no-video-deco",
			"--video-on-top",
			"--mouse-hide-timeout=0",
			"--no-qt-fs-controller",
			"--no-qt-name-in-title",
			"--no-qt-privacy-ask",
		)
		if p.cell.IsFullscreen() {
			args = append(args, "--fullscreen")
		} else {
			x, y, w, h := p.cell.Pixels(p.backend.cfg.ScreenW, p.backend.cfg.ScreenH)
			args = append(args,
				"--width="+strconv.Itoa(w),
				"--height="+strconv.Itoa(h),
				"--video-x="+strconv.Itoa(x),
				"--video-y="+strconv.Itoa(y),
			)
		}
	}

	return append(args, p.url)
}

// positionWindow uses xdotool to place the VLC window over the cell.
func (p *procPlayer) positionWindow(pid int) {
	x, y, w, h := p.cell.Pixels(p.backend.cfg.ScreenW, p.backend.cfg.ScreenH)

	pidStr := strconv.Itoa(pid)
	wStr, hStr := strconv.Itoa(w), strconv.Itoa(h)
	xStr, yStr := strconv.Itoa(x), strconv.Itoa(y)

	for attempt := 0; attempt < 50; attempt++ {
		select {
		case <-p.exited:
			return
		case <-time.After(200 * time.Millisecond):
		}

		out, err := exec.Command("xdotool", "search", "--pid", pidStr).Output()
		if err != nil || strings.TrimSpace(string(out)) == "" {
			continue
		}

		lines := strings.Split(strings.TrimSpace(string(out)), "\n")
		windowID := lines[len(lines)-1]

		exec.Command("xdotool", "set_window", "--overrideredirect", "1", windowID).Run()
		exec.Command("xdotool", "windowsize", windowID, wStr, hStr).Run()
		exec.Command("xdotool", "windowmove", windowID, xStr, yStr).Run()
		exec.Command("xdotool", "windowraise", windowID).Run()

		p.logger.Debug("window positioned", "window", windowID, "x", x, "y", y, "w", w, "h", h)
		return
	}
	p.logger.Warn("could not find VLC window", "pid", pid)
}

// findVLC locates the VLC executable on the system.
func findVLC() (string, error) {
	// On Linux, prefer cvlc (VLC without the Qt GUI: just video, no menus).
	if runtime.GOOS == "linux" {
		if path, err := exec.LookPath("cvlc"); err == nil {
			return path, nil
		}
	}

	if path, err := exec.LookPath("vlc"); err == nil {
		return path, nil
	}

	var candidates []string
	switch runtime.GOOS {
	case "windows":
		candidates = []string{
			`C:\Program Files\VideoLAN\VLC\vlc.exe`,
			`C:\Program Files (x86)\VideoLAN\VLC\vlc.exe`,
		}
	case "darwin":
		candidates = []string{
			"/Applications/VLC.app/Contents/MacOS/VLC",
		}
	default:
		candidates = []string{
			"/usr/bin/cvlc",
			"/usr/bin/vlc",
			"/snap/bin/vlc",
		}
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", errors.New("VLC not found: install from https://www.videolan.org/vlc/")
}
