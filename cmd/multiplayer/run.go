package main

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"player-grid/internal/api"
	"player-grid/internal/config"
	"player-grid/internal/grid"
	"player-grid/internal/history"
	"player-grid/internal/logging"
	"player-grid/internal/playlist"
	"player-grid/internal/scheduler"
	"player-grid/internal/system"
	"player-grid/internal/vlc"

	"github.com/spf13/cobra"
)

// runCmd starts the engine, the reshuffle loop, the playlist watcher
// and the heartbeat client. Flags default to the MULTIPLAYER_* values.
func runCmd() *cobra.Command {
	cfg, envErr := config.Load()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the player wall",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.IntVar(&cfg.Rows, "rows", cfg.Rows, "Grid rows")
	f.IntVar(&cfg.Cols, "cols", cfg.Cols, "Grid columns")
	f.StringVarP(&cfg.Layout, "layout", "t", cfg.Layout, "Layout preset (fullscreen, quad, nine, sixteen) or JSON file; overrides --rows/--cols")
	f.StringVarP(&cfg.Playlist, "playlist", "p", cfg.Playlist, "Media directory or URL list file, watched for changes")
	f.StringArrayVarP(&cfg.URLs, "url", "u", cfg.URLs, "Media URL or path (repeatable)")
	f.IntVar(&cfg.MinActive, "min-active", cfg.MinActive, "Fewest slots playing per cycle")
	f.IntVar(&cfg.MaxActive, "max-active", cfg.MaxActive, "Most slots playing per cycle (0 = every slot)")
	f.DurationVar(&cfg.MinDelay, "min-delay", cfg.MinDelay, "Shortest wait between reshuffles")
	f.DurationVar(&cfg.MaxDelay, "max-delay", cfg.MaxDelay, "Longest wait between reshuffles")
	f.IntVar(&cfg.Volume, "volume", cfg.Volume, "Player volume in percent")
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed (0 = random)")
	f.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "SQLite session journal (empty = disabled)")
	f.StringVarP(&cfg.IdentityPath, "config", "c", cfg.IdentityPath, "Path to the heartbeat identity JSON (empty = disabled)")
	f.IntVar(&cfg.ScreenWidth, "screen-width", cfg.ScreenWidth, "Screen width in pixels (for slot positioning)")
	f.IntVar(&cfg.ScreenHeight, "screen-height", cfg.ScreenHeight, "Screen height in pixels (for slot positioning)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.New(logging.Config{Format: cfg.LogFormat, Level: logging.ParseLevel(cfg.LogLevel)})
	slog.SetDefault(logger)
	logger.Info("multiplayer starting", "version", version, "built", buildTime)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout, err := resolveLayout(cfg)
	if err != nil {
		return err
	}
	logger.Info("layout", "name", layout.Name, "rows", layout.Rows, "cols", layout.Cols)

	seed := cfg.Seed
	if seed == 0 {
		if seed, err = newSeed(); err != nil {
			return err
		}
	}
	logger.Info("random seed", "seed", seed)

	eng, err := vlc.New(vlc.Config{
		ScreenW:        cfg.ScreenWidth,
		ScreenH:        cfg.ScreenHeight,
		ReleaseTimeout: vlc.DefaultReleaseTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}
	defer eng.Release()

	opts := scheduler.Options{
		MinActive: cfg.MinActive,
		MaxActive: cfg.MaxActive,
		MinDelay:  cfg.MinDelay,
		MaxDelay:  cfg.MaxDelay,
		Volume:    cfg.Volume,
		Rand:      rand.New(rand.NewSource(seed)),
		Logger:    logger,
	}

	if cfg.HistoryDB != "" {
		store, err := openHistory(ctx, cfg.HistoryDB, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Recorder = store.Recorder()
	}

	static := playlist.Dedupe(cfg.URLs)
	sched, err := scheduler.NewGrid(eng, layout, static, opts)
	if err != nil {
		return err
	}

	if cfg.Playlist != "" {
		w, err := playlist.NewWatcher(cfg.Playlist, func(urls []string) {
			sched.SetURLs(mergeURLs(static, urls))
		}, logger)
		if err != nil {
			return fmt.Errorf("playlist watcher: %w", err)
		}
		sched.SetURLs(mergeURLs(static, w.URLs()))

		go func() {
			if err := w.Start(); err != nil {
				logger.Error("playlist watcher stopped", "error", err)
			}
		}()
		defer w.Stop()
	}

	if len(sched.URLs()) == 0 {
		logger.Warn("playlist is empty, cycles will stay idle until media appears")
	}

	if cfg.IdentityPath != "" {
		probe := system.DefaultProbe(logger)
		client := api.NewClient(cfg.IdentityPath, version, func() api.Status {
			st := sched.Stats()
			health := probe.Check()
			return api.Status{
				Slots:        len(sched.Slots()),
				LiveSessions: st.Live,
				Cycles:       st.Cycles,
				URLs:         st.URLs,
				CPUTempC:     health.CPUTempC,
				DiskUsedPct:  health.DiskUsedPct,
				Throttled:    health.Throttled,
			}
		}, logger)
		go client.Start(ctx)
	}

	err = sched.Run(ctx)
	logger.Info("shutdown complete", "cycles", sched.Stats().Cycles)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resolveLayout picks the grid: a preset name, a JSON file, or rows x cols.
func resolveLayout(cfg config.Config) (*grid.Layout, error) {
	if cfg.Layout != "" {
		if l, ok := grid.Preset(cfg.Layout); ok {
			return l, nil
		}
		l, err := grid.LoadFromFile(cfg.Layout)
		if err != nil {
			return nil, fmt.Errorf("layout load: %w", err)
		}
		return l, nil
	}

	l := grid.New(cfg.Rows, cfg.Cols)
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// mergeURLs puts the flag URLs first, then the watched source, without
// duplicates.
func mergeURLs(static, watched []string) []string {
	all := make([]string, 0, len(static)+len(watched))
	all = append(all, static...)
	all = append(all, watched...)
	return playlist.Dedupe(all)
}

func openHistory(ctx context.Context, path string, logger *slog.Logger) (*history.Store, error) {
	if err := system.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("history dir: %w", err)
	}
	store, err := history.Open(path, logger)
	if err != nil {
		return nil, err
	}
	if n, err := store.CloseDangling(ctx, time.Now()); err != nil {
		logger.Warn("could not close dangling sessions", "error", err)
	} else if n > 0 {
		logger.Info("closed sessions left open by a previous run", "count", n)
	}
	return store, nil
}

func newSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}
