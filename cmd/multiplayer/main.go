// multiplayer: a wall of video players on a single screen. Every few
// seconds it reshuffles the playlist and hands a random number of clips
// to the grid's slots.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"player-grid/internal/config"
	"player-grid/internal/history"
	"player-grid/internal/logging"
	"player-grid/internal/system"
	"player-grid/internal/vlc"

	"github.com/spf13/cobra"
)

// Build-time variables, set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "multiplayer",
		Short:        "multiplayer: randomized multi-slot video wall",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "multiplayer %s\nBuilt: %s\n", version, buildTime)
		},
	}
}

// checkCmd reports host health and whether a media engine can start.
func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a system health check",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(logging.Config{Format: "text", Level: logging.ParseLevel("warn")})
			out := cmd.OutOrStdout()

			status := system.DefaultProbe(logger).Check()
			fmt.Fprintf(out, "CPU Temperature : %.1f°C\n", status.CPUTempC)
			fmt.Fprintf(out, "Disk Usage      : %.1f%%\n", status.DiskUsedPct)
			fmt.Fprintf(out, "Disk Free       : %d MB\n", status.DiskFreeBytes/1024/1024)
			fmt.Fprintf(out, "Throttled       : %v\n", status.Throttled)

			eng, err := vlc.New(vlc.Config{ScreenW: 1920, ScreenH: 1080}, logger)
			if err != nil {
				fmt.Fprintf(out, "Media Engine    : unavailable (%v)\n", err)
			} else {
				eng.Release()
				fmt.Fprintln(out, "Media Engine    : ok")
			}

			for _, p := range status.Problems() {
				fmt.Fprintf(out, "WARNING         : %s\n", p)
			}
			if err != nil {
				return fmt.Errorf("media engine: %w", err)
			}
			return nil
		},
	}
}

// historyCmd prints the most recent sessions from the journal.
func historyCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent playback sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return fmt.Errorf("no history database: pass --db or set %sHISTORY_DB", config.EnvPrefix)
			}
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("history database: %w", err)
			}

			logger := logging.New(logging.Config{Format: "text", Level: logging.ParseLevel("warn")})
			store, err := history.Open(dbPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(context.Background(), limit)
			if err != nil {
				return err
			}
			return printHistory(cmd, entries)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", os.Getenv(config.EnvPrefix+"HISTORY_DB"), "Path to the history database")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to show")

	return cmd
}

func printHistory(cmd *cobra.Command, entries []history.Entry) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSLOT\tDURATION\tREASON\tURL")
	for _, e := range entries {
		dur := "live"
		if e.EndedAt != nil {
			dur = e.Duration().Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime), e.Slot, dur, e.Reason, e.URL)
	}
	return tw.Flush()
}
