package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"nbsplayer/internal/config"
	"nbsplayer/internal/events"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	playConfigPath string
	playRepeat     string
	playNoParity   bool
)

func init() {
	playCmd.Flags().StringVarP(&playConfigPath, "config", "c", "", "configuration file (defaults are used when empty)")
	playCmd.Flags().StringVarP(&playRepeat, "repeat", "r", "off", "repeat mode: off, song or playlist")
	playCmd.Flags().BoolVar(&playNoParity, "no-parity", false, "disable parity mode")
	rootCmd.AddCommand(playCmd)
}

var playCmd = &cobra.Command{
	Use:   "play <files...>",
	Short: "Play song files in order",
	Long: `Plays the given .nbs files in order through the configured instrument
samples. Stops after the last song unless a repeat mode keeps it going.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if playConfigPath != "" {
			loaded, err := config.LoadConfig(playConfigPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		cfg.Playback.RepeatMode = playRepeat
		if playNoParity {
			cfg.Playback.Parity = false
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, logFile, err := newLogger(cfg.Logging)
		if err != nil {
			return err
		}
		defer logFile.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return play(ctx, cfg, logger, args, cmd.OutOrStdout())
	},
}

// play queues files so the first one plays first and blocks until the
// playlist ends or ctx is cancelled.
func play(ctx context.Context, cfg *config.Config, logger *logrus.Logger, files []string, out io.Writer) error {
	a, err := newApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	// Entries are prepended, so add in reverse
	var first string
	for i := len(files) - 1; i >= 0; i-- {
		song, data, name, err := a.loader.LoadFile(files[i])
		if err != nil {
			return err
		}
		first = a.playlist.Add(song, data, name).ID
	}

	watch, unwatch := a.playlist.Bus().Watch(events.Change, events.PlaylistEnd)
	defer unwatch()

	if err := a.playlist.SwitchTo(first); err != nil {
		return err
	}
	if err := a.playlist.Play(); err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-watch:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case events.Change:
				if entries := a.playlist.Entries(); ev.Index >= 0 && ev.Index < len(entries) {
					fmt.Fprintf(out, "Now playing: %s\n", entries[ev.Index].Name)
				}
			case events.PlaylistEnd:
				fmt.Fprintln(out, "Playlist finished")
				return nil
			}
		case <-ctx.Done():
			a.playlist.PauseAll()
			return nil
		}
	}
}
