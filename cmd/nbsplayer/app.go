package main

import (
	"fmt"
	"io"
	"os"

	"nbsplayer/internal/cache"
	"nbsplayer/internal/config"
	"nbsplayer/internal/database"
	"nbsplayer/internal/instrument"
	"nbsplayer/internal/loader"
	"nbsplayer/internal/player"
	"nbsplayer/internal/playlist"
	"nbsplayer/internal/render"
	"nbsplayer/pkg/models"

	"github.com/sirupsen/logrus"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger configures logrus from the logging section. The returned closer
// closes the log file, if any.
func newLogger(cfg config.LoggingConfig) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	if cfg.File == "" {
		return logger, nopCloser{}, nil
	}
	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, file))
	return logger, file, nil
}

// app holds the wired playback stack shared by the commands.
type app struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	cache    *cache.SongCache
	loader   *loader.Loader
	sink     *render.BankSink
	state    *player.StateManager
	playlist *playlist.Playlist
}

// newApp builds the stack. With persist the playlist is backed by the
// database at the configured storage path.
func newApp(cfg *config.Config, logger *logrus.Logger, persist bool) (*app, error) {
	identity, err := playlist.ParseIdentity(cfg.Playback.Identity)
	if err != nil {
		return nil, err
	}
	mode, err := models.ParseRepeatMode(cfg.Playback.RepeatMode)
	if err != nil {
		return nil, err
	}

	a := &app{config: cfg, logger: logger}
	if persist {
		a.db, err = database.NewDatabaseWithLogger(cfg.Storage.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("error initializing database: %w", err)
		}
	}

	bank, err := instrument.NewScanner(cfg.Library.SoundFormats, logger).Scan(cfg.Library.SoundsDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.cache = cache.NewSongCache(cfg.CacheTTL(), cfg.Cache.MaxEntries)
	a.loader = loader.New(a.cache, logger)
	a.sink = render.NewBankSink(bank, render.LogOutput{Logger: logger}, cfg.Playback.VoiceQueue, logger)
	a.state = player.NewStateManager()

	opts := playlist.Options{
		Sink:        a.sink,
		Logger:      logger,
		Identity:    identity,
		SettleDelay: cfg.SettleDelay(),
		Parity:      cfg.Playback.Parity,
		State:       a.state,
		Passphrase:  cfg.Storage.ArchivePassphrase,

		MaxArchiveSize: cfg.MaxUploadBytes(),
	}
	if a.db != nil {
		opts.Store = a.db
	}
	a.playlist = playlist.New(opts)

	// A stored repeat mode replaces this one on restore
	if err := a.playlist.SetRepeatMode(mode); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// restore loads the saved playlist, if any.
func (a *app) restore() error {
	restored, err := a.playlist.Restore(a.loader)
	if err != nil {
		return err
	}
	if restored {
		a.logger.WithFields(logrus.Fields{
			"songs":  a.playlist.Len(),
			"repeat": a.playlist.RepeatMode().String(),
		}).Info("Playlist restored")
	}
	return nil
}

// Close saves the playlist when autosave is on and releases everything.
func (a *app) Close() {
	if a.playlist != nil {
		if a.db != nil && a.config.Storage.Autosave {
			if err := a.playlist.Save(); err != nil {
				a.logger.WithError(err).Warn("Failed to save playlist")
			}
		}
		a.playlist.Close()
	}
	if a.sink != nil {
		a.sink.Close()
		if dropped := a.sink.Dropped(); dropped > 0 {
			a.logger.WithField("dropped", dropped).Info("Voices dropped while the queue was full")
		}
	}
	if a.cache != nil {
		stats := a.cache.Stats()
		a.logger.WithFields(logrus.Fields{
			"hits":   stats.Hits,
			"misses": stats.Misses,
		}).Debug("Song cache statistics")
		a.cache.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database")
		}
	}
}
