package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"nbsplayer/internal/config"
	"nbsplayer/internal/loader"
	"nbsplayer/internal/player"
	"nbsplayer/internal/playlist"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping() error
}

// Server exposes the playlist over HTTP and feeds it songs dropped into the
// inbox directory.
type Server struct {
	config   *config.Config
	playlist *playlist.Playlist
	loader   *loader.Loader
	state    *player.StateManager
	db       Pinger
	logger   *logrus.Logger
	started  time.Time

	mutex      sync.Mutex
	httpServer *http.Server
	watcher    *fsnotify.Watcher
	inbox      *inbox
}

// NewServer creates a server. db may be nil when nothing is persisted.
func NewServer(cfg *config.Config, pl *playlist.Playlist, l *loader.Loader, state *player.StateManager, db Pinger, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Server{
		config:   cfg,
		playlist: pl,
		loader:   l,
		state:    state,
		db:       db,
		logger:   logger,
		started:  time.Now(),
	}
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	s.setupRoutes(router)

	router.Use(s.requestIDMiddleware, s.panicRecoveryMiddleware, s.requestLoggingMiddleware)
	return s.corsMiddleware(router)
}

func (s *Server) setupRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	// Playlist routes; the fixed paths go before {name}, which may hold
	// slashes ("AC/DC - Thunder")
	api.HandleFunc("/playlist", s.handleGetPlaylist).Methods(http.MethodGet)
	api.HandleFunc("/playlist", s.handleUploadSong).Methods(http.MethodPost)
	api.HandleFunc("/playlist/export", s.handleExportPlaylist).Methods(http.MethodGet)
	api.HandleFunc("/playlist/import", s.handleImportPlaylist).Methods(http.MethodPost)
	api.HandleFunc("/playlist/{name:.+}/position", s.handleMoveEntry).Methods(http.MethodPut)
	api.HandleFunc("/playlist/{name:.+}/select", s.handleSelectEntry).Methods(http.MethodPost)
	api.HandleFunc("/playlist/{name:.+}", s.handleRemoveEntry).Methods(http.MethodDelete)

	// Player routes
	api.HandleFunc("/player/state", s.handleGetPlayerState).Methods(http.MethodGet)
	api.HandleFunc("/player/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	api.HandleFunc("/player/seek", s.handleSeek).Methods(http.MethodPost)
	api.HandleFunc("/player/{action:(?:play|pause|reset|next)}", s.handlePlayerAction).Methods(http.MethodPost)

	// Repeat mode routes
	api.HandleFunc("/repeat", s.handleSetRepeatMode).Methods(http.MethodPut)
	api.HandleFunc("/repeat/cycle", s.handleCycleRepeatMode).Methods(http.MethodPost)
}

// Start watches the inbox (when enabled) and serves HTTP until Shutdown.
func (s *Server) Start() error {
	if s.config.Library.WatchInbox {
		if err := s.startInboxWatcher(); err != nil {
			s.logger.WithError(err).Warn("Could not start inbox watcher")
		}
	}

	httpServer := &http.Server{
		Addr:        s.config.GetAddress(),
		Handler:     s.Handler(),
		ReadTimeout: time.Duration(s.config.Server.ReadTimeout) * time.Second,
	}
	s.mutex.Lock()
	s.httpServer = httpServer
	s.mutex.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address": "http://" + s.config.GetAddress(),
		"songs":   s.playlist.Len(),
	}).Info("nbsplayer server starting")
	if s.config.Library.WatchInbox {
		s.logger.WithField("inbox", s.config.Library.InboxDir).Info("Inbox watcher monitoring")
	}

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the inbox watcher and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	s.stopInboxWatcher()

	s.mutex.Lock()
	httpServer := s.httpServer
	s.mutex.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

// autosave stores the playlist after a change when autosave is on.
func (s *Server) autosave() {
	if !s.config.Storage.Autosave {
		return
	}
	if err := s.playlist.Save(); err != nil {
		s.logger.WithError(err).Warn("Failed to autosave playlist")
	}
}
