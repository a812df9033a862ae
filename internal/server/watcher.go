package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"nbsplayer/internal/playlist"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// inboxQuiet is how long the inbox must be quiet before new files are loaded,
// so files still being written are read once complete.
var inboxQuiet = 500 * time.Millisecond

// inbox tracks files waiting to be loaded and the entries loaded from files.
type inbox struct {
	mutex     sync.Mutex
	pending   map[string]struct{}
	entries   map[string]string // file path -> playlist entry key
	debounced func(f func())
}

func newInbox() *inbox {
	return &inbox{
		pending:   make(map[string]struct{}),
		entries:   make(map[string]string),
		debounced: debounce.New(inboxQuiet),
	}
}

// startInboxWatcher initializes the fsnotify watcher for the inbox directory.
func (s *Server) startInboxWatcher() error {
	dir := s.config.Library.InboxDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	s.mutex.Lock()
	s.watcher = watcher
	s.inbox = newInbox()
	s.mutex.Unlock()

	go s.watchInbox(watcher)

	s.logger.WithField("inbox", dir).Info("Inbox watcher started")
	return nil
}

// watchInbox selects on watcher channels and dispatches events.
func (s *Server) watchInbox(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handleInboxEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Error("Inbox watcher error")
		}
	}
}

// handleInboxEvent filters events down to song files and queues or removes them.
func (s *Server) handleInboxEvent(event fsnotify.Event) {
	// Ignore temporary files and hidden files
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") {
		return
	}
	if !s.config.IsSongFile(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		s.queueInboxFile(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		s.handleRemovedSong(event.Name)
	}
}

// queueInboxFile loads path once the inbox has been quiet for inboxQuiet.
func (s *Server) queueInboxFile(path string) {
	s.mutex.Lock()
	in := s.inbox
	s.mutex.Unlock()
	if in == nil {
		return
	}

	in.mutex.Lock()
	in.pending[path] = struct{}{}
	in.mutex.Unlock()

	in.debounced(func() { s.flushInbox(in) })
}

func (s *Server) flushInbox(in *inbox) {
	in.mutex.Lock()
	paths := make([]string, 0, len(in.pending))
	for path := range in.pending {
		paths = append(paths, path)
	}
	in.pending = make(map[string]struct{})
	in.mutex.Unlock()

	for _, path := range paths {
		s.handleNewSong(path)
	}
}

// handleNewSong loads a song file from the inbox into the playlist.
func (s *Server) handleNewSong(path string) {
	if _, err := os.Stat(path); err != nil {
		// Removed again before it settled
		return
	}

	song, data, name, err := s.loader.LoadFile(path)
	if err != nil {
		s.logger.WithError(err).WithField("file_path", path).Error("Error loading song from inbox")
		return
	}

	entry := s.playlist.Add(song, data, name)

	s.mutex.Lock()
	in := s.inbox
	s.mutex.Unlock()
	if in != nil {
		in.mutex.Lock()
		in.entries[path] = entry.ID
		in.mutex.Unlock()
	}
	s.autosave()

	s.logger.WithFields(logrus.Fields{
		"file_path": path,
		"entry":     entry.ID,
		"name":      entry.Name,
	}).Info("Added song from inbox")
}

// handleRemovedSong drops the entry that was loaded from a deleted file.
func (s *Server) handleRemovedSong(path string) {
	s.mutex.Lock()
	in := s.inbox
	s.mutex.Unlock()
	if in == nil {
		return
	}

	in.mutex.Lock()
	delete(in.pending, path)
	key, ok := in.entries[path]
	delete(in.entries, path)
	in.mutex.Unlock()
	if !ok {
		return
	}

	if err := s.playlist.Remove(key); err != nil {
		if !errors.Is(err, playlist.ErrUnknownEntry) {
			s.logger.WithError(err).WithField("file_path", path).Error("Error removing song from playlist")
		}
		return
	}
	s.autosave()

	s.logger.WithField("file_path", path).Info("Removed song deleted from inbox")
}

// stopInboxWatcher closes the watcher (idempotent).
func (s *Server) stopInboxWatcher() {
	s.mutex.Lock()
	watcher := s.watcher
	s.watcher = nil
	s.mutex.Unlock()

	if watcher != nil {
		watcher.Close()
	}
}
