package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxAddsAndRemovesSongs(t *testing.T) {
	srv, pl, _ := newTestServer(t)
	srv.inbox = newInbox()

	path := filepath.Join(srv.config.Library.InboxDir, "tune.nbs")
	require.NoError(t, os.WriteFile(path, songBytes(t, "Tune"), 0644))

	srv.handleNewSong(path)
	require.Equal(t, 1, pl.Len())
	entry, ok := pl.CurrentEntry()
	require.True(t, ok)
	assert.Equal(t, "Tune", entry.Name)

	// only files loaded from the inbox are removed
	srv.handleRemovedSong(filepath.Join(srv.config.Library.InboxDir, "other.nbs"))
	assert.Equal(t, 1, pl.Len())

	srv.handleRemovedSong(path)
	assert.Equal(t, 0, pl.Len())
}

func TestInboxSkipsUnreadableFiles(t *testing.T) {
	srv, pl, _ := newTestServer(t)
	srv.inbox = newInbox()
	dir := srv.config.Library.InboxDir

	broken := filepath.Join(dir, "broken.nbs")
	require.NoError(t, os.WriteFile(broken, []byte{1, 2, 3}, 0644))
	srv.handleNewSong(broken)
	srv.handleNewSong(filepath.Join(dir, "missing.nbs"))

	assert.Equal(t, 0, pl.Len())
}

func TestInboxEventFiltering(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.inbox = newInbox()
	dir := srv.config.Library.InboxDir

	for _, name := range []string{".hidden.nbs", "song.nbs.tmp", "notes.txt"} {
		srv.handleInboxEvent(fsnotify.Event{Name: filepath.Join(dir, name), Op: fsnotify.Create})
	}
	srv.handleInboxEvent(fsnotify.Event{Name: filepath.Join(dir, "song.nbs"), Op: fsnotify.Create})

	srv.inbox.mutex.Lock()
	defer srv.inbox.mutex.Unlock()
	assert.Len(t, srv.inbox.pending, 1)
	assert.Contains(t, srv.inbox.pending, filepath.Join(dir, "song.nbs"))
}

func TestInboxWatcherPicksUpFiles(t *testing.T) {
	quiet := inboxQuiet
	inboxQuiet = 50 * time.Millisecond
	defer func() { inboxQuiet = quiet }()

	srv, pl, _ := newTestServer(t)
	require.NoError(t, srv.startInboxWatcher())
	defer srv.stopInboxWatcher()

	path := filepath.Join(srv.config.Library.InboxDir, "dropped.nbs")
	require.NoError(t, os.WriteFile(path, songBytes(t, "Dropped"), 0644))
	require.Eventually(t, func() bool { return pl.Len() == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return pl.Len() == 0 }, 5*time.Second, 20*time.Millisecond)
}
