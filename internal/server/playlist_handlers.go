package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"nbsplayer/internal/archive"

	"github.com/gorilla/mux"
)

// handleGetPlaylist returns the entries in display order with the repeat
// mode and playing position.
func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.playlist.Summary())
}

// entryName extracts and validates the {name} path variable.
func (s *Server) entryName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := sanitizeInput(mux.Vars(r)["name"])
	if verr := validateEntryName(name); verr != nil {
		s.respondWithValidationError(w, r, *verr)
		return "", false
	}
	return name, true
}

// handleRemoveEntry drops a song from the playlist.
func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	name, ok := s.entryName(w, r)
	if !ok {
		return
	}

	if err := s.playlist.Remove(name); err != nil {
		s.respondWithPlaylistError(w, r, err)
		return
	}
	s.autosave()

	s.respondJSON(w, s.playlist.Summary())
}

// handleMoveEntry moves a song to {"position": n} in the display order.
func (s *Server) handleMoveEntry(w http.ResponseWriter, r *http.Request) {
	name, ok := s.entryName(w, r)
	if !ok {
		return
	}

	var req struct {
		Position *int `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if req.Position == nil {
		s.respondWithValidationError(w, r, ValidationError{
			Field:   "position",
			Message: "Position is required",
			Code:    "MISSING_POSITION",
		})
		return
	}
	if verr := validatePosition(*req.Position, s.playlist.Len()); verr != nil {
		s.respondWithValidationError(w, r, *verr)
		return
	}

	if err := s.playlist.Move(name, *req.Position); err != nil {
		s.respondWithPlaylistError(w, r, err)
		return
	}
	s.autosave()

	s.respondJSON(w, s.playlist.Summary())
}

// handleSelectEntry marks a song as playing, as a click in a song list would.
func (s *Server) handleSelectEntry(w http.ResponseWriter, r *http.Request) {
	name, ok := s.entryName(w, r)
	if !ok {
		return
	}

	if err := s.playlist.Click(name); err != nil {
		s.respondWithPlaylistError(w, r, err)
		return
	}

	entry, _ := s.playlist.CurrentEntry()
	s.respondJSON(w, entry)
}

// handleExportPlaylist downloads the playlist archive, sealed when a
// passphrase is configured.
func (s *Server) handleExportPlaylist(w http.ResponseWriter, r *http.Request) {
	data, err := s.playlist.ExportBytes()
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to export playlist", err)
		return
	}

	filename := "playlist-" + time.Now().Format("20060102-150405")
	if archive.IsSealed(data) {
		w.Header().Set("Content-Type", "application/octet-stream")
		filename += ".nbsa"
	} else {
		w.Header().Set("Content-Type", "application/zip")
		filename += ".zip"
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	if _, err := w.Write(data); err != nil {
		s.logger.WithError(err).Warn("Failed to write playlist export")
	}
}
