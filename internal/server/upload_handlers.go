package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"nbsplayer/internal/loader"

	"github.com/sirupsen/logrus"
)

var errEmptyUpload = errors.New("empty upload")

// readUpload returns the uploaded bytes and file name. Multipart forms carry
// them in the "file" field; any other body is taken as the file itself,
// named by the "name" query parameter.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	maxSize := s.config.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxSize); err != nil {
			return nil, "", err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		return data, filepath.Base(header.Filename), nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errEmptyUpload
	}
	return data, filepath.Base(sanitizeInput(r.URL.Query().Get("name"))), nil
}

// handleUploadSong decodes an uploaded song and adds it to the playlist
func (s *Server) handleUploadSong(w http.ResponseWriter, r *http.Request) {
	data, filename, err := s.readUpload(w, r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "No song provided", err)
		return
	}
	if verr := s.validateSongFile(filename); verr != nil {
		s.respondWithValidationError(w, r, *verr)
		return
	}

	song, err := s.loader.Load(data)
	if err != nil {
		s.respondWithPlaylistError(w, r, err)
		return
	}

	entry := s.playlist.Add(song, data, loader.Stem(filename))
	s.autosave()

	s.logger.WithFields(logrus.Fields{
		"request_id": requestID(r),
		"filename":   filename,
		"entry":      entry.ID,
		"name":       entry.Name,
	}).Info("Song uploaded and added to playlist")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	s.respondJSON(w, entry)
}

// handleImportPlaylist replaces the playlist with an uploaded archive
func (s *Server) handleImportPlaylist(w http.ResponseWriter, r *http.Request) {
	data, _, err := s.readUpload(w, r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "No archive provided", err)
		return
	}

	if err := s.playlist.ImportBytes(data, s.loader); err != nil {
		s.respondWithPlaylistError(w, r, err)
		return
	}
	s.autosave()

	s.respondJSON(w, s.playlist.Summary())
}
