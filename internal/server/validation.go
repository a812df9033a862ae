package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"path/filepath"
	"strings"

	"nbsplayer/internal/archive"
	"nbsplayer/internal/nbs"
	"nbsplayer/internal/playlist"
	"nbsplayer/pkg/models"

	"github.com/sirupsen/logrus"
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondJSON writes v as the JSON response body.
func (s *Server) respondJSON(w http.ResponseWriter, v interface{}) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// respondWithValidationError sends a structured validation error response
func (s *Server) respondWithValidationError(w http.ResponseWriter, r *http.Request, errs ...ValidationError) {
	s.logger.WithFields(logrus.Fields{
		"request_id": requestID(r),
		"method":     r.Method,
		"path":       r.URL.Path,
		"errors":     errs,
	}).Warn("Validation failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	s.respondJSON(w, ValidationResult{Valid: false, Errors: errs})
}

// respondWithError sends a structured error response
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := s.logger.WithFields(logrus.Fields{
		"request_id":  requestID(r),
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	}
	if err != nil && statusCode < 500 {
		response["detail"] = err.Error()
	}

	s.respondJSON(w, response)
}

// respondWithPlaylistError maps playlist, archive and decoding errors to
// status codes.
func (s *Server) respondWithPlaylistError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, playlist.ErrUnknownEntry):
		s.respondWithError(w, r, http.StatusNotFound, "Song not in playlist", err)
	case errors.Is(err, playlist.ErrEmptyPlaylist):
		s.respondWithError(w, r, http.StatusConflict, "Playlist is empty", err)
	case errors.Is(err, models.ErrInvalidRepeatMode):
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid repeat mode", err)
	case errors.Is(err, archive.ErrSealed), errors.Is(err, archive.ErrBadPassphrase):
		s.respondWithError(w, r, http.StatusForbidden, "Archive is sealed", err)
	case errors.Is(err, archive.ErrTooLarge):
		s.respondWithError(w, r, http.StatusRequestEntityTooLarge, "Archive too large", err)
	case errors.Is(err, archive.ErrMissingMetadata), errors.Is(err, archive.ErrCorrupt),
		errors.Is(err, nbs.ErrTruncated), errors.Is(err, nbs.ErrUnsupportedVersion):
		s.respondWithError(w, r, http.StatusUnprocessableEntity, "Could not read upload", err)
	default:
		s.respondWithError(w, r, http.StatusInternalServerError, "Playlist operation failed", err)
	}
}

// validateEntryName validates an entry key or display name from the URL path
func validateEntryName(name string) *ValidationError {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{
			Field:   "name",
			Message: "Song name is required",
			Code:    "MISSING_SONG_NAME",
		}
	}

	if len(name) > 255 {
		return &ValidationError{
			Field:   "name",
			Message: "Song name too long (max 255 characters)",
			Code:    "SONG_NAME_TOO_LONG",
		}
	}

	if strings.ContainsAny(name, "\x00\r\n") {
		return &ValidationError{
			Field:   "name",
			Message: "Song name contains invalid characters",
			Code:    "INVALID_SONG_NAME_CHARACTERS",
		}
	}

	return nil
}

// validatePercent validates a seek position
func validatePercent(percent float64) *ValidationError {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return &ValidationError{
			Field:   "percent",
			Message: "Percent must be between 0 and 100",
			Code:    "INVALID_PERCENT",
		}
	}
	return nil
}

// validatePosition validates a target display position
func validatePosition(position, length int) *ValidationError {
	if position < 0 || position >= length {
		return &ValidationError{
			Field:   "position",
			Message: "Position is outside the playlist",
			Code:    "INVALID_POSITION",
		}
	}
	return nil
}

// validateSongFile checks an uploaded file name against the song formats
func (s *Server) validateSongFile(filename string) *ValidationError {
	if filename == "" {
		return &ValidationError{
			Field:   "file",
			Message: "File name is required",
			Code:    "MISSING_FILE_NAME",
		}
	}

	if !s.config.IsSongFile(filename) {
		return &ValidationError{
			Field:   "file",
			Message: "Unsupported file type: " + strings.ToLower(filepath.Ext(filename)),
			Code:    "UNSUPPORTED_FILE_TYPE",
		}
	}

	return nil
}

// sanitizeInput sanitizes user input to prevent injection attacks
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
