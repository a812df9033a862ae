package server

import (
	"encoding/json"
	"net/http"

	"nbsplayer/pkg/models"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// handleGetPlayerState returns the current player state
func (s *Server) handleGetPlayerState(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.state.GetState())
}

// handlePlayerAction runs play, pause, reset or next on the playlist
func (s *Server) handlePlayerAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]

	var err error
	switch action {
	case "play":
		err = s.playlist.Play()
	case "pause":
		err = s.playlist.Pause()
	case "reset":
		err = s.playlist.Reset()
	case "next":
		err = s.playlist.Next(r.Context())
	}
	if err != nil {
		s.respondWithPlaylistError(w, r, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": requestID(r),
		"action":     action,
	}).Debug("Player action")
	s.respondJSON(w, s.state.GetState())
}

// handleUpdateSettings toggles parity mode and song looping
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parity *bool `json:"parity,omitempty"`
		Loop   *bool `json:"loop,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	if req.Parity != nil {
		s.playlist.SetParity(*req.Parity)
	}
	if req.Loop != nil {
		if *req.Loop && !s.state.GetState().LoopAvailable {
			s.respondWithValidationError(w, r, ValidationError{
				Field:   "loop",
				Message: "Looping is not available for the current song",
				Code:    "LOOP_UNAVAILABLE",
			})
			return
		}
		if err := s.playlist.SetLoop(*req.Loop); err != nil {
			s.respondWithPlaylistError(w, r, err)
			return
		}
	}

	s.respondJSON(w, s.state.GetState())
}

// handleSeek moves the current song to {"percent": p}
func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Percent *float64 `json:"percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if req.Percent == nil {
		s.respondWithValidationError(w, r, ValidationError{
			Field:   "percent",
			Message: "Percent is required",
			Code:    "MISSING_PERCENT",
		})
		return
	}
	if verr := validatePercent(*req.Percent); verr != nil {
		s.respondWithValidationError(w, r, *verr)
		return
	}

	if err := s.playlist.Seek(*req.Percent); err != nil {
		s.respondWithPlaylistError(w, r, err)
		return
	}
	s.respondJSON(w, s.state.GetState())
}

// handleSetRepeatMode sets {"mode": "off"|"song"|"playlist"}
func (s *Server) handleSetRepeatMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if req.Mode == "" {
		s.respondWithValidationError(w, r, ValidationError{
			Field:   "mode",
			Message: "Repeat mode is required",
			Code:    "MISSING_REPEAT_MODE",
		})
		return
	}

	mode, err := models.ParseRepeatMode(req.Mode)
	if err != nil {
		s.respondWithValidationError(w, r, ValidationError{
			Field:   "mode",
			Message: "Repeat mode must be off, song or playlist",
			Code:    "INVALID_REPEAT_MODE",
		})
		return
	}
	if err := s.playlist.SetRepeatMode(mode); err != nil {
		s.respondWithPlaylistError(w, r, err)
		return
	}

	s.respondJSON(w, repeatResponse(mode))
}

// handleCycleRepeatMode moves to the next repeat mode
func (s *Server) handleCycleRepeatMode(w http.ResponseWriter, r *http.Request) {
	mode, err := s.playlist.CycleRepeatMode()
	if err != nil {
		s.respondWithPlaylistError(w, r, err)
		return
	}
	s.respondJSON(w, repeatResponse(mode))
}

func repeatResponse(mode models.RepeatMode) map[string]interface{} {
	return map[string]interface{}{
		"repeatMode": mode,
		"name":       mode.String(),
	}
}
