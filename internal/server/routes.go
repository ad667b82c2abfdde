package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/gorilla/mux"

	reelerrors "github.com/zsiec/reel/internal/errors"
	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/registry"
	"github.com/zsiec/reel/pkg/version"
)

type openRequest struct {
	Path string `json:"path"`
}

type seekRequest struct {
	Position *float64 `json:"position"`
}

// StatusResponse answers every player endpoint.
type StatusResponse struct {
	State       string         `json:"state"`
	SessionID   string         `json:"session_id,omitempty"`
	Path        string         `json:"path,omitempty"`
	Position    float64        `json:"position"`
	Duration    float64        `json:"duration"`
	ValidVideo  bool           `json:"valid_video"`
	ValidAudio  bool           `json:"valid_audio"`
	FrameWidth  int            `json:"frame_width"`
	FrameHeight int            `json:"frame_height"`
	Stats       playback.Stats `json:"stats"`
}

type sessionsResponse struct {
	Sessions []*registry.Session `json:"sessions"`
	Count    int                 `json:"count"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.writeJSON(w, http.StatusOK, version.GetInfo())
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, reelerrors.NewValidationError("invalid request body"))
		return
	}
	if req.Path == "" {
		s.writeError(w, r, reelerrors.NewValidationError("path is required"))
		return
	}

	if err := s.player.OpenFile(r.Context(), req.Path); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.player.StartDecode(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeStatus(w, http.StatusAccepted)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.player.StopDecode(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, reelerrors.NewValidationError("invalid request body"))
		return
	}
	if req.Position == nil || math.IsInf(*req.Position, 0) {
		s.writeError(w, r, reelerrors.NewValidationError("position is required"))
		return
	}

	if err := s.player.Seek(r.Context(), *req.Position); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.registry.List(r.Context())
	if err != nil {
		s.writeError(w, r, reelerrors.WrapInternalError(err, "failed to list sessions"))
		return
	}
	s.writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrSessionNotFound) {
			s.writeError(w, r, reelerrors.NewNotFoundError("session"))
			return
		}
		s.writeError(w, r, reelerrors.WrapInternalError(err, "failed to get session"))
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) status() StatusResponse {
	st := s.player.Stats()
	return StatusResponse{
		State:       st.State,
		SessionID:   st.SessionID,
		Path:        st.Path,
		Position:    st.Position,
		Duration:    st.Duration,
		ValidVideo:  s.player.ValidVideo(),
		ValidAudio:  s.player.ValidAudio(),
		FrameWidth:  s.player.FrameWidth(),
		FrameHeight: s.player.FrameHeight(),
		Stats:       st,
	}
}

func (s *Server) writeStatus(w http.ResponseWriter, code int) {
	s.writeJSON(w, code, s.status())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
