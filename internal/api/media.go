package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/npezzotti/synqup/internal/database"
	"github.com/npezzotti/synqup/internal/media"
	"github.com/npezzotti/synqup/internal/stats"
)

const maxMediaTitleLen = 200

type MediaRequest struct {
	MediaUrl        string  `json:"media_url"`
	MediaTitle      string  `json:"media_title"`
	IsPlaying       *bool   `json:"is_playing,omitempty"`
	CurrentPosition float64 `json:"current_position"`
}

// params validates the request and normalizes its URL to the embed form.
func (req MediaRequest) params(scope roomScope) (database.MediaSessionParams, error) {
	src, err := media.Normalize(req.MediaUrl)
	if err != nil {
		return database.MediaSessionParams{}, err
	}

	title := strings.TrimSpace(req.MediaTitle)
	if len([]rune(title)) > maxMediaTitleLen {
		return database.MediaSessionParams{}, errors.New("media title is too long")
	}
	if req.CurrentPosition < 0 {
		return database.MediaSessionParams{}, errors.New("position cannot be negative")
	}

	playing := true
	if req.IsPlaying != nil {
		playing = *req.IsPlaying
	}

	return database.MediaSessionParams{
		RoomId:          scope.roomId,
		MediaUrl:        src.EmbedUrl,
		MediaType:       src.Type,
		MediaTitle:      title,
		IsPlaying:       playing,
		CurrentPosition: req.CurrentPosition,
		UpdatedBy:       scope.userId,
	}, nil
}

func (s *SynqupApp) getMedia(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.requireMember(w, r)
	if !ok {
		return
	}

	session, err := s.db.GetMediaSession(r.Context(), scope.roomId)
	if err != nil {
		s.dbError(w, "GetMediaSession", err)
		return
	}

	s.writeJson(w, http.StatusOK, toMediaSession(session))
}

func (s *SynqupApp) decodeMedia(w http.ResponseWriter, r *http.Request, scope roomScope) (database.MediaSessionParams, bool) {
	var req MediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return database.MediaSessionParams{}, false
	}

	params, err := req.params(scope)
	if err != nil {
		s.writeError(w, NewValidationError(err.Error()))
		return database.MediaSessionParams{}, false
	}

	return params, true
}

// upsertMedia sets the room's media session, creating it when the room has
// none yet.
func (s *SynqupApp) upsertMedia(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	params, ok := s.decodeMedia(w, r, scope)
	if !ok {
		return
	}

	session, err := s.db.UpsertMediaSession(r.Context(), params)
	if err != nil {
		s.dbError(w, "UpsertMediaSession", err)
		return
	}

	s.stats.Incr(stats.NumMediaUpdates)
	s.writeJson(w, http.StatusOK, toMediaSession(session))
}

func (s *SynqupApp) updateMedia(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	mediaId, ok := pathId(r, "mediaId")
	if !ok {
		s.writeError(w, NewValidationError("invalid media session id"))
		return
	}

	params, ok := s.decodeMedia(w, r, scope)
	if !ok {
		return
	}

	session, err := s.db.UpdateMediaSession(r.Context(), mediaId, params)
	if err != nil {
		s.dbError(w, "UpdateMediaSession", err)
		return
	}

	s.stats.Incr(stats.NumMediaUpdates)
	s.writeJson(w, http.StatusOK, toMediaSession(session))
}

func (s *SynqupApp) deleteMedia(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	if err := s.db.DeleteMediaSession(r.Context(), scope.roomId); err != nil {
		s.dbError(w, "DeleteMediaSession", err)
		return
	}

	s.stats.Incr(stats.NumMediaUpdates)
	s.writeJson(w, http.StatusNoContent, nil)
}
