package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/database"
	"github.com/npezzotti/synqup/internal/stats"
	"github.com/npezzotti/synqup/internal/types"
)

const (
	maxMessageLen       = 2000
	defaultMessageLimit = 100
	maxMessageLimit     = 500
)

type CreateMessageRequest struct {
	Content string `json:"content"`
}

func (s *SynqupApp) listMessages(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.requireMember(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()

	limit := defaultMessageLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			s.writeError(w, NewValidationError("limit must be a positive integer"))
			return
		}
		limit = min(limit, maxMessageLimit)
	}

	var (
		dbMessages []database.Message
		err        error
	)
	if query.Has("after") {
		// paging mode: oldest first, "after=" with no value starts at the beginning
		var after *uuid.UUID
		if v := query.Get("after"); v != "" {
			id, perr := uuid.Parse(v)
			if perr != nil {
				s.writeError(w, NewValidationError("after must be a message id"))
				return
			}
			after = &id
		}
		dbMessages, err = s.db.ListMessagesAfter(r.Context(), scope.roomId, after, limit)
	} else {
		dbMessages, err = s.db.ListMessages(r.Context(), scope.roomId, limit)
	}
	if err != nil {
		s.dbError(w, "ListMessages", err)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, m := range dbMessages {
		messages = append(messages, toMessage(m))
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *SynqupApp) createMessage(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.requireMember(w, r)
	if !ok {
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	content := strings.TrimSpace(req.Content)
	if n := len([]rune(content)); n == 0 || n > maxMessageLen {
		s.writeError(w, NewValidationError("message must be between 1 and 2000 characters"))
		return
	}

	allowed, err := s.limiter.Allow(r.Context(), scope.userId.String()+":"+scope.roomId.String())
	if err != nil {
		// an unavailable limiter does not block chat
		s.log.WithError(err).Warn("rate limiter")
	} else if !allowed {
		s.writeError(w, NewTooManyRequestsError())
		return
	}

	msg, err := s.db.CreateMessage(r.Context(), database.CreateMessageParams{
		RoomId:  scope.roomId,
		UserId:  scope.userId,
		Content: content,
	})
	if err != nil {
		s.dbError(w, "CreateMessage", err)
		return
	}

	s.stats.Incr(stats.NumMessages)
	s.writeJson(w, http.StatusCreated, toMessage(msg))
}
