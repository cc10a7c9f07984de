package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/synqup/internal/database"
	"github.com/npezzotti/synqup/internal/server"
	"github.com/npezzotti/synqup/internal/types"
)

func (s *SynqupApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("json encode")
	}
}

func (s *SynqupApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	s.writeJson(w, errResp.StatusCode, errResp)
}

// dbError maps repository errors onto api errors.
func (s *SynqupApp) dbError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		s.writeError(w, NewNotFoundError())
	case errors.Is(err, database.ErrConflict):
		s.writeError(w, NewConflictError())
	default:
		s.log.WithError(err).Error(op)
		s.writeError(w, NewInternalServerError(err))
	}
}

func (s *SynqupApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.WithError(err).Error("health check")
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func pathId(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// roomScope is the caller's standing in the room named by the request path.
type roomScope struct {
	roomId uuid.UUID
	userId uuid.UUID
	member database.Member
}

func (rs roomScope) isOwner() bool {
	return rs.member.Role == string(types.RoleOwner)
}

// requireMember resolves the room in the path and checks that the caller
// belongs to it. The error response is written on failure.
func (s *SynqupApp) requireMember(w http.ResponseWriter, r *http.Request) (roomScope, bool) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return roomScope{}, false
	}

	roomId, ok := pathId(r, "id")
	if !ok {
		s.writeError(w, NewValidationError("invalid room id"))
		return roomScope{}, false
	}

	member, err := s.db.GetMember(r.Context(), roomId, userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewForbiddenError())
		} else {
			s.dbError(w, "GetMember", err)
		}
		return roomScope{}, false
	}

	return roomScope{roomId: roomId, userId: userId, member: member}, true
}

func (s *SynqupApp) requireOwner(w http.ResponseWriter, r *http.Request) (roomScope, bool) {
	scope, ok := s.requireMember(w, r)
	if !ok {
		return scope, false
	}

	if !scope.isOwner() {
		s.writeError(w, NewForbiddenError())
		return scope, false
	}

	return scope, true
}

func (s *SynqupApp) getProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "id")
	if !ok {
		s.writeError(w, NewValidationError("invalid profile id"))
		return
	}

	user, err := s.db.GetAccountById(r.Context(), id)
	if err != nil {
		s.dbError(w, "GetAccountById", err)
		return
	}

	s.writeJson(w, http.StatusOK, types.Profile{Id: user.Id, Username: user.Username})
}

func (s *SynqupApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("error upgrading connection")
		return
	}

	client := server.NewClient(user, conn, s.fs, s.log)

	s.fs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

func toUser(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func toRoom(r database.Room) types.Room {
	return types.Room{
		Id:          r.Id,
		Name:        r.Name,
		Description: r.Description,
		OwnerId:     r.OwnerId,
		JoinCode:    r.JoinCode,
		CreatedAt:   r.CreatedAt,
	}
}

func toMembership(m database.Member) types.Membership {
	return types.Membership{
		Id:       m.Id,
		RoomId:   m.RoomId,
		UserId:   m.UserId,
		Username: m.Username,
		Role:     types.Role(m.Role),
		JoinedAt: m.JoinedAt,
	}
}

func toMessage(m database.Message) types.Message {
	return types.Message{
		Id:        m.Id,
		RoomId:    m.RoomId,
		UserId:    m.UserId,
		Username:  m.Username,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func toMediaSession(m database.MediaSession) types.MediaSession {
	ms := types.MediaSession{
		Id:              m.Id,
		RoomId:          m.RoomId,
		MediaUrl:        m.MediaUrl,
		MediaType:       m.MediaType,
		MediaTitle:      m.MediaTitle,
		IsPlaying:       m.IsPlaying,
		CurrentPosition: m.CurrentPosition,
		UpdatedAt:       m.UpdatedAt,
		CreatedAt:       m.CreatedAt,
	}
	if m.UpdatedBy.Valid {
		updatedBy := m.UpdatedBy.UUID
		ms.UpdatedBy = &updatedBy
	}
	return ms
}
