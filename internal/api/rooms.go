package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/npezzotti/synqup/internal/database"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
)

const (
	maxRoomNameLen  = 100
	joinCodeRetries = 3
)

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type JoinRoomRequest struct {
	Code string `json:"code"`
}

type JoinRoomResponse struct {
	Room       types.Room       `json:"room"`
	Membership types.Membership `json:"membership"`
	Joined     bool             `json:"joined"`
}

func (s *SynqupApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	dbRooms, err := s.db.ListRoomsForUser(r.Context(), userId)
	if err != nil {
		s.dbError(w, "ListRoomsForUser", err)
		return
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, room := range dbRooms {
		rooms = append(rooms, toRoom(room))
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *SynqupApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len([]rune(req.Name)) > maxRoomNameLen {
		s.writeError(w, NewValidationError("room name must be between 1 and 100 characters"))
		return
	}

	// join codes are short and random, so retry the rare collision
	for range joinCodeRetries {
		code, err := shortid.Generate()
		if err != nil {
			s.log.WithError(err).Error("generate join code")
			s.writeError(w, NewInternalServerError(err))
			return
		}

		room, err := s.db.CreateRoom(r.Context(), database.CreateRoomParams{
			Name:        req.Name,
			Description: strings.TrimSpace(req.Description),
			OwnerId:     userId,
			JoinCode:    code,
		})
		if errors.Is(err, database.ErrConflict) {
			s.log.WithField("code", code).Warn("join code collision")
			continue
		}
		if err != nil {
			s.dbError(w, "CreateRoom", err)
			return
		}

		s.writeJson(w, http.StatusCreated, toRoom(room))
		return
	}

	s.writeError(w, NewConflictError())
}

func (s *SynqupApp) getRoom(w http.ResponseWriter, r *http.Request) {
	roomId, ok := pathId(r, "id")
	if !ok {
		s.writeError(w, NewValidationError("invalid room id"))
		return
	}

	room, err := s.db.GetRoomById(r.Context(), roomId)
	if err != nil {
		s.dbError(w, "GetRoomById", err)
		return
	}

	s.writeJson(w, http.StatusOK, toRoom(room))
}

// joinRoom resolves a join code and adds the caller as a member if they are
// not one already.
func (s *SynqupApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		s.writeError(w, NewValidationError("join code is required"))
		return
	}

	room, err := s.db.GetRoomByJoinCode(r.Context(), code)
	if err != nil {
		s.dbError(w, "GetRoomByJoinCode", err)
		return
	}

	joined := false
	member, err := s.db.GetMember(r.Context(), room.Id, userId)
	if errors.Is(err, database.ErrNotFound) {
		member, err = s.db.CreateMember(r.Context(), room.Id, userId, string(types.RoleMember))
		if errors.Is(err, database.ErrConflict) {
			member, err = s.db.GetMember(r.Context(), room.Id, userId)
		} else if err == nil {
			joined = true
		}
	}
	if err != nil {
		s.dbError(w, "join room", err)
		return
	}

	s.writeJson(w, http.StatusOK, JoinRoomResponse{
		Room:       toRoom(room),
		Membership: toMembership(member),
		Joined:     joined,
	})
}

func (s *SynqupApp) listMembers(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.requireMember(w, r)
	if !ok {
		return
	}

	dbMembers, err := s.db.ListMembers(r.Context(), scope.roomId)
	if err != nil {
		s.dbError(w, "ListMembers", err)
		return
	}

	members := make([]types.Membership, 0, len(dbMembers))
	for _, m := range dbMembers {
		members = append(members, toMembership(m))
	}

	s.writeJson(w, http.StatusOK, members)
}

func (s *SynqupApp) getOwnMembership(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, ok := pathId(r, "id")
	if !ok {
		s.writeError(w, NewValidationError("invalid room id"))
		return
	}

	member, err := s.db.GetMember(r.Context(), roomId, userId)
	if err != nil {
		s.dbError(w, "GetMember", err)
		return
	}

	s.writeJson(w, http.StatusOK, toMembership(member))
}

// createMembership adds the caller to the room as a plain member.
func (s *SynqupApp) createMembership(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, ok := pathId(r, "id")
	if !ok {
		s.writeError(w, NewValidationError("invalid room id"))
		return
	}

	if _, err := s.db.GetRoomById(r.Context(), roomId); err != nil {
		s.dbError(w, "GetRoomById", err)
		return
	}

	member, err := s.db.CreateMember(r.Context(), roomId, userId, string(types.RoleMember))
	if err != nil {
		s.dbError(w, "CreateMember", err)
		return
	}

	s.writeJson(w, http.StatusCreated, toMembership(member))
}

func (s *SynqupApp) removeMember(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	memberId, ok := pathId(r, "memberId")
	if !ok {
		s.writeError(w, NewValidationError("invalid member id"))
		return
	}

	target, err := s.db.GetMemberById(r.Context(), memberId)
	if err != nil {
		s.dbError(w, "GetMemberById", err)
		return
	}

	if target.RoomId != scope.roomId {
		s.writeError(w, NewNotFoundError())
		return
	}

	if target.UserId == scope.userId || target.Role == string(types.RoleOwner) {
		s.writeError(w, NewValidationError("the room owner cannot be removed"))
		return
	}

	if err := s.db.DeleteMember(r.Context(), target.Id); err != nil {
		s.dbError(w, "DeleteMember", err)
		return
	}

	s.log.WithFields(logrus.Fields{"room": scope.roomId, "member": target.Id}).Info("removed member")
	s.writeJson(w, http.StatusNoContent, nil)
}
