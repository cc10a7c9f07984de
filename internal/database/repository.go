package database

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, id uuid.UUID) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoomById(ctx context.Context, id uuid.UUID) (Room, error)
	GetRoomByJoinCode(ctx context.Context, code string) (Room, error)
	ListRoomsForUser(ctx context.Context, userId uuid.UUID) ([]Room, error)
	CreateMember(ctx context.Context, roomId, userId uuid.UUID, role string) (Member, error)
	GetMember(ctx context.Context, roomId, userId uuid.UUID) (Member, error)
	GetMemberById(ctx context.Context, id uuid.UUID) (Member, error)
	ListMembers(ctx context.Context, roomId uuid.UUID) ([]Member, error)
	DeleteMember(ctx context.Context, id uuid.UUID) error
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	ListMessages(ctx context.Context, roomId uuid.UUID, limit int) ([]Message, error)
	ListMessagesAfter(ctx context.Context, roomId uuid.UUID, after *uuid.UUID, limit int) ([]Message, error)
	GetMediaSession(ctx context.Context, roomId uuid.UUID) (MediaSession, error)
	UpsertMediaSession(ctx context.Context, params MediaSessionParams) (MediaSession, error)
	UpdateMediaSession(ctx context.Context, id uuid.UUID, params MediaSessionParams) (MediaSession, error)
	DeleteMediaSession(ctx context.Context, roomId uuid.UUID) error
}
