package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

var _ Repository = (*MockRepository)(nil)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(ctx context.Context, id uuid.UUID) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoomById(ctx context.Context, id uuid.UUID) (Room, error) {
	args := m.Called(id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoomByJoinCode(ctx context.Context, code string) (Room, error) {
	args := m.Called(code)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) ListRoomsForUser(ctx context.Context, userId uuid.UUID) ([]Room, error) {
	args := m.Called(userId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockRepository) CreateMember(ctx context.Context, roomId, userId uuid.UUID, role string) (Member, error) {
	args := m.Called(roomId, userId, role)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockRepository) GetMember(ctx context.Context, roomId, userId uuid.UUID) (Member, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockRepository) GetMemberById(ctx context.Context, id uuid.UUID) (Member, error) {
	args := m.Called(id)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockRepository) ListMembers(ctx context.Context, roomId uuid.UUID) ([]Member, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Member), args.Error(1)
}
func (m *MockRepository) DeleteMember(ctx context.Context, id uuid.UUID) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) ListMessages(ctx context.Context, roomId uuid.UUID, limit int) ([]Message, error) {
	args := m.Called(roomId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) ListMessagesAfter(ctx context.Context, roomId uuid.UUID, after *uuid.UUID, limit int) ([]Message, error) {
	args := m.Called(roomId, after, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) GetMediaSession(ctx context.Context, roomId uuid.UUID) (MediaSession, error) {
	args := m.Called(roomId)
	return args.Get(0).(MediaSession), args.Error(1)
}
func (m *MockRepository) UpsertMediaSession(ctx context.Context, params MediaSessionParams) (MediaSession, error) {
	args := m.Called(params)
	return args.Get(0).(MediaSession), args.Error(1)
}
func (m *MockRepository) UpdateMediaSession(ctx context.Context, id uuid.UUID, params MediaSessionParams) (MediaSession, error) {
	args := m.Called(id, params)
	return args.Get(0).(MediaSession), args.Error(1)
}
func (m *MockRepository) DeleteMediaSession(ctx context.Context, roomId uuid.UUID) error {
	args := m.Called(roomId)
	return args.Error(0)
}
