package database

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	Id           uuid.UUID `db:"id"`
	Username     string    `db:"username"`
	EmailAddress string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type Room struct {
	Id          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	OwnerId     uuid.UUID `db:"owner_id"`
	JoinCode    string    `db:"join_code"`
	CreatedAt   time.Time `db:"created_at"`
}

type Member struct {
	Id       uuid.UUID `db:"id"`
	RoomId   uuid.UUID `db:"room_id"`
	UserId   uuid.UUID `db:"user_id"`
	Username string    `db:"username"`
	Role     string    `db:"role"`
	JoinedAt time.Time `db:"joined_at"`
}

type Message struct {
	Id        uuid.UUID `db:"id"`
	RoomId    uuid.UUID `db:"room_id"`
	UserId    uuid.UUID `db:"user_id"`
	Username  string    `db:"username"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

type MediaSession struct {
	Id              uuid.UUID     `db:"id"`
	RoomId          uuid.UUID     `db:"room_id"`
	MediaUrl        string        `db:"media_url"`
	MediaType       string        `db:"media_type"`
	MediaTitle      string        `db:"media_title"`
	IsPlaying       bool          `db:"is_playing"`
	CurrentPosition float64       `db:"current_position"`
	UpdatedBy       uuid.NullUUID `db:"updated_by"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name        string
	Description string
	OwnerId     uuid.UUID
	JoinCode    string
}

type CreateMessageParams struct {
	RoomId  uuid.UUID
	UserId  uuid.UUID
	Content string
}

// MediaSessionParams carries the writable fields of a media session.
type MediaSessionParams struct {
	RoomId          uuid.UUID
	MediaUrl        string
	MediaType       string
	MediaTitle      string
	IsPlaying       bool
	CurrentPosition float64
	UpdatedBy       uuid.UUID
}
