package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

type User struct {
	Id           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Profile is the public view of a user.
type Profile struct {
	Id       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

type Room struct {
	Id          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerId     uuid.UUID `json:"owner_id"`
	JoinCode    string    `json:"join_code"`
	CreatedAt   time.Time `json:"created_at"`
}

type Membership struct {
	Id       uuid.UUID `json:"id"`
	RoomId   uuid.UUID `json:"room_id"`
	UserId   uuid.UUID `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

func (m Membership) IsOwner() bool {
	return m.Role == RoleOwner
}

type Message struct {
	Id        uuid.UUID `json:"id"`
	RoomId    uuid.UUID `json:"room_id"`
	UserId    uuid.UUID `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type MediaSession struct {
	Id              uuid.UUID  `json:"id"`
	RoomId          uuid.UUID  `json:"room_id"`
	MediaUrl        string     `json:"media_url"`
	MediaType       string     `json:"media_type"`
	MediaTitle      string     `json:"media_title"`
	IsPlaying       bool       `json:"is_playing"`
	CurrentPosition float64    `json:"current_position"`
	UpdatedBy       *uuid.UUID `json:"updated_by,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Tables that publish row changes to the change feed.
const (
	TableMessages      = "messages"
	TableMediaSessions = "media_sessions"
	TableRoomMembers   = "room_members"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent describes one row-level change. Old is set for updates and
// deletes, New for inserts and updates. ActorId is the user responsible for
// the write when the table records one.
type ChangeEvent struct {
	Table   string          `json:"table"`
	Type    ChangeType      `json:"type"`
	RoomId  uuid.UUID       `json:"room_id"`
	ActorId *uuid.UUID      `json:"actor_id,omitempty"`
	Old     json.RawMessage `json:"old,omitempty"`
	New     json.RawMessage `json:"new,omitempty"`
}

// ActedBy reports whether the change was written by userId.
func (e ChangeEvent) ActedBy(userId uuid.UUID) bool {
	return e.ActorId != nil && *e.ActorId == userId
}

// Row decodes the most recent version of the changed row into v.
func (e ChangeEvent) Row(v any) error {
	if len(e.New) > 0 && string(e.New) != "null" {
		return json.Unmarshal(e.New, v)
	}
	return json.Unmarshal(e.Old, v)
}

// FeedFilter scopes a change feed subscription to one table of one room.
type FeedFilter struct {
	Table       string    `json:"table"`
	RoomId      uuid.UUID `json:"room_id"`
	ExcludeSelf bool      `json:"exclude_self"`
}

type AuthEvent string

const (
	SignedIn       AuthEvent = "SIGNED_IN"
	SignedOut      AuthEvent = "SIGNED_OUT"
	TokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// SessionEvent is emitted by a session whenever its auth state changes.
// User is nil after sign out.
type SessionEvent struct {
	Type AuthEvent
	User *User
}

// MediaInput is the writable part of a media session.
type MediaInput struct {
	MediaUrl        string  `json:"media_url"`
	MediaTitle      string  `json:"media_title,omitempty"`
	IsPlaying       bool    `json:"is_playing"`
	CurrentPosition float64 `json:"current_position"`
}

// Subscription is a live change feed registration. Unsubscribe is safe to
// call more than once.
type Subscription interface {
	Unsubscribe() error
}
