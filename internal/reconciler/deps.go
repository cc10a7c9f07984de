package reconciler

import (
	"context"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/types"
)

// Session exposes the signed-in user and notifies on auth changes.
type Session interface {
	User() (types.User, bool)
	OnChange(fn func(types.SessionEvent)) (cancel func())
}

// RoomStore reads rooms and manages the caller's and others' memberships.
type RoomStore interface {
	GetRoom(ctx context.Context, roomId uuid.UUID) (*types.Room, error)
	GetMembership(ctx context.Context, roomId uuid.UUID) (*types.Membership, error)
	CreateMembership(ctx context.Context, roomId uuid.UUID) (*types.Membership, error)
	ListMembers(ctx context.Context, roomId uuid.UUID) ([]types.Membership, error)
	RemoveMember(ctx context.Context, roomId, memberId uuid.UUID) error
}

// MessageStore lists a room's full history, oldest first, and sends messages.
type MessageStore interface {
	ListMessages(ctx context.Context, roomId uuid.UUID) ([]types.Message, error)
	CreateMessage(ctx context.Context, roomId uuid.UUID, content string) (*types.Message, error)
}

// MediaStore manages the single media session of a room.
type MediaStore interface {
	GetMediaSession(ctx context.Context, roomId uuid.UUID) (*types.MediaSession, error)
	CreateMediaSession(ctx context.Context, roomId uuid.UUID, in types.MediaInput) (*types.MediaSession, error)
	UpdateMediaSession(ctx context.Context, roomId, mediaId uuid.UUID, in types.MediaInput) (*types.MediaSession, error)
	DeleteMediaSession(ctx context.Context, roomId uuid.UUID) error
}

// ProfileStore resolves usernames for authors the view has not seen yet.
type ProfileStore interface {
	GetProfile(ctx context.Context, userId uuid.UUID) (*types.Profile, error)
}

// Feed opens change feed subscriptions. onEvent and onError may be called
// from any goroutine but never concurrently for one subscription.
type Feed interface {
	Subscribe(ctx context.Context, filter types.FeedFilter, onEvent func(types.ChangeEvent), onError func(error)) (types.Subscription, error)
}

// Deps are the collaborators a Reconciler reads from and writes to.
// Profiles is optional.
type Deps struct {
	Rooms    RoomStore
	Messages MessageStore
	Media    MediaStore
	Profiles ProfileStore
	Feed     Feed
}

// Player is the local playback surface. Only the source is shared between
// viewers; play, pause and seek stay local.
type Player interface {
	Load(url string)
	Stop()
}

// Listener receives state snapshots and user facing notices.
type Listener interface {
	StateChanged(State)
	Notice(Notice)
}

type nopPlayer struct{}

func (nopPlayer) Load(string) {}
func (nopPlayer) Stop()       {}
