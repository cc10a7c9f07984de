package reconciler

import (
	"slices"

	"github.com/npezzotti/synqup/internal/types"
)

// State is a snapshot of one room as seen by the current user. Messages are
// oldest first.
type State struct {
	Room            *types.Room
	Membership      *types.Membership
	IsOwner         bool
	Members         []types.Membership
	Messages        []types.Message
	MediaSession    *types.MediaSession
	Loading         bool
	Sending         bool
	ConnectionIssue bool
	Evicted         bool
}

func (s State) clone() State {
	c := s
	c.Room = clonePtr(s.Room)
	c.Membership = clonePtr(s.Membership)
	c.MediaSession = clonePtr(s.MediaSession)
	if c.MediaSession != nil {
		c.MediaSession.UpdatedBy = clonePtr(s.MediaSession.UpdatedBy)
	}
	c.Members = slices.Clone(s.Members)
	c.Messages = slices.Clone(s.Messages)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NoticeLevel tells the view how to style a notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a message for the user. Persistent notices stay visible until
// the room is left.
type Notice struct {
	Level      NoticeLevel
	Message    string
	Persistent bool
}
