package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/sirupsen/logrus"
)

const profileLookupTimeout = 5 * time.Second

// onMessageEvent appends messages written by other users. The current
// user's own messages were appended from the write result already.
func (r *Reconciler) onMessageEvent(ev types.ChangeEvent) {
	if ev.Type != types.ChangeInsert {
		return
	}

	var msg types.Message
	if err := ev.Row(&msg); err != nil {
		r.log.WithError(err).Warn("malformed message event")
		return
	}

	r.mu.Lock()
	if !r.acceptsLocked(ev) || msg.UserId == r.user.Id || r.hasMessageLocked(msg.Id) {
		r.mu.Unlock()
		return
	}
	name, known := r.names[msg.UserId]
	r.mu.Unlock()

	if msg.Username == "" {
		if !known {
			name = r.lookupUsername(msg.UserId)
		}
		msg.Username = name
	}

	r.mu.Lock()
	// the lookup may have raced teardown or another delivery
	if !r.acceptsLocked(ev) || !r.appendMessageLocked(msg) {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.notify()
}

// onMediaEvent applies media session changes made by others. Events that are
// not strictly newer than the applied session are duplicates or stale.
func (r *Reconciler) onMediaEvent(ev types.ChangeEvent) {
	var ms types.MediaSession
	if err := ev.Row(&ms); err != nil {
		r.log.WithError(err).Warn("malformed media event")
		return
	}

	if ev.Type == types.ChangeDelete {
		r.onMediaDeleted(ms)
		return
	}

	r.mu.Lock()
	if !r.acceptsLocked(ev) {
		r.mu.Unlock()
		return
	}
	if ms.UpdatedBy != nil && *ms.UpdatedBy == r.user.Id {
		r.mu.Unlock()
		return
	}
	if !ms.UpdatedAt.After(r.mediaAt) {
		r.log.WithFields(logrus.Fields{
			"updated_at": ms.UpdatedAt,
			"applied_at": r.mediaAt,
		}).Debug("dropping stale media event")
		r.mu.Unlock()
		return
	}
	r.state.MediaSession = &ms
	r.mediaAt = ms.UpdatedAt
	isOwner := r.state.IsOwner
	r.mu.Unlock()

	if !isOwner {
		r.player.Load(ms.MediaUrl)
		title := ms.MediaTitle
		if title == "" {
			title = "a new video"
		}
		r.emitNotice(Notice{Level: NoticeInfo, Message: "Now playing " + title})
	}
	r.notify()
}

func (r *Reconciler) onMediaDeleted(old types.MediaSession) {
	r.mu.Lock()
	if r.closed || !r.ready || old.RoomId != r.roomId {
		r.mu.Unlock()
		return
	}
	if r.state.MediaSession == nil || r.state.MediaSession.Id != old.Id {
		r.mu.Unlock()
		return
	}
	r.state.MediaSession = nil
	isOwner := r.state.IsOwner
	r.mu.Unlock()

	if !isOwner {
		r.player.Stop()
		r.emitNotice(Notice{Level: NoticeInfo, Message: "The owner stopped playback"})
	}
	r.notify()
}

// onMemberEvent keeps the member list current. Losing the current user's
// own membership means the owner removed them.
func (r *Reconciler) onMemberEvent(ev types.ChangeEvent) {
	var m types.Membership
	if err := ev.Row(&m); err != nil {
		r.log.WithError(err).Warn("malformed membership event")
		return
	}

	switch ev.Type {
	case types.ChangeInsert:
		r.mu.Lock()
		if !r.acceptsLocked(ev) || r.hasMemberLocked(m.Id) {
			r.mu.Unlock()
			return
		}
		name, known := r.names[m.UserId]
		r.mu.Unlock()

		if m.Username == "" {
			if !known {
				name = r.lookupUsername(m.UserId)
			}
			m.Username = name
		}

		r.mu.Lock()
		if !r.acceptsLocked(ev) || r.hasMemberLocked(m.Id) {
			r.mu.Unlock()
			return
		}
		r.state.Members = append(r.state.Members, m)
		if m.Username != "" {
			r.names[m.UserId] = m.Username
		}
		r.mu.Unlock()
		r.notify()

	case types.ChangeDelete:
		r.mu.Lock()
		if !r.acceptsLocked(ev) {
			r.mu.Unlock()
			return
		}
		_, removed := r.removeMemberLocked(m.Id)
		self := m.UserId == r.user.Id
		if self {
			r.state.Evicted = true
		}
		r.mu.Unlock()

		if self {
			r.log.WithField("room", ev.RoomId).Info("removed from room")
			r.emitNotice(Notice{Level: NoticeError, Message: "You were removed from this room", Persistent: true})
		}
		if removed || self {
			r.notify()
		}
	}
}

// onFeedError marks the view as disconnected. The view stays up; the user
// is expected to reload.
func (r *Reconciler) onFeedError(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	var notice *Notice
	if errors.Is(err, ErrUnauthorized) {
		if !r.state.Evicted {
			r.state.Evicted = true
			notice = &Notice{Level: NoticeError, Message: "You were removed from this room", Persistent: true}
		}
	} else {
		r.state.ConnectionIssue = true
		if !r.issueShown {
			r.issueShown = true
			notice = &Notice{Level: NoticeError, Message: "Connection issue: live updates stopped, reload the room", Persistent: true}
		}
	}
	r.mu.Unlock()

	r.log.WithError(err).Warn("change feed error")
	if notice != nil {
		r.emitNotice(*notice)
	}
	r.notify()
}

func (r *Reconciler) acceptsLocked(ev types.ChangeEvent) bool {
	return !r.closed && r.ready && ev.RoomId == r.roomId
}

func (r *Reconciler) hasMessageLocked(id uuid.UUID) bool {
	for _, m := range r.state.Messages {
		if m.Id == id {
			return true
		}
	}
	return false
}

func (r *Reconciler) hasMemberLocked(id uuid.UUID) bool {
	for _, m := range r.state.Members {
		if m.Id == id {
			return true
		}
	}
	return false
}

// lookupUsername resolves a display name through the profile store. An
// unknown name is returned empty.
func (r *Reconciler) lookupUsername(userId uuid.UUID) string {
	if r.deps.Profiles == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(r.ctx, profileLookupTimeout)
	defer cancel()

	p, err := r.deps.Profiles.GetProfile(ctx, userId)
	if err != nil {
		r.log.WithError(err).WithField("user_id", userId).Debug("profile lookup failed")
		return ""
	}

	r.mu.Lock()
	r.names[userId] = p.Username
	r.mu.Unlock()

	return p.Username
}
