// Package reconciler keeps one room's membership, chat and media session
// consistent for a single viewer. It merges the initial reads, the viewer's
// own writes and change feed events into one ordered, duplicate free state.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/media"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. Output is discarded by default.
func WithLogger(l *logrus.Logger) Option {
	return func(r *Reconciler) {
		r.log = l.WithField("component", "reconciler")
	}
}

// WithPlayer sets the playback surface driven by media changes.
func WithPlayer(p Player) Option {
	return func(r *Reconciler) {
		r.player = p
	}
}

// WithListener sets the receiver of state snapshots and notices.
func WithListener(l Listener) Option {
	return func(r *Reconciler) {
		r.listener = l
	}
}

// Reconciler serves a single room view. It cannot be reused once torn down.
type Reconciler struct {
	session  Session
	deps     Deps
	log      *logrus.Entry
	player   Player
	listener Listener

	// ctx is cancelled on teardown so in-flight calls stop early
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	user        types.User
	roomId      uuid.UUID
	started     bool
	ready       bool
	closed      bool
	subs        []types.Subscription
	names       map[uuid.UUID]string
	mediaAt     time.Time
	issueShown  bool
	detachAuth  func()
	notifyMu    sync.Mutex
	teardownOne sync.Once
}

// New creates a Reconciler and starts following session; sign out tears it down.
func New(session Session, deps Deps, opts ...Option) (*Reconciler, error) {
	if session == nil {
		return nil, errors.New("session must not be nil")
	}
	if deps.Rooms == nil || deps.Messages == nil || deps.Media == nil || deps.Feed == nil {
		return nil, errors.New("rooms, messages, media and feed are required")
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r := &Reconciler{
		session: session,
		deps:    deps,
		log:     logger.WithField("component", "reconciler"),
		player:  nopPlayer{},
		names:   make(map[uuid.UUID]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.detachAuth = session.OnChange(func(ev types.SessionEvent) {
		if ev.Type == types.SignedOut {
			r.log.Info("signed out, leaving room")
			r.Teardown()
		}
	})

	return r, nil
}

// State returns a copy of the current state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// Initialize loads the room, makes sure the current user is a member, loads
// the media session, messages and members, and only then subscribes to the
// room's changes. On failure nothing stays subscribed and the state is reset.
func (r *Reconciler) Initialize(ctx context.Context, roomId uuid.UUID) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("initialize: room %s already loaded", r.roomId)
	}
	r.started = true
	r.roomId = roomId
	r.state.Loading = true
	r.mu.Unlock()
	r.notify()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	if err := r.load(ctx, roomId); err != nil {
		return r.abort(err)
	}
	if err := r.subscribe(ctx, roomId); err != nil {
		return r.abort(err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.state.Loading = false
	r.mu.Unlock()
	r.notify()

	r.log.WithField("room", roomId).Info("room ready")
	return nil
}

func (r *Reconciler) load(ctx context.Context, roomId uuid.UUID) error {
	user, ok := r.session.User()
	if !ok {
		return fmt.Errorf("load room: %w: not signed in", ErrUnauthorized)
	}

	room, err := r.deps.Rooms.GetRoom(ctx, roomId)
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}

	membership, err := r.ensureMembership(ctx, roomId)
	if err != nil {
		return fmt.Errorf("ensure membership: %w", err)
	}

	var (
		session  *types.MediaSession
		messages []types.Message
		members  []types.Membership
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ms, err := r.deps.Media.GetMediaSession(gctx, roomId)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("get media session: %w", err)
		}
		session = ms
		return nil
	})
	g.Go(func() error {
		msgs, err := r.deps.Messages.ListMessages(gctx, roomId)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		messages = msgs
		return nil
	})
	g.Go(func() error {
		mems, err := r.deps.Rooms.ListMembers(gctx, roomId)
		if err != nil {
			return fmt.Errorf("list members: %w", err)
		}
		members = mems
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	r.user = user
	r.state.Room = room
	r.state.Membership = membership
	r.state.IsOwner = membership.IsOwner()
	r.state.Members = members
	r.state.Messages = messages
	r.state.MediaSession = session
	if session != nil {
		r.mediaAt = session.UpdatedAt
	}
	r.names[user.Id] = user.Username
	for _, m := range members {
		if m.Username != "" {
			r.names[m.UserId] = m.Username
		}
	}
	for _, m := range messages {
		if m.Username != "" {
			r.names[m.UserId] = m.Username
		}
	}
	r.ready = true

	return nil
}

// ensureMembership returns the caller's membership, joining as a member when
// there is none. A concurrent join of the same user surfaces as a conflict
// and is resolved by reading the row the other request wrote.
func (r *Reconciler) ensureMembership(ctx context.Context, roomId uuid.UUID) (*types.Membership, error) {
	m, err := r.deps.Rooms.GetMembership(ctx, roomId)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := r.deps.Rooms.CreateMembership(ctx, roomId); err != nil && !errors.Is(err, ErrConflict) {
		return nil, err
	}

	return r.deps.Rooms.GetMembership(ctx, roomId)
}

func (r *Reconciler) subscribe(ctx context.Context, roomId uuid.UUID) error {
	handlers := []struct {
		table   string
		onEvent func(types.ChangeEvent)
	}{
		{types.TableMessages, r.onMessageEvent},
		{types.TableMediaSessions, r.onMediaEvent},
		{types.TableRoomMembers, r.onMemberEvent},
	}

	for _, h := range handlers {
		filter := types.FeedFilter{Table: h.table, RoomId: roomId, ExcludeSelf: true}
		sub, err := r.deps.Feed.Subscribe(ctx, filter, h.onEvent, r.onFeedError)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", h.table, err)
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			r.unsubscribe(sub)
			return ErrClosed
		}
		r.subs = append(r.subs, sub)
		r.mu.Unlock()
	}

	return nil
}

// abort releases whatever Initialize acquired and reports err.
func (r *Reconciler) abort(err error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	subs := r.subs
	r.subs = nil
	r.state = State{}
	r.ready = false
	r.mediaAt = time.Time{}
	r.mu.Unlock()

	for _, sub := range subs {
		r.unsubscribe(sub)
	}

	r.log.WithError(err).Error("failed to open room")
	r.emitNotice(Notice{Level: NoticeError, Message: "Could not open the room: " + describe(err)})
	r.notify()

	return err
}

// SendMessage posts text to the room. The returned row is appended once; the
// feed event for it is recognised as the user's own and dropped. On failure
// the state is unchanged so the caller can keep the input for a retry.
func (r *Reconciler) SendMessage(ctx context.Context, text string) (*types.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("send message: %w: message is empty", ErrValidation)
	}

	r.mu.Lock()
	if err := r.usableLocked(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if r.state.Sending {
		r.mu.Unlock()
		return nil, ErrSendInProgress
	}
	r.state.Sending = true
	roomId := r.roomId
	r.mu.Unlock()
	r.notify()

	msg, err := r.deps.Messages.CreateMessage(ctx, roomId, text)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
	r.state.Sending = false
	if err == nil {
		if msg.Username == "" {
			msg.Username = r.user.Username
		}
		r.appendMessageLocked(*msg)
	}
	r.mu.Unlock()
	r.notify()

	if err != nil {
		r.log.WithError(err).Warn("failed to send message")
		r.emitNotice(Notice{Level: NoticeError, Message: "Message not sent: " + describe(err)})
		return nil, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// SetMedia points the room at a new video. Only the owner may do this. The
// existing session is updated in place; a new one is created when the room
// has none. The owner's state takes the write result as authoritative.
func (r *Reconciler) SetMedia(ctx context.Context, rawUrl string) (*types.MediaSession, error) {
	r.mu.Lock()
	if err := r.usableLocked(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if !r.state.IsOwner {
		r.mu.Unlock()
		return nil, fmt.Errorf("set media: %w: only the owner can change the video", ErrUnauthorized)
	}
	roomId := r.roomId
	var current *types.MediaSession
	if r.state.MediaSession != nil {
		current = clonePtr(r.state.MediaSession)
	}
	r.mu.Unlock()

	src, err := media.Normalize(rawUrl)
	if err != nil {
		return nil, fmt.Errorf("set media: %w: %w", ErrValidation, err)
	}

	in := types.MediaInput{
		MediaUrl:        src.EmbedUrl,
		IsPlaying:       true,
		CurrentPosition: 0,
	}

	var ms *types.MediaSession
	if current != nil {
		ms, err = r.deps.Media.UpdateMediaSession(ctx, roomId, current.Id, in)
		if errors.Is(err, ErrNotFound) {
			// removed elsewhere since it was loaded
			ms, err = r.deps.Media.CreateMediaSession(ctx, roomId, in)
		}
	} else {
		ms, err = r.deps.Media.CreateMediaSession(ctx, roomId, in)
	}
	if err != nil {
		r.log.WithError(err).Warn("failed to set media")
		r.emitNotice(Notice{Level: NoticeError, Message: "Could not change the video: " + describe(err)})
		return nil, fmt.Errorf("set media: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ms, nil
	}
	r.state.MediaSession = clonePtr(ms)
	r.mediaAt = ms.UpdatedAt
	r.mu.Unlock()

	r.player.Load(ms.MediaUrl)
	r.notify()

	r.log.WithFields(logrus.Fields{
		"room":  roomId,
		"video": src.VideoId,
	}).Info("media set")
	return ms, nil
}

// StopMedia removes the room's media session. Owner only.
func (r *Reconciler) StopMedia(ctx context.Context) error {
	r.mu.Lock()
	if err := r.usableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if !r.state.IsOwner {
		r.mu.Unlock()
		return fmt.Errorf("stop media: %w: only the owner can stop the video", ErrUnauthorized)
	}
	roomId := r.roomId
	r.mu.Unlock()

	if err := r.deps.Media.DeleteMediaSession(ctx, roomId); err != nil && !errors.Is(err, ErrNotFound) {
		r.emitNotice(Notice{Level: NoticeError, Message: "Could not stop the video: " + describe(err)})
		return fmt.Errorf("stop media: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.state.MediaSession = nil
	r.mu.Unlock()

	r.player.Stop()
	r.notify()
	return nil
}

// RemoveMember evicts a member. Owner only; removing yourself is a no-op.
// When memberId is in the local member list, its user id wins over
// targetUserId. The local member list is filtered once the delete succeeds
// and the feed event for the same row is then ignored.
func (r *Reconciler) RemoveMember(ctx context.Context, memberId, targetUserId uuid.UUID) error {
	r.mu.Lock()
	if err := r.usableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if !r.state.IsOwner {
		r.mu.Unlock()
		return fmt.Errorf("remove member: %w: only the owner can remove members", ErrUnauthorized)
	}
	if r.isSelfLocked(memberId, targetUserId) {
		r.mu.Unlock()
		return nil
	}
	roomId := r.roomId
	r.mu.Unlock()

	if err := r.deps.Rooms.RemoveMember(ctx, roomId, memberId); err != nil {
		r.emitNotice(Notice{Level: NoticeError, Message: "Could not remove member: " + describe(err)})
		return fmt.Errorf("remove member: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.removeMemberLocked(memberId)
	r.mu.Unlock()

	r.notify()
	return nil
}

// Teardown closes every subscription, clears the state and stops following
// the session. It is safe to call any number of times.
func (r *Reconciler) Teardown() {
	r.teardownOne.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.ready = false
		subs := r.subs
		r.subs = nil
		r.state = State{}
		r.names = make(map[uuid.UUID]string)
		r.mu.Unlock()

		r.cancel()
		if r.detachAuth != nil {
			r.detachAuth()
		}
		for _, sub := range subs {
			r.unsubscribe(sub)
		}

		r.log.WithField("room", r.roomId).Debug("room torn down")
	})
}

func (r *Reconciler) unsubscribe(sub types.Subscription) {
	if err := sub.Unsubscribe(); err != nil {
		r.log.WithError(err).Debug("unsubscribe")
	}
}

func (r *Reconciler) usableLocked() error {
	if r.closed {
		return ErrClosed
	}
	if !r.ready {
		return ErrNotLoaded
	}
	return nil
}

// isSelfLocked reports whether the membership row belongs to the current user.
func (r *Reconciler) isSelfLocked(memberId, targetUserId uuid.UUID) bool {
	if r.state.Membership != nil && memberId == r.state.Membership.Id {
		return true
	}
	for _, m := range r.state.Members {
		if m.Id == memberId {
			return m.UserId == r.user.Id
		}
	}
	return targetUserId == r.user.Id
}

func (r *Reconciler) appendMessageLocked(msg types.Message) bool {
	for _, m := range r.state.Messages {
		if m.Id == msg.Id {
			return false
		}
	}
	r.state.Messages = append(r.state.Messages, msg)
	if msg.Username != "" {
		r.names[msg.UserId] = msg.Username
	}
	return true
}

func (r *Reconciler) removeMemberLocked(memberId uuid.UUID) (types.Membership, bool) {
	for i, m := range r.state.Members {
		if m.Id == memberId {
			r.state.Members = append(r.state.Members[:i:i], r.state.Members[i+1:]...)
			return m, true
		}
	}
	return types.Membership{}, false
}

func (r *Reconciler) notify() {
	if r.listener == nil {
		return
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	closed := r.closed
	snap := r.state.clone()
	r.mu.Unlock()

	if !closed {
		r.listener.StateChanged(snap)
	}
}

func (r *Reconciler) emitNotice(n Notice) {
	if r.listener != nil {
		r.listener.Notice(n)
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrUnauthorized):
		return "not allowed"
	case errors.Is(err, ErrValidation):
		return "invalid input"
	case errors.Is(err, ErrTransport):
		return "connection issue"
	case errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		return "cancelled"
	}
	return err.Error()
}
