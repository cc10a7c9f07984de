package reconciler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetRoom(ctx context.Context, roomId uuid.UUID) (*types.Room, error) {
	args := m.Called(roomId)
	room, _ := args.Get(0).(*types.Room)
	return room, args.Error(1)
}

func (m *mockStore) GetMembership(ctx context.Context, roomId uuid.UUID) (*types.Membership, error) {
	args := m.Called(roomId)
	mem, _ := args.Get(0).(*types.Membership)
	return mem, args.Error(1)
}

func (m *mockStore) CreateMembership(ctx context.Context, roomId uuid.UUID) (*types.Membership, error) {
	args := m.Called(roomId)
	mem, _ := args.Get(0).(*types.Membership)
	return mem, args.Error(1)
}

func (m *mockStore) ListMembers(ctx context.Context, roomId uuid.UUID) ([]types.Membership, error) {
	args := m.Called(roomId)
	members, _ := args.Get(0).([]types.Membership)
	return members, args.Error(1)
}

func (m *mockStore) RemoveMember(ctx context.Context, roomId, memberId uuid.UUID) error {
	args := m.Called(roomId, memberId)
	return args.Error(0)
}

func (m *mockStore) ListMessages(ctx context.Context, roomId uuid.UUID) ([]types.Message, error) {
	args := m.Called(roomId)
	msgs, _ := args.Get(0).([]types.Message)
	return msgs, args.Error(1)
}

func (m *mockStore) CreateMessage(ctx context.Context, roomId uuid.UUID, content string) (*types.Message, error) {
	args := m.Called(roomId, content)
	msg, _ := args.Get(0).(*types.Message)
	return msg, args.Error(1)
}

func (m *mockStore) GetMediaSession(ctx context.Context, roomId uuid.UUID) (*types.MediaSession, error) {
	args := m.Called(roomId)
	ms, _ := args.Get(0).(*types.MediaSession)
	return ms, args.Error(1)
}

func (m *mockStore) CreateMediaSession(ctx context.Context, roomId uuid.UUID, in types.MediaInput) (*types.MediaSession, error) {
	args := m.Called(roomId, in)
	ms, _ := args.Get(0).(*types.MediaSession)
	return ms, args.Error(1)
}

func (m *mockStore) UpdateMediaSession(ctx context.Context, roomId, mediaId uuid.UUID, in types.MediaInput) (*types.MediaSession, error) {
	args := m.Called(roomId, mediaId, in)
	ms, _ := args.Get(0).(*types.MediaSession)
	return ms, args.Error(1)
}

func (m *mockStore) DeleteMediaSession(ctx context.Context, roomId uuid.UUID) error {
	args := m.Called(roomId)
	return args.Error(0)
}

func (m *mockStore) GetProfile(ctx context.Context, userId uuid.UUID) (*types.Profile, error) {
	args := m.Called(userId)
	p, _ := args.Get(0).(*types.Profile)
	return p, args.Error(1)
}

type fakeSession struct {
	mu        sync.Mutex
	user      *types.User
	listeners map[int]func(types.SessionEvent)
	next      int
}

func newFakeSession(user *types.User) *fakeSession {
	return &fakeSession{user: user, listeners: make(map[int]func(types.SessionEvent))}
}

func (s *fakeSession) User() (types.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return types.User{}, false
	}
	return *s.user, true
}

func (s *fakeSession) OnChange(fn func(types.SessionEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *fakeSession) emit(ev types.SessionEvent) {
	s.mu.Lock()
	var fns []func(types.SessionEvent)
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *fakeSession) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

type fakeSub struct {
	filter  types.FeedFilter
	onEvent func(types.ChangeEvent)
	onError func(error)

	mu     sync.Mutex
	closes int
}

func (s *fakeSub) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSub) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// fakeFeed hands events straight to the registered callbacks.
type fakeFeed struct {
	mu     sync.Mutex
	subs   []*fakeSub
	failOn string
}

func (f *fakeFeed) Subscribe(ctx context.Context, filter types.FeedFilter, onEvent func(types.ChangeEvent), onError func(error)) (types.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filter.Table == f.failOn {
		return nil, types.ErrTransport
	}
	sub := &fakeSub{filter: filter, onEvent: onEvent, onError: onError}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) sub(table string) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.filter.Table == table {
			return s
		}
	}
	return nil
}

func (f *fakeFeed) all() []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSub(nil), f.subs...)
}

func (f *fakeFeed) emit(t *testing.T, ev types.ChangeEvent) {
	t.Helper()
	s := f.sub(ev.Table)
	require.NotNil(t, s, "no subscription for %s", ev.Table)
	s.onEvent(ev)
}

type fakePlayer struct {
	mu    sync.Mutex
	loads []string
	stops int
}

func (p *fakePlayer) Load(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads = append(p.loads, url)
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePlayer) loaded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.loads...)
}

func (p *fakePlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

type recordingListener struct {
	mu      sync.Mutex
	states  []State
	notices []Notice
}

func (l *recordingListener) StateChanged(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *recordingListener) Notice(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *recordingListener) noticeList() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notice(nil), l.notices...)
}

func rowEvent(t *testing.T, table string, typ types.ChangeType, roomId uuid.UUID, row any) types.ChangeEvent {
	t.Helper()
	data, err := json.Marshal(row)
	require.NoError(t, err)

	ev := types.ChangeEvent{Table: table, Type: typ, RoomId: roomId}
	if typ == types.ChangeDelete {
		ev.Old = data
	} else {
		ev.New = data
	}
	return ev
}
