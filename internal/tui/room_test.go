package tui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/reconciler"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoom struct {
	mu       sync.Mutex
	state    reconciler.State
	initErr  error
	sendErr  error
	sent     []string
	played   []string
	stopped  int
	removed  []uuid.UUID
	mediaErr error
}

func (f *fakeRoom) Initialize(ctx context.Context, roomId uuid.UUID) error {
	return f.initErr
}

func (f *fakeRoom) State() reconciler.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRoom) SendMessage(ctx context.Context, text string) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, text)
	return &types.Message{Id: uuid.New(), Content: text}, nil
}

func (f *fakeRoom) SetMedia(ctx context.Context, rawUrl string) (*types.MediaSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	f.played = append(f.played, rawUrl)
	return &types.MediaSession{MediaUrl: rawUrl}, nil
}

func (f *fakeRoom) StopMedia(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeRoom) RemoveMember(ctx context.Context, memberId, targetUserId uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, memberId)
	return nil
}

func newTestModel(t *testing.T, isOwner bool) (RoomModel, *fakeRoom) {
	t.Helper()

	me := types.User{Id: uuid.New(), Username: "alice"}
	bob := types.Membership{Id: uuid.New(), UserId: uuid.New(), Username: "bob", Role: types.RoleMember}
	fr := &fakeRoom{state: reconciler.State{
		Room:    &types.Room{Id: uuid.New(), Name: "movie night", JoinCode: "abc123"},
		IsOwner: isOwner,
		Members: []types.Membership{{Id: uuid.New(), UserId: me.Id, Username: "alice", Role: types.RoleOwner}, bob},
	}}

	events := NewEvents(me.Id)
	t.Cleanup(events.Close)

	m := NewRoomModel(fr, fr.state.Room.Id, me, events)
	model, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	model, _ = model.Update(initDoneMsg{})
	return model.(RoomModel), fr
}

func typeText(m RoomModel, text string) RoomModel {
	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return model.(RoomModel)
}

// submitAndRun presses enter and feeds the resulting command's message back.
func submitAndRun(t *testing.T, m RoomModel) RoomModel {
	t.Helper()
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd, "expected a command on enter")
	model, _ = model.Update(cmd())
	return model.(RoomModel)
}

func TestRoomModel_InitFailureQuits(t *testing.T) {
	fr := &fakeRoom{initErr: reconciler.ErrNotFound}
	events := NewEvents(uuid.New())
	defer events.Close()

	m := NewRoomModel(fr, uuid.New(), types.User{}, events)
	model, cmd := m.Update(m.initialize()())
	require.NotNil(t, cmd)
	assert.ErrorIs(t, model.(RoomModel).Err(), reconciler.ErrNotFound)
}

func TestRoomModel_SendMessage(t *testing.T) {
	m, fr := newTestModel(t, false)

	m = typeText(m, "hello room")
	m = submitAndRun(t, m)

	assert.Equal(t, []string{"hello room"}, fr.sent)
	assert.Empty(t, m.input, "expected input to be cleared after a successful send")
}

func TestRoomModel_SendFailureKeepsInput(t *testing.T) {
	m, fr := newTestModel(t, false)
	fr.sendErr = reconciler.ErrTransport

	m = typeText(m, "try again")
	m = submitAndRun(t, m)

	assert.Equal(t, "try again", m.input)
	assert.True(t, m.statusErr)
	assert.Equal(t, "connection issue, try again", m.status)
}

func TestRoomModel_Commands(t *testing.T) {
	t.Run("play", func(t *testing.T) {
		m, fr := newTestModel(t, true)
		m = typeText(m, "/play https://youtu.be/abc")
		m = submitAndRun(t, m)

		assert.Equal(t, []string{"https://youtu.be/abc"}, fr.played)
		assert.Equal(t, "now playing for everyone", m.status)
	})

	t.Run("play rejected for member", func(t *testing.T) {
		m, fr := newTestModel(t, false)
		fr.mediaErr = reconciler.ErrUnauthorized
		m = typeText(m, "/play https://youtu.be/abc")
		m = submitAndRun(t, m)

		assert.Equal(t, "only the room owner can do that", m.status)
	})

	t.Run("stop", func(t *testing.T) {
		m, fr := newTestModel(t, true)
		m = typeText(m, "/stop")
		submitAndRun(t, m)
		assert.Equal(t, 1, fr.stopped)
	})

	t.Run("kick", func(t *testing.T) {
		m, fr := newTestModel(t, true)
		bob := fr.state.Members[1]
		m = typeText(m, "/kick @Bob")
		submitAndRun(t, m)
		assert.Equal(t, []uuid.UUID{bob.Id}, fr.removed)
	})

	t.Run("kick unknown", func(t *testing.T) {
		m, fr := newTestModel(t, true)
		m = typeText(m, "/kick carol")
		model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		assert.Nil(t, cmd)
		assert.Contains(t, model.(RoomModel).status, "carol")
		assert.Empty(t, fr.removed)
	})

	t.Run("members toggle", func(t *testing.T) {
		m, _ := newTestModel(t, false)
		m = typeText(m, "/members")
		model, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		assert.True(t, model.(RoomModel).showMembers)
	})

	t.Run("open without media", func(t *testing.T) {
		m, _ := newTestModel(t, false)
		m = typeText(m, "/open")
		model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		assert.Nil(t, cmd)
		assert.Equal(t, "nothing is playing", model.(RoomModel).status)
	})

	t.Run("unknown", func(t *testing.T) {
		m, _ := newTestModel(t, false)
		m = typeText(m, "/dance")
		model, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		assert.Equal(t, "unknown command /dance", model.(RoomModel).status)
	})

	t.Run("quit", func(t *testing.T) {
		m, _ := newTestModel(t, false)
		m = typeText(m, "/quit")
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
	})
}

func TestRoomModel_watchURL(t *testing.T) {
	m, _ := newTestModel(t, false)
	model, _ := m.Update(playerMsg{url: "https://www.youtube.com/embed/XYZ?autoplay=1&enablejsapi=1"})
	m = model.(RoomModel)

	url, err := m.watchURL()
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=XYZ", url)
}

func TestRoomModel_EventsFlow(t *testing.T) {
	m, _ := newTestModel(t, false)

	go m.events.Load("https://www.youtube.com/embed/XYZ?autoplay=1&enablejsapi=1")
	msg := m.events.wait()()
	model, cmd := m.Update(msg)
	m = model.(RoomModel)
	assert.NotNil(t, cmd, "expected the view to keep listening")
	assert.Contains(t, m.View(), "embed/XYZ")

	go m.events.Notice(reconciler.Notice{Level: reconciler.NoticeError, Message: "You were removed from this room", Persistent: true})
	model, _ = m.Update(m.events.wait()())
	m = model.(RoomModel)
	assert.Contains(t, m.View(), "You were removed from this room")

	go m.events.Stop()
	model, _ = m.Update(m.events.wait()())
	assert.Contains(t, model.(RoomModel).View(), "nothing playing")
}

func TestEvents_SessionChanged(t *testing.T) {
	me := uuid.New()

	tcases := []struct {
		name  string
		event types.SessionEvent
		leave bool
	}{
		{name: "sign out", event: types.SessionEvent{Type: types.SignedOut}, leave: true},
		{name: "token refresh", event: types.SessionEvent{Type: types.TokenRefreshed, User: &types.User{Id: me}}},
		{name: "same user signs in", event: types.SessionEvent{Type: types.SignedIn, User: &types.User{Id: me}}},
		{name: "other user signs in", event: types.SessionEvent{Type: types.SignedIn, User: &types.User{Id: uuid.New()}}, leave: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEvents(me)
			defer e.Close()

			e.SessionChanged(tc.event)

			select {
			case msg := <-e.ch:
				assert.True(t, tc.leave, "unexpected message %T", msg)
				assert.IsType(t, signedOutMsg{}, msg)
			case <-time.After(20 * time.Millisecond):
				assert.False(t, tc.leave, "expected the view to be told to leave")
			}
		})
	}
}

func TestEvents_CloseUnblocks(t *testing.T) {
	e := NewEvents(uuid.New())
	for i := 0; i < cap(e.ch); i++ {
		e.Stop()
	}

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()

	e.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected send to return after close")
	}
}

func TestRoomModel_SignedOutQuits(t *testing.T) {
	m, _ := newTestModel(t, false)
	model, cmd := m.Update(signedOutMsg{})
	require.NotNil(t, cmd)
	assert.ErrorIs(t, model.(RoomModel).Err(), ErrSignedOut)
}

func TestRoomModel_View(t *testing.T) {
	m, _ := newTestModel(t, true)
	model, _ := m.Update(stateMsg(reconciler.State{
		Room:    m.state.Room,
		IsOwner: true,
		Members: m.state.Members,
		Messages: []types.Message{
			{Id: uuid.New(), UserId: uuid.New(), Username: "bob", Content: "first!", CreatedAt: time.Now()},
		},
	}))
	view := model.(RoomModel).View()

	for _, want := range []string{"movie night", "abc123", "owner", "bob", "first!", "/play"} {
		assert.True(t, strings.Contains(view, want), "expected %q in view:\n%s", want, view)
	}
}
