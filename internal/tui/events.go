package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/reconciler"
	"github.com/npezzotti/synqup/internal/types"
)

type stateMsg reconciler.State

type noticeMsg reconciler.Notice

// playerMsg reports what the local player should show. An empty url means
// playback stopped.
type playerMsg struct {
	url string
}

// signedOutMsg ends the room view.
type signedOutMsg struct{}

// Events carries reconciler callbacks into the bubbletea loop. It is the
// reconciler's Listener and Player, and follows the session.
type Events struct {
	ch        chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
	userId    uuid.UUID
}

// NewEvents creates the bridge for a room opened by userId.
func NewEvents(userId uuid.UUID) *Events {
	return &Events{
		ch:     make(chan tea.Msg, 64),
		done:   make(chan struct{}),
		userId: userId,
	}
}

func (e *Events) StateChanged(s reconciler.State) {
	e.send(stateMsg(s))
}

func (e *Events) Notice(n reconciler.Notice) {
	e.send(noticeMsg(n))
}

func (e *Events) Load(url string) {
	e.send(playerMsg{url: url})
}

func (e *Events) Stop() {
	e.send(playerMsg{})
}

// SessionChanged leaves the room on sign out or when a different user signs
// in. Token refreshes are ignored.
func (e *Events) SessionChanged(ev types.SessionEvent) {
	switch ev.Type {
	case types.SignedOut:
		e.send(signedOutMsg{})
	case types.SignedIn:
		if ev.User != nil && ev.User.Id != e.userId {
			e.send(signedOutMsg{})
		}
	}
}

// Close stops delivery. Pending senders return immediately.
func (e *Events) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

func (e *Events) send(msg tea.Msg) {
	select {
	case e.ch <- msg:
	case <-e.done:
	}
}

// wait returns a command that blocks for the next event.
func (e *Events) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-e.ch:
			return msg
		case <-e.done:
			return nil
		}
	}
}
