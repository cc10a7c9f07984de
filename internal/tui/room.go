// Package tui is the terminal room view.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/browser"
	"github.com/npezzotti/synqup/internal/media"
	"github.com/npezzotti/synqup/internal/reconciler"
	"github.com/npezzotti/synqup/internal/types"
)

const (
	maxInputLen = 2000
	opTimeout   = 15 * time.Second
)

// ErrSignedOut is returned by Err when the view closed because the session
// ended.
var ErrSignedOut = errors.New("signed out")

// Room is the part of the reconciler the view drives.
type Room interface {
	Initialize(ctx context.Context, roomId uuid.UUID) error
	State() reconciler.State
	SendMessage(ctx context.Context, text string) (*types.Message, error)
	SetMedia(ctx context.Context, rawUrl string) (*types.MediaSession, error)
	StopMedia(ctx context.Context) error
	RemoveMember(ctx context.Context, memberId, targetUserId uuid.UUID) error
}

type initDoneMsg struct {
	err error
}

type opKind int

const (
	opSend opKind = iota
	opPlay
	opStop
	opKick
	opCopy
	opOpen
)

type opDoneMsg struct {
	kind opKind
	err  error
	info string
}

// RoomModel renders one room: chat, members, and what is playing.
type RoomModel struct {
	room   Room
	roomId uuid.UUID
	me     types.User
	events *Events

	state       reconciler.State
	nowPlaying  string
	input       string
	status      string
	statusErr   bool
	alerts      []string
	showMembers bool
	width       int
	height      int
	err         error
}

func NewRoomModel(room Room, roomId uuid.UUID, me types.User, events *Events) RoomModel {
	return RoomModel{
		room:   room,
		roomId: roomId,
		me:     me,
		events: events,
		state:  reconciler.State{Loading: true},
	}
}

// Err reports why the view closed, if it closed on an error.
func (m RoomModel) Err() error {
	return m.err
}

func (m RoomModel) Init() tea.Cmd {
	return tea.Batch(m.initialize(), m.events.wait())
}

func (m RoomModel) initialize() tea.Cmd {
	room, roomId := m.room, m.roomId
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return initDoneMsg{err: room.Initialize(ctx, roomId)}
	}
}

func (m RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case initDoneMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("open room: %w", msg.err)
			return m, tea.Quit
		}
		m.state = m.room.State()
		if m.state.MediaSession != nil {
			m.nowPlaying = m.state.MediaSession.MediaUrl
		}
		return m, nil

	case stateMsg:
		m.state = reconciler.State(msg)
		return m, m.events.wait()

	case noticeMsg:
		n := reconciler.Notice(msg)
		if n.Persistent {
			m.alerts = appendUnique(m.alerts, n.Message)
		} else {
			m.status = n.Message
			m.statusErr = n.Level == reconciler.NoticeError
		}
		return m, m.events.wait()

	case playerMsg:
		m.nowPlaying = msg.url
		return m, m.events.wait()

	case signedOutMsg:
		m.err = ErrSignedOut
		return m, tea.Quit

	case opDoneMsg:
		return m.handleOpDone(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m RoomModel) handleOpDone(msg opDoneMsg) RoomModel {
	if msg.err != nil {
		m.status = describeErr(msg.err)
		m.statusErr = true
		return m
	}

	m.statusErr = false
	switch msg.kind {
	case opSend:
		// input is only dropped once the message is stored
		m.input = ""
		m.status = ""
	default:
		m.status = msg.info
	}
	m.state = m.room.State()
	return m
}

func (m RoomModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "enter":
		return m.submit()
	case "backspace":
		if m.input != "" {
			runes := []rune(m.input)
			m.input = string(runes[:len(runes)-1])
		}
		return m, nil
	case "tab":
		m.showMembers = !m.showMembers
		return m, nil
	}

	if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace {
		text := string(msg.Runes)
		if msg.Type == tea.KeySpace {
			text = " "
		}
		if utf8.RuneCountInString(m.input)+utf8.RuneCountInString(text) <= maxInputLen {
			m.input += text
		}
	}
	return m, nil
}

func (m RoomModel) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input)
	if line == "" {
		return m, nil
	}
	if m.state.Loading || m.state.Room == nil {
		m.status = "still loading"
		return m, nil
	}

	if !strings.HasPrefix(line, "/") {
		if m.state.Sending {
			m.status = "sending..."
			return m, nil
		}
		return m, m.run(opSend, "", func(ctx context.Context) error {
			_, err := m.room.SendMessage(ctx, line)
			return err
		})
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	m.input = ""

	switch name {
	case "quit", "q":
		return m, tea.Quit

	case "members":
		m.showMembers = !m.showMembers
		return m, nil

	case "play":
		if arg == "" {
			m.status = "usage: /play <youtube url>"
			return m, nil
		}
		return m, m.run(opPlay, "now playing for everyone", func(ctx context.Context) error {
			_, err := m.room.SetMedia(ctx, arg)
			return err
		})

	case "stop":
		return m, m.run(opStop, "playback stopped", m.room.StopMedia)

	case "kick":
		member, ok := m.findMember(arg)
		if !ok {
			m.status = fmt.Sprintf("no member named %q", arg)
			return m, nil
		}
		return m, m.run(opKick, "removed "+member.Username, func(ctx context.Context) error {
			return m.room.RemoveMember(ctx, member.Id, member.UserId)
		})

	case "copy":
		code := m.state.Room.JoinCode
		return m, func() tea.Msg {
			return opDoneMsg{kind: opCopy, err: clipboard.WriteAll(code), info: "join code copied"}
		}

	case "open":
		url, err := m.watchURL()
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		return m, func() tea.Msg {
			return opDoneMsg{kind: opOpen, err: browser.Open(url), info: "opened in browser"}
		}
	}

	m.status = "unknown command /" + name
	return m, nil
}

func (m RoomModel) run(kind opKind, info string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return opDoneMsg{kind: kind, err: fn(ctx), info: info}
	}
}

func (m RoomModel) findMember(username string) (types.Membership, bool) {
	username = strings.TrimPrefix(username, "@")
	for _, mem := range m.state.Members {
		if strings.EqualFold(mem.Username, username) {
			return mem, true
		}
	}
	return types.Membership{}, false
}

func (m RoomModel) watchURL() (string, error) {
	if m.nowPlaying == "" {
		return "", errors.New("nothing is playing")
	}
	id, err := media.VideoId(m.nowPlaying)
	if err != nil {
		return "", err
	}
	return media.WatchURL(id), nil
}

func (m RoomModel) View() string {
	if m.state.Room == nil {
		if m.state.Loading {
			return dimStyle.Render("  loading room...") + "\n"
		}
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	for _, alert := range m.alerts {
		b.WriteString(errorStyle.Render("  ! "+alert) + "\n")
	}
	if m.state.ConnectionIssue && len(m.alerts) == 0 {
		b.WriteString(errorStyle.Render("  ! connection issue") + "\n")
	}
	b.WriteString(m.renderNowPlaying())
	b.WriteString("\n\n")

	chat := m.renderMessages()
	if m.showMembers {
		chat = lipgloss.JoinHorizontal(lipgloss.Top, chat, "  ", m.renderMembers())
	}
	b.WriteString(chat)
	b.WriteString("\n")

	if m.status != "" {
		style := dimStyle
		if m.statusErr {
			style = errorStyle
		}
		b.WriteString(style.Render("  "+m.status) + "\n")
	}
	b.WriteString(m.renderInput())
	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m RoomModel) renderHeader() string {
	room := m.state.Room
	header := "  " + titleStyle.Render(room.Name) + metaStyle.Render("  code "+room.JoinCode)
	if m.state.IsOwner {
		header += "  " + ownerStyle.Render("owner")
	}
	if m.state.Evicted {
		header += "  " + errorStyle.Render("removed")
	}
	return header
}

func (m RoomModel) renderNowPlaying() string {
	if m.nowPlaying == "" {
		return dimStyle.Render("  nothing playing")
	}
	title := m.nowPlaying
	if m.state.MediaSession != nil && m.state.MediaSession.MediaTitle != "" {
		title = m.state.MediaSession.MediaTitle
	}
	return "  " + nowPlayingStyle.Render("▶ ") + normalStyle.Render(title)
}

func (m RoomModel) renderMessages() string {
	msgs := m.state.Messages
	// header, now playing and input chrome take about eight lines
	if limit := m.height - 8; limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if len(msgs) == 0 {
		return dimStyle.Render("  no messages yet")
	}

	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		name := msg.Username
		if name == "" {
			name = "someone"
		}
		nameStyle := authorStyle
		if msg.UserId == m.me.Id {
			nameStyle = selfStyle
		}
		lines = append(lines, fmt.Sprintf("  %s  %s %s",
			metaStyle.Render(msg.CreatedAt.Local().Format("15:04")),
			nameStyle.Render(name),
			normalStyle.Render(msg.Content)))
	}
	return strings.Join(lines, "\n")
}

func (m RoomModel) renderMembers() string {
	lines := []string{titleStyle.Render("members")}
	for _, mem := range m.state.Members {
		line := mem.Username
		if mem.Role == types.RoleOwner {
			line = ownerStyle.Render(line + " ★")
		}
		lines = append(lines, line)
	}
	return membersBoxStyle.Render(strings.Join(lines, "\n"))
}

func (m RoomModel) renderInput() string {
	prompt := accentStyle.Render("  > ")
	if m.state.Sending {
		return prompt + dimStyle.Render(m.input)
	}
	return prompt + normalStyle.Render(m.input) + accentStyle.Render("█")
}

func (m RoomModel) renderHelp() string {
	keys := []struct{ key, label string }{
		{"enter", "send"},
		{"tab", "members"},
		{"/copy", "join code"},
		{"/open", "browser"},
	}
	if m.state.IsOwner {
		keys = append(keys,
			struct{ key, label string }{"/play", "url"},
			struct{ key, label string }{"/stop", "stop"},
			struct{ key, label string }{"/kick", "name"},
		)
	}
	keys = append(keys, struct{ key, label string }{"esc", "leave"})

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = helpKeyStyle.Render(k.key) + " " + helpLabelStyle.Render(k.label)
	}
	return "  " + strings.Join(parts, "  ")
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func describeErr(err error) string {
	switch {
	case errors.Is(err, reconciler.ErrUnauthorized):
		return "only the room owner can do that"
	case errors.Is(err, reconciler.ErrValidation):
		if errors.Is(err, media.ErrUnsupportedURL) {
			return "that link is not a supported YouTube URL"
		}
		return "invalid input"
	case errors.Is(err, reconciler.ErrSendInProgress):
		return "still sending the last message"
	case errors.Is(err, reconciler.ErrTransport):
		return "connection issue, try again"
	case errors.Is(err, reconciler.ErrNotFound):
		return "not found"
	}
	return err.Error()
}
