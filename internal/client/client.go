package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/types"
)

// AuthResult is returned by login and refresh.
type AuthResult struct {
	User      types.User `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// JoinResult is returned when joining a room by code.
type JoinResult struct {
	Room       types.Room       `json:"room"`
	Membership types.Membership `json:"membership"`
	Joined     bool             `json:"joined"`
}

// Client is the synqup API client.
type Client struct {
	baseURL    string
	token      func() string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   func() string { return token },
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithTokenSource returns a copy of c that reads the bearer token from fn on
// every request.
func (c *Client) WithTokenSource(fn func() string) *Client {
	cp := *c
	cp.token = fn
	return &cp
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token currently in use.
func (c *Client) Token() string {
	return c.token()
}

// FeedURL returns the websocket endpoint of the change feed.
func (c *Client) FeedURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// --- Auth ---

func (c *Client) Register(ctx context.Context, email, username, password string) (*types.User, error) {
	body := map[string]string{"email": email, "username": username, "password": password}

	var u types.User
	if err := c.post(ctx, "/api/auth/register", body, &u); err != nil {
		return nil, fmt.Errorf("client.Register: %w", err)
	}
	return &u, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}

	var res AuthResult
	if err := c.post(ctx, "/api/auth/login", body, &res); err != nil {
		return nil, fmt.Errorf("client.Login: %w", err)
	}
	return &res, nil
}

func (c *Client) Refresh(ctx context.Context) (*AuthResult, error) {
	var res AuthResult
	if err := c.post(ctx, "/api/auth/refresh", nil, &res); err != nil {
		return nil, fmt.Errorf("client.Refresh: %w", err)
	}
	return &res, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.post(ctx, "/api/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("client.Logout: %w", err)
	}
	return nil
}

// GetSession returns the user the current token belongs to.
func (c *Client) GetSession(ctx context.Context) (*types.User, error) {
	var u types.User
	if err := c.get(ctx, "/api/auth/session", &u); err != nil {
		return nil, fmt.Errorf("client.GetSession: %w", err)
	}
	return &u, nil
}

func (c *Client) GetProfile(ctx context.Context, userId uuid.UUID) (*types.Profile, error) {
	var p types.Profile
	if err := c.get(ctx, "/api/profiles/"+userId.String(), &p); err != nil {
		return nil, fmt.Errorf("client.GetProfile: %w", err)
	}
	return &p, nil
}

// --- Rooms ---

func roomPath(roomId uuid.UUID, parts ...string) string {
	return "/api/rooms/" + roomId.String() + strings.Join(parts, "")
}

func (c *Client) ListRooms(ctx context.Context) ([]types.Room, error) {
	var rooms []types.Room
	if err := c.get(ctx, "/api/rooms", &rooms); err != nil {
		return nil, fmt.Errorf("client.ListRooms: %w", err)
	}
	return rooms, nil
}

func (c *Client) CreateRoom(ctx context.Context, name, description string) (*types.Room, error) {
	body := map[string]string{"name": name, "description": description}

	var room types.Room
	if err := c.post(ctx, "/api/rooms", body, &room); err != nil {
		return nil, fmt.Errorf("client.CreateRoom: %w", err)
	}
	return &room, nil
}

func (c *Client) JoinRoom(ctx context.Context, code string) (*JoinResult, error) {
	var res JoinResult
	if err := c.post(ctx, "/api/rooms/join", map[string]string{"code": code}, &res); err != nil {
		return nil, fmt.Errorf("client.JoinRoom: %w", err)
	}
	return &res, nil
}

func (c *Client) GetRoom(ctx context.Context, roomId uuid.UUID) (*types.Room, error) {
	var room types.Room
	if err := c.get(ctx, roomPath(roomId), &room); err != nil {
		return nil, fmt.Errorf("client.GetRoom: %w", err)
	}
	return &room, nil
}

// GetMembership returns the caller's own membership of the room.
func (c *Client) GetMembership(ctx context.Context, roomId uuid.UUID) (*types.Membership, error) {
	var m types.Membership
	if err := c.get(ctx, roomPath(roomId, "/members/me"), &m); err != nil {
		return nil, fmt.Errorf("client.GetMembership: %w", err)
	}
	return &m, nil
}

// CreateMembership adds the caller to the room as a member.
func (c *Client) CreateMembership(ctx context.Context, roomId uuid.UUID) (*types.Membership, error) {
	var m types.Membership
	if err := c.post(ctx, roomPath(roomId, "/members"), nil, &m); err != nil {
		return nil, fmt.Errorf("client.CreateMembership: %w", err)
	}
	return &m, nil
}

func (c *Client) ListMembers(ctx context.Context, roomId uuid.UUID) ([]types.Membership, error) {
	var members []types.Membership
	if err := c.get(ctx, roomPath(roomId, "/members"), &members); err != nil {
		return nil, fmt.Errorf("client.ListMembers: %w", err)
	}
	return members, nil
}

func (c *Client) RemoveMember(ctx context.Context, roomId, memberId uuid.UUID) error {
	if err := c.doRequest(ctx, http.MethodDelete, roomPath(roomId, "/members/", memberId.String()), nil, nil); err != nil {
		return fmt.Errorf("client.RemoveMember: %w", err)
	}
	return nil
}

// --- Messages ---

// messagePageSize matches the server's largest page.
const messagePageSize = 500

// ListMessages returns a room's whole history, oldest first. The server pages
// by message id, so this keeps asking until a page comes back short.
func (c *Client) ListMessages(ctx context.Context, roomId uuid.UUID) ([]types.Message, error) {
	msgs := []types.Message{}
	after := ""
	for {
		q := url.Values{}
		q.Set("after", after)
		q.Set("limit", strconv.Itoa(messagePageSize))

		var page []types.Message
		if err := c.get(ctx, roomPath(roomId, "/messages")+"?"+q.Encode(), &page); err != nil {
			return nil, fmt.Errorf("client.ListMessages: %w", err)
		}
		msgs = append(msgs, page...)
		if len(page) < messagePageSize {
			return msgs, nil
		}
		after = page[len(page)-1].Id.String()
	}
}

func (c *Client) CreateMessage(ctx context.Context, roomId uuid.UUID, content string) (*types.Message, error) {
	var msg types.Message
	if err := c.post(ctx, roomPath(roomId, "/messages"), map[string]string{"content": content}, &msg); err != nil {
		return nil, fmt.Errorf("client.CreateMessage: %w", err)
	}
	return &msg, nil
}

// --- Media ---

func (c *Client) GetMediaSession(ctx context.Context, roomId uuid.UUID) (*types.MediaSession, error) {
	var ms types.MediaSession
	if err := c.get(ctx, roomPath(roomId, "/media"), &ms); err != nil {
		return nil, fmt.Errorf("client.GetMediaSession: %w", err)
	}
	return &ms, nil
}

// CreateMediaSession inserts the room's media session, or replaces it when
// one already exists.
func (c *Client) CreateMediaSession(ctx context.Context, roomId uuid.UUID, in types.MediaInput) (*types.MediaSession, error) {
	var ms types.MediaSession
	if err := c.post(ctx, roomPath(roomId, "/media"), in, &ms); err != nil {
		return nil, fmt.Errorf("client.CreateMediaSession: %w", err)
	}
	return &ms, nil
}

func (c *Client) UpdateMediaSession(ctx context.Context, roomId, mediaId uuid.UUID, in types.MediaInput) (*types.MediaSession, error) {
	var ms types.MediaSession
	if err := c.doRequest(ctx, http.MethodPut, roomPath(roomId, "/media/", mediaId.String()), in, &ms); err != nil {
		return nil, fmt.Errorf("client.UpdateMediaSession: %w", err)
	}
	return &ms, nil
}

func (c *Client) DeleteMediaSession(ctx context.Context, roomId uuid.UUID) error {
	if err := c.doRequest(ctx, http.MethodDelete, roomPath(roomId, "/media"), nil, nil); err != nil {
		return fmt.Errorf("client.DeleteMediaSession: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w: %w", types.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Message}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
