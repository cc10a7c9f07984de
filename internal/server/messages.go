package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	UserId      uuid.UUID    `json:"-"`
	client      *Client      `json:"-"`
}

// Subscribe asks for the changes of one table in one room. Topic is chosen
// by the client and tags every change delivered for the subscription.
type Subscribe struct {
	Topic       string    `json:"topic"`
	Table       string    `json:"table"`
	RoomId      uuid.UUID `json:"room_id"`
	ExcludeSelf bool      `json:"exclude_self"`
}

type Unsubscribe struct {
	Topic string `json:"topic"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response     `json:"response,omitempty"`
	Change       *Change       `json:"change,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

type Change struct {
	Topic string            `json:"topic"`
	Event types.ChangeEvent `json:"event"`
}

type Notification struct {
	Evicted *Evicted `json:"evicted,omitempty"`
}

// Evicted tells a client its membership was removed and the listed topics
// were closed.
type Evicted struct {
	RoomId uuid.UUID `json:"room_id"`
	Topics []string  `json:"topics"`
}

func newResponse(id, code int, errMsg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
		},
	}
}

func NoErrOK(id int) *ServerMessage {
	return newResponse(id, http.StatusOK, "")
}

func ErrForbidden(id int) *ServerMessage {
	return newResponse(id, http.StatusForbidden, "not a member of this room")
}

func ErrTopicNotFound(id int) *ServerMessage {
	return newResponse(id, http.StatusNotFound, "topic not found")
}

func ErrTopicExists(id int) *ServerMessage {
	return newResponse(id, http.StatusConflict, "topic already subscribed")
}

func ErrInternalError(id int) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := newResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

var subscribableTables = map[string]struct{}{
	types.TableMessages:      {},
	types.TableMediaSessions: {},
	types.TableRoomMembers:   {},
}

func (s *Subscribe) valid() bool {
	if s.Topic == "" || s.RoomId == uuid.Nil {
		return false
	}
	_, ok := subscribableTables[s.Table]
	return ok
}
