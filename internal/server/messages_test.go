package server

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_valid(t *testing.T) {
	roomId := uuid.New()

	tcases := []struct {
		name  string
		sub   Subscribe
		valid bool
	}{
		{"messages", Subscribe{Topic: "t", Table: types.TableMessages, RoomId: roomId}, true},
		{"media sessions", Subscribe{Topic: "t", Table: types.TableMediaSessions, RoomId: roomId}, true},
		{"room members", Subscribe{Topic: "t", Table: types.TableRoomMembers, RoomId: roomId}, true},
		{"missing topic", Subscribe{Table: types.TableMessages, RoomId: roomId}, false},
		{"missing room", Subscribe{Topic: "t", Table: types.TableMessages}, false},
		{"unknown table", Subscribe{Topic: "t", Table: "users", RoomId: roomId}, false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, tc.sub.valid())
		})
	}
}

func TestErrInvalidMessage(t *testing.T) {
	assert.Equal(t, 0, ErrInvalidMessage(-1).Id)
	assert.Equal(t, 5, ErrInvalidMessage(5).Id)
	assert.Equal(t, 400, ErrInvalidMessage(5).Response.ResponseCode)
}

func TestClientMessage_decode(t *testing.T) {
	roomId := uuid.New()
	raw := `{"id":3,"subscribe":{"topic":"chat","table":"messages","room_id":"` + roomId.String() + `","exclude_self":true}}`

	var msg ClientMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.Equal(t, 3, msg.Id)
	require.NotNil(t, msg.Subscribe)
	assert.Nil(t, msg.Unsubscribe)
	assert.Equal(t, Subscribe{Topic: "chat", Table: types.TableMessages, RoomId: roomId, ExcludeSelf: true}, *msg.Subscribe)
}

func TestServerMessage_encodeOmitsEmpty(t *testing.T) {
	b, err := json.Marshal(NoErrOK(1))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Contains(t, m, "response")
	assert.NotContains(t, m, "change")
	assert.NotContains(t, m, "notification")
}
