package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/synqup/internal/config"
	"github.com/npezzotti/synqup/internal/database"
	"github.com/npezzotti/synqup/internal/server"
	"github.com/npezzotti/synqup/internal/stats"
	"github.com/npezzotti/synqup/internal/testutil"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)
			db.On("Ping").Return(tc.mockErr).Once()

			app := newTestApp(t, db, &stats.MockStatsUpdater{}, nil)
			rr := do(t, app, http.MethodGet, "/healthz", nil, nil)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func Test_getProfile(t *testing.T) {
	caller := uuid.New()
	target := uuid.New()

	tcases := []struct {
		name         string
		path         string
		mockUser     database.User
		mockErr      error
		callsDb      bool
		expectedCode int
	}{
		{
			name:         "found",
			path:         "/api/profiles/" + target.String(),
			mockUser:     database.User{Id: target, Username: "bob", EmailAddress: "bob@example.com"},
			callsDb:      true,
			expectedCode: http.StatusOK,
		},
		{
			name:         "not found",
			path:         "/api/profiles/" + target.String(),
			mockErr:      database.ErrNotFound,
			callsDb:      true,
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "invalid id",
			path:         "/api/profiles/bob",
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)
			if tc.callsDb {
				db.On("GetAccountById", target).Return(tc.mockUser, tc.mockErr).Once()
			}

			app := newTestApp(t, db, &stats.MockStatsUpdater{}, nil)
			rr := do(t, app, http.MethodGet, tc.path, nil, &caller)

			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.expectedCode != http.StatusOK {
				return
			}

			var p types.Profile
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&p))
			assert.Equal(t, types.Profile{Id: target, Username: "bob"}, p)
			assert.NotContains(t, rr.Body.String(), "bob@example.com", "profiles never expose email")
		})
	}
}

func Test_serveWs(t *testing.T) {
	userId := uuid.New()
	roomId := uuid.New()

	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	db.On("GetAccountById", userId).Return(database.User{Id: userId, Username: "alice"}, nil).Once()
	db.On("GetMember", roomId, userId).Return(database.Member{RoomId: roomId, UserId: userId, Role: "member"}, nil).Once()

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return(nil)
	su.On("Incr", mock.Anything).Return(nil).Maybe()
	su.On("Decr", mock.Anything).Return(nil).Maybe()

	logger := testutil.TestLogger(t)
	fs, err := server.NewFeedServer(logger, db, su)
	require.NoError(t, err, "failed to create feed server")
	go fs.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		fs.Shutdown(ctx)
	}()

	app := NewSynqupApp(http.NewServeMux(), logger, fs, db, su, nil, &config.Config{SigningKey: testSigningKey})
	srv := httptest.NewServer(app.srv.Handler)
	defer srv.Close()

	token, _, err := app.createJwtForSession(types.User{Id: userId}, time.Minute)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	err = conn.WriteJSON(server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: 1},
		Subscribe: &server.Subscribe{
			Topic:       "chat",
			Table:       types.TableMessages,
			RoomId:      roomId,
			ExcludeSelf: true,
		},
	})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ack server.ServerMessage
	require.NoError(t, conn.ReadJSON(&ack))
	require.NotNil(t, ack.Response)
	assert.Equal(t, 1, ack.Id)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)

	other := uuid.New()
	fs.Publish(types.ChangeEvent{
		Table:   types.TableMessages,
		Type:    types.ChangeInsert,
		RoomId:  roomId,
		ActorId: &userId,
	})
	fs.Publish(types.ChangeEvent{
		Table:   types.TableMessages,
		Type:    types.ChangeInsert,
		RoomId:  roomId,
		ActorId: &other,
	})

	// the caller's own insert is filtered, so the first change is the other user's
	var change server.ServerMessage
	require.NoError(t, conn.ReadJSON(&change))
	require.NotNil(t, change.Change)
	assert.Equal(t, "chat", change.Change.Topic)
	require.NotNil(t, change.Change.Event.ActorId)
	assert.Equal(t, other, *change.Change.Event.ActorId)
}

func Test_serveWs_UnknownAccount(t *testing.T) {
	userId := uuid.New()
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	db.On("GetAccountById", userId).Return(database.User{}, database.ErrNotFound).Once()

	app := newTestApp(t, db, &stats.MockStatsUpdater{}, nil)
	rr := do(t, app, http.MethodGet, "/ws", nil, &userId)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	decodeApiError(t, rr)
}
