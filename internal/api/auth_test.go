package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/database"
	"github.com/npezzotti/synqup/internal/stats"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// findCookie is a helper function to find a cookie by name in the response recorder.
// It returns the cookie if found, or nil if not found.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestCreateAccountHandler(t *testing.T) {
	expectedUser := database.User{
		Id:           uuid.New(),
		Username:     "newuser",
		EmailAddress: "newuser@example.com",
		PasswordHash: "hashedpassword",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	tcases := []struct {
		name         string
		body         any
		callsDb      bool
		mockErr      error
		expectedCode int
	}{
		{
			name: "successfully creates a new account",
			body: RegisterRequest{
				Username: expectedUser.Username,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			callsDb:      true,
			expectedCode: http.StatusCreated,
		},
		{
			name:         "failed with invalid json body",
			body:         "invalid json",
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "fails with missing username",
			body: RegisterRequest{
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "fails with duplicate email",
			body: RegisterRequest{
				Username: expectedUser.Username,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			callsDb:      true,
			mockErr:      database.ErrConflict,
			expectedCode: http.StatusConflict,
		},
		{
			name: "fails with database error",
			body: RegisterRequest{
				Username: expectedUser.Username,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			callsDb:      true,
			mockErr:      errors.New("db error"),
			expectedCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)

			if tc.callsDb {
				db.On("CreateAccount", mock.MatchedBy(func(p database.CreateAccountParams) bool {
					return p.Username == expectedUser.Username &&
						p.EmailAddress == expectedUser.EmailAddress &&
						verifyPassword(p.PasswordHash, "password")
				})).Return(expectedUser, tc.mockErr).Once()
			}

			app := newTestApp(t, db, &stats.MockStatsUpdater{}, nil)
			rr := do(t, app, http.MethodPost, "/api/auth/register", tc.body, nil)

			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.expectedCode != http.StatusCreated {
				decodeApiError(t, rr)
				return
			}

			var u types.User
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
			assert.Equal(t, expectedUser.Id, u.Id)
			assert.Equal(t, expectedUser.Username, u.Username)
			assert.NotContains(t, rr.Body.String(), "hashedpassword")
		})
	}
}

func Test_login(t *testing.T) {
	pwdHash, err := hashPassword("password")
	require.NoError(t, err)

	dbUser := database.User{
		Id:           uuid.New(),
		Username:     "alice",
		EmailAddress: "alice@example.com",
		PasswordHash: pwdHash,
	}

	tcases := []struct {
		name         string
		body         any
		mockUser     database.User
		mockErr      error
		callsDb      bool
		expectedCode int
	}{
		{
			name:         "successful login",
			body:         LoginRequest{Email: dbUser.EmailAddress, Password: "password"},
			mockUser:     dbUser,
			callsDb:      true,
			expectedCode: http.StatusOK,
		},
		{
			name:         "wrong password",
			body:         LoginRequest{Email: dbUser.EmailAddress, Password: "nope"},
			mockUser:     dbUser,
			callsDb:      true,
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "unknown email",
			body:         LoginRequest{Email: "bob@example.com", Password: "password"},
			mockErr:      database.ErrNotFound,
			callsDb:      true,
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "missing password",
			body:         LoginRequest{Email: dbUser.EmailAddress},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "invalid json",
			body:         "{",
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)

			if tc.callsDb {
				req := tc.body.(LoginRequest)
				db.On("GetAccountByEmail", req.Email).Return(tc.mockUser, tc.mockErr).Once()
			}

			app := newTestApp(t, db, &stats.MockStatsUpdater{}, nil)
			rr := do(t, app, http.MethodPost, "/api/auth/login", tc.body, nil)

			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.expectedCode != http.StatusOK {
				assert.Nil(t, findCookie(rr, tokenCookieKey), "expected no session cookie")
				return
			}

			var resp SessionResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, dbUser.Id, resp.User.Id)
			assert.NotEmpty(t, resp.Token)
			assert.WithinDuration(t, time.Now().Add(defaultJwtExpiration), resp.ExpiresAt, time.Minute)

			cookie := findCookie(rr, tokenCookieKey)
			require.NotNil(t, cookie, "expected session cookie")
			assert.Equal(t, resp.Token, cookie.Value)
			assert.True(t, cookie.HttpOnly)

			userId, err := app.extractUserIdFromToken(resp.Token)
			require.NoError(t, err)
			assert.Equal(t, dbUser.Id, userId)
		})
	}
}

func Test_session(t *testing.T) {
	userId := uuid.New()

	t.Run("returns current user", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", userId).Return(database.User{Id: userId, Username: "alice"}, nil).Once()

		app := newTestApp(t, db, &stats.MockStatsUpdater{}, nil)
		rr := do(t, app, http.MethodGet, "/api/auth/session", nil, &userId)

		assert.Equal(t, http.StatusOK, rr.Code)
		var u types.User
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
		assert.Equal(t, "alice", u.Username)
	})

	t.Run("deleted account", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", userId).Return(database.User{}, database.ErrNotFound).Once()

		app := newTestApp(t, db, &stats.MockStatsUpdater{}, nil)
		rr := do(t, app, http.MethodGet, "/api/auth/session", nil, &userId)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func Test_refresh(t *testing.T) {
	userId := uuid.New()
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	db.On("GetAccountById", userId).Return(database.User{Id: userId, Username: "alice"}, nil).Once()

	app := newTestApp(t, db, &stats.MockStatsUpdater{}, nil)
	rr := do(t, app, http.MethodPost, "/api/auth/refresh", nil, &userId)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, userId, resp.User.Id)
	assert.NotNil(t, findCookie(rr, tokenCookieKey))
}

func Test_logout(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{}, &stats.MockStatsUpdater{}, nil)
	rr := do(t, app, http.MethodPost, "/api/auth/logout", nil, nil)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	cookie := findCookie(rr, tokenCookieKey)
	require.NotNil(t, cookie, "expected cookie to be overwritten")
	assert.Empty(t, cookie.Value)
	assert.False(t, cookie.Expires.After(time.Now()), "expected cookie to be expired")
}
