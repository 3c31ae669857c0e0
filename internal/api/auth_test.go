package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-whiteboard/internal/auth"
	"github.com/npezzotti/go-whiteboard/internal/database"
	"github.com/npezzotti/go-whiteboard/internal/testutil"
	"github.com/npezzotti/go-whiteboard/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func aliceAccount(t *testing.T, password string) database.Account {
	t.Helper()
	hash, err := hashPassword(password)
	require.NoError(t, err)
	return database.Account{
		Id:           alice.Id,
		Email:        alice.Email,
		DisplayName:  alice.DisplayName,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

func TestCreateAccountHandler(t *testing.T) {
	tcases := []struct {
		name       string
		body       any
		mockErr    error
		callsStore bool
		expectCode int
	}{
		{
			name:       "success",
			body:       RegisterRequest{Email: "alice@example.com", DisplayName: "Alice", Password: "secret"},
			callsStore: true,
			expectCode: http.StatusCreated,
		},
		{
			name:       "invalid json",
			body:       "not an object",
			expectCode: http.StatusBadRequest,
		},
		{
			name:       "missing password",
			body:       RegisterRequest{Email: "alice@example.com"},
			expectCode: http.StatusBadRequest,
		},
		{
			name:       "duplicate email",
			body:       RegisterRequest{Email: "alice@example.com", Password: "secret"},
			mockErr:    database.ErrAlreadyExists,
			callsStore: true,
			expectCode: http.StatusConflict,
		},
		{
			name:       "store error",
			body:       RegisterRequest{Email: "alice@example.com", Password: "secret"},
			mockErr:    errors.New("db error"),
			callsStore: true,
			expectCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, db := newTestApp(t)
			if tc.callsStore {
				db.On("CreateAccount", mock.Anything, mock.MatchedBy(func(p database.CreateAccountParams) bool {
					return p.Id != "" && p.Email == "alice@example.com" && verifyPassword(p.PasswordHash, "secret")
				})).Return(database.Account{Id: "new-id", Email: "alice@example.com", DisplayName: "Alice"}, tc.mockErr).Once()
			}
			defer db.AssertExpectations(t)

			rr := do(t, app, http.MethodPost, "/api/auth/register", "", tc.body)

			assert.Equal(t, tc.expectCode, rr.Code)
			if tc.expectCode == http.StatusCreated {
				var got types.Identity
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
				assert.Equal(t, "new-id", got.Id)
				assert.Equal(t, "Alice", got.DisplayName)
				assert.NotContains(t, rr.Body.String(), "secret")
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	account := aliceAccount(t, "secret")

	tcases := []struct {
		name       string
		password   string
		mockErr    error
		expectCode int
	}{
		{name: "success", password: "secret", expectCode: http.StatusOK},
		{name: "wrong password", password: "nope", expectCode: http.StatusUnauthorized},
		{name: "unknown email", password: "secret", mockErr: database.ErrNotFound, expectCode: http.StatusUnauthorized},
		{name: "store error", password: "secret", mockErr: errors.New("db error"), expectCode: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, db := newTestApp(t)
			db.On("GetAccountByEmail", mock.Anything, alice.Email).Return(account, tc.mockErr).Once()
			defer db.AssertExpectations(t)

			rr := do(t, app, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: alice.Email, Password: tc.password})

			assert.Equal(t, tc.expectCode, rr.Code)
			if tc.expectCode != http.StatusOK {
				assert.Nil(t, findCookie(rr, refreshCookieKey), "expected no refresh cookie on failure")
				return
			}

			var resp TokenResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, alice.Id, resp.User.Id)
			assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, 5*time.Second)

			identity, err := app.verifier.Verify(t.Context(), resp.Token)
			require.NoError(t, err, "expected the access token to verify")
			assert.Equal(t, alice.Id, identity.Id)

			cookie := findCookie(rr, refreshCookieKey)
			require.NotNil(t, cookie, "expected refresh cookie to be set")
			assert.True(t, cookie.HttpOnly)
			assert.Equal(t, refreshCookiePath, cookie.Path)

			_, err = app.verifier.Verify(t.Context(), cookie.Value)
			assert.ErrorIs(t, err, auth.ErrUnauthenticated, "expected a refresh token to be refused as an access token")
		})
	}
}

func TestRefreshHandler(t *testing.T) {
	issuer := auth.NewIssuer(testutil.SigningKey, time.Hour, 24*time.Hour)

	t.Run("success", func(t *testing.T) {
		app, db := newTestApp(t)
		db.On("GetAccountById", mock.Anything, alice.Id).Return(aliceAccount(t, "secret"), nil).Once()
		defer db.AssertExpectations(t)

		refreshToken, _, err := issuer.RefreshToken(alice)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: refreshCookieKey, Value: refreshToken})
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp TokenResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		identity, err := app.verifier.Verify(t.Context(), resp.Token)
		require.NoError(t, err)
		assert.Equal(t, alice.Id, identity.Id)
		assert.NotNil(t, findCookie(rr, refreshCookieKey), "expected refresh cookie to be rotated")
	})

	t.Run("missing cookie", func(t *testing.T) {
		app, _ := newTestApp(t)
		rr := do(t, app, http.MethodPost, "/api/auth/refresh", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("access token in cookie", func(t *testing.T) {
		app, _ := newTestApp(t)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: refreshCookieKey, Value: testutil.Token(t, alice, time.Hour)})
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, auth.CodeUnauthenticated, decodeError(t, rr).Code)
	})

	t.Run("expired refresh token", func(t *testing.T) {
		app, db := newTestApp(t)
		defer db.AssertNotCalled(t, "GetAccountById", mock.Anything, mock.Anything)

		expired, _, err := auth.NewIssuer(testutil.SigningKey, time.Hour, -time.Minute).RefreshToken(alice)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: refreshCookieKey, Value: expired})
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		apiErr := decodeError(t, rr)
		assert.Equal(t, auth.CodeUnauthenticated, apiErr.Code, "expected a dead refresh token to require a new login")
		assert.NotContains(t, apiErr.Message, "expired")
		assert.Nil(t, findCookie(rr, refreshCookieKey), "expected no new refresh cookie")
	})

	t.Run("deleted account", func(t *testing.T) {
		app, db := newTestApp(t)
		db.On("GetAccountById", mock.Anything, alice.Id).Return(database.Account{}, database.ErrNotFound).Once()
		defer db.AssertExpectations(t)

		refreshToken, _, err := issuer.RefreshToken(alice)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: refreshCookieKey, Value: refreshToken})
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestLogoutHandler(t *testing.T) {
	app, _ := newTestApp(t)

	rr := do(t, app, http.MethodPost, "/api/auth/logout", testutil.Token(t, alice, time.Hour), nil)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	cookie := findCookie(rr, refreshCookieKey)
	require.NotNil(t, cookie, "expected refresh cookie to be overwritten")
	assert.Empty(t, cookie.Value)
	assert.True(t, cookie.MaxAge < 0, "expected cookie to be expired")
}

func TestSessionHandler(t *testing.T) {
	tcases := []struct {
		name       string
		mockErr    error
		expectCode int
	}{
		{name: "success", expectCode: http.StatusOK},
		{name: "account gone", mockErr: database.ErrNotFound, expectCode: http.StatusNotFound},
		{name: "store error", mockErr: errors.New("db error"), expectCode: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, db := newTestApp(t)
			db.On("GetAccountById", mock.Anything, alice.Id).Return(aliceAccount(t, "secret"), tc.mockErr).Once()
			defer db.AssertExpectations(t)

			rr := do(t, app, http.MethodGet, "/api/auth/session", testutil.Token(t, alice, time.Hour), nil)

			assert.Equal(t, tc.expectCode, rr.Code)
			if tc.expectCode == http.StatusOK {
				var got types.Identity
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
				assert.Equal(t, alice.Id, got.Id)
				assert.Equal(t, alice.Email, got.Email)
			}
		})
	}
}
