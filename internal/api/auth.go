package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-whiteboard/internal/auth"
	"github.com/npezzotti/go-whiteboard/internal/database"
	"github.com/npezzotti/go-whiteboard/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	refreshCookieKey  = "refresh_token"
	refreshCookiePath = "/api/auth"
)

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      types.Identity `json:"user"`
}

func accountIdentity(a database.Account) types.Identity {
	return types.Identity{
		Id:          a.Id,
		Email:       a.Email,
		DisplayName: a.DisplayName,
	}
}

func (s *App) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		errResp := NewInvalidPayloadError("email and password are required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.CreateAccount(r.Context(), database.CreateAccountParams{
		Id:           uuid.NewString(),
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: pwdHash,
	})
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrAlreadyExists) {
			errResp = NewConflictError()
		} else {
			s.log.Error("create account: %v", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, accountIdentity(account))
}

func (s *App) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.GetAccountByEmail(r.Context(), strings.TrimSpace(lr.Email))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewUnauthorizedError()
		} else {
			s.log.Error("get account by email: %v", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(account.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.issueTokens(w, r, accountIdentity(account))
}

// refresh trades the refresh cookie for a new access token. Clients call it
// after a request or a session was rejected with an expired token.
func (s *App) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieKey)
	if err != nil {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	identity, err := s.issuer.VerifyRefresh(cookie.Value)
	if err != nil {
		// the client has to log in again
		s.log.Debug("rejected refresh token: %v", err)
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.GetAccountById(r.Context(), identity.Id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewUnauthorizedError()
		} else {
			s.log.Error("get account: %v", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.issueTokens(w, r, accountIdentity(account))
}

func (s *App) issueTokens(w http.ResponseWriter, r *http.Request, identity types.Identity) {
	token, exp, err := s.issuer.AccessToken(identity)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	refreshToken, _, err := s.issuer.RefreshToken(identity)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createRefreshCookie(r, refreshToken, s.issuer.RefreshTTL()))

	s.writeJson(w, http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: exp,
		User:      identity,
	})
}

func createRefreshCookie(r *http.Request, tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     refreshCookieKey,
		Value:    tokenString,
		Path:     refreshCookiePath,
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *App) logout(w http.ResponseWriter, r *http.Request) {
	// overwrite the refresh cookie with an expired one
	cookie := createRefreshCookie(r, "", 0)
	cookie.Expires = time.Unix(0, 0)
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
	w.WriteHeader(http.StatusNoContent)
}

func (s *App) session(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.GetAccountById(r.Context(), identity.Id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, accountIdentity(account))
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
