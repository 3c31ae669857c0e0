package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-whiteboard/internal/types"
)

var (
	// ErrUnauthenticated means the token is missing, malformed or failed
	// validation. Retrying with the same token will not help.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTokenExpired means the token was valid but has expired. The caller
	// should obtain a fresh token and retry.
	ErrTokenExpired = errors.New("token expired")
)

// Client-facing messages. Clients that predate the structured error codes
// look for the substring "expired" to decide whether to refresh and retry,
// so only MessageTokenExpired may contain it.
const (
	MessageTokenExpired    = "token expired. please refresh and try again"
	MessageUnauthenticated = "authentication failed"

	CodeTokenExpired    = "token_expired"
	CodeUnauthenticated = "unauthenticated"
)

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// Verifier turns a bearer token into a verified identity. Failures wrap
// either ErrUnauthenticated or ErrTokenExpired.
type Verifier interface {
	Verify(ctx context.Context, token string) (types.Identity, error)
}

type Claims struct {
	Email       string `json:"email"`
	DisplayName string `json:"name,omitempty"`
	Use         string `json:"use"`
	jwt.StandardClaims
}

// JWTVerifier validates HS256 tokens minted by an Issuer sharing its key.
type JWTVerifier struct {
	key []byte
	use string
}

func NewJWTVerifier(key []byte) *JWTVerifier {
	return &JWTVerifier{key: key, use: tokenUseAccess}
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (types.Identity, error) {
	return verify(v.key, v.use, tokenString)
}

func verify(key []byte, use, tokenString string) (types.Identity, error) {
	if tokenString == "" {
		return types.Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors == jwt.ValidationErrorExpired {
			return types.Identity{}, ErrTokenExpired
		}
		return types.Identity{}, fmt.Errorf("%w: parse token: %v", ErrUnauthenticated, err)
	}

	if !token.Valid {
		return types.Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return types.Identity{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}
	if claims.Use != use {
		return types.Identity{}, fmt.Errorf("%w: wrong token use %q", ErrUnauthenticated, claims.Use)
	}

	identity := types.Identity{
		Id:          claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
	}
	if claims.ExpiresAt != 0 {
		identity.ExpiresAt = time.Unix(claims.ExpiresAt, 0)
	}

	return identity, nil
}

// Issuer mints access and refresh tokens for verified accounts.
type Issuer struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewIssuer(key []byte, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{key: key, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (i *Issuer) AccessToken(id types.Identity) (string, time.Time, error) {
	return i.sign(id, tokenUseAccess, i.accessTTL)
}

func (i *Issuer) RefreshToken(id types.Identity) (string, time.Time, error) {
	return i.sign(id, tokenUseRefresh, i.refreshTTL)
}

func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// VerifyRefresh validates a refresh token. Access tokens are rejected.
func (i *Issuer) VerifyRefresh(tokenString string) (types.Identity, error) {
	return verify(i.key, tokenUseRefresh, tokenString)
}

func (i *Issuer) sign(id types.Identity, use string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Use:         use,
		StandardClaims: jwt.StandardClaims{
			Subject:   id.Id,
			IssuedAt:  now.Unix(),
			ExpiresAt: exp.Unix(),
		},
	})

	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, exp, nil
}

// BearerToken extracts a token from the Authorization header, falling back
// to the "token" query parameter used by websocket handshakes from browsers.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}

	return r.URL.Query().Get("token")
}

// Describe maps a verification error to the client-facing message and code.
func Describe(err error) (message, code string) {
	if errors.Is(err, ErrTokenExpired) {
		return MessageTokenExpired, CodeTokenExpired
	}
	return MessageUnauthenticated, CodeUnauthenticated
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	id, ok := ctx.Value(identityKey).(types.Identity)
	return id, ok
}
