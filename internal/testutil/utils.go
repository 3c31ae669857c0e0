package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/npezzotti/go-whiteboard/internal/auth"
	"github.com/npezzotti/go-whiteboard/internal/logger"
	"github.com/npezzotti/go-whiteboard/internal/types"
)

// SigningKey is the HMAC key shared by test issuers and verifiers.
var SigningKey = []byte("test-signing-key")

func TestLogger(t *testing.T) *logger.Logger {
	l := logger.New(os.Stdout, "[test] ", true)
	t.Cleanup(func() {
		l.SetOutput(os.Stderr)
	})
	return l
}

// Token mints an access token for id valid for ttl. A negative ttl yields an
// already expired token.
func Token(t *testing.T, id types.Identity, ttl time.Duration) string {
	t.Helper()

	token, _, err := auth.NewIssuer(SigningKey, ttl, time.Hour).AccessToken(id)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}
