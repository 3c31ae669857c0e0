package api

import (
	"fmt"
	"net/http"

	"github.com/npezzotti/go-whiteboard/internal/auth"
)

func (s *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware verifies the bearer token and stores the resulting
// identity in the request context.
func (s *App) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.verifier.Verify(r.Context(), auth.BearerToken(r))
		if err != nil {
			s.log.Debug("rejected token for %s %s: %v", r.Method, r.URL.Path, err)
			errResp := NewAuthError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := auth.WithIdentity(r.Context(), identity)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}
