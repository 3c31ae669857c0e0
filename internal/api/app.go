package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-whiteboard/internal/auth"
	"github.com/npezzotti/go-whiteboard/internal/config"
	"github.com/npezzotti/go-whiteboard/internal/database"
	"github.com/npezzotti/go-whiteboard/internal/logger"
	"github.com/npezzotti/go-whiteboard/internal/server"
)

// App is the HTTP surface of the whiteboard service and the websocket
// gateway. HTTP routes and the gateway share one token verifier.
type App struct {
	log            *logger.Logger
	db             database.Store
	registry       *server.Registry
	verifier       auth.Verifier
	issuer         *auth.Issuer
	srv            *http.Server
	allowedOrigins []string
}

func NewApp(mux *http.ServeMux, l *logger.Logger, reg *server.Registry, db database.Store, v auth.Verifier, iss *auth.Issuer, cfg *config.Config) *App {
	s := &App{
		log:            l,
		db:             db,
		registry:       reg,
		verifier:       v,
		issuer:         iss,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("POST /api/auth/refresh", s.refresh)
	mux.HandleFunc("POST /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.HandleFunc("POST /api/rooms/join", s.authMiddleware(s.joinRoom))
	mux.HandleFunc("GET /api/rooms/{roomId}", s.authMiddleware(s.getRoom))
	mux.HandleFunc("PUT /api/rooms/{roomId}", s.authMiddleware(s.updateCanvas))
	mux.HandleFunc("GET /api/rooms/{roomId}/participants", s.authMiddleware(s.listParticipants))
	mux.HandleFunc("PUT /api/rooms/{roomId}/participants/{participantId}", s.authMiddleware(s.updateParticipantPermission))
	mux.HandleFunc("GET /api/rooms/{roomId}/my-permission", s.authMiddleware(s.myPermission))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *App) Handler() http.Handler {
	return s.srv.Handler
}

func (s *App) Start() error {
	s.log.Info("starting server on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting HTTP requests. Websocket sessions are hijacked
// connections and are closed by the registry.
func (s *App) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
