package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-whiteboard/internal/auth"
	"github.com/npezzotti/go-whiteboard/internal/server"
)

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode: %v", err)
	}
}

func (s *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error("health check: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *App) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
}

// serveWs is the session gateway handshake. The token is verified before
// any session exists. A websocket client whose token is rejected is told
// why over the socket so it can tell an expired token from a bad one.
func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	identity, err := s.verifier.Verify(r.Context(), auth.BearerToken(r))
	if err != nil {
		s.log.Debug("rejected websocket handshake: %v", err)
		if !websocket.IsWebSocketUpgrade(r) {
			errResp := NewAuthError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		conn, upgradeErr := s.upgrader().Upgrade(w, r, nil)
		if upgradeErr != nil {
			s.log.Error("error upgrading connection: %v", upgradeErr)
			return
		}
		server.RejectConnection(conn, err)
		return
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("error upgrading connection: %v", err)
		return
	}

	client := server.NewClient(identity, conn, s.registry, s.log)
	if err := s.registry.Register(client); err != nil {
		if errors.Is(err, server.ErrShuttingDown) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
		}
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
