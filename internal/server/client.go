package server

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-whiteboard/internal/auth"
	"github.com/npezzotti/go-whiteboard/internal/logger"
	"github.com/npezzotti/go-whiteboard/internal/stats"
	"github.com/npezzotti/go-whiteboard/internal/types"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueueSize  = 256
)

type closeReq struct {
	code  int
	text  string
	final *ServerMessage
}

// Client is one authenticated websocket session. It is attached to at most
// one room at a time.
type Client struct {
	id          uuid.UUID
	conn        *websocket.Conn
	registry    *Registry
	log         *logger.Logger
	stats       stats.StatsProvider
	identity    types.Identity
	connectedAt time.Time
	send        chan *ServerMessage
	limiter     *rate.Limiter
	now         func() time.Time

	mu   sync.Mutex
	room *Room

	stop      chan struct{}
	stopOnce  sync.Once
	closing   closeReq
	closeOnce sync.Once
}

func NewClient(identity types.Identity, conn *websocket.Conn, r *Registry, l *logger.Logger) *Client {
	return &Client{
		id:          uuid.New(),
		conn:        conn,
		registry:    r,
		log:         l,
		stats:       r.stats,
		identity:    identity,
		connectedAt: time.Now(),
		send:        make(chan *ServerMessage, sendQueueSize),
		limiter:     rate.NewLimiter(r.limit, r.burst),
		now:         time.Now,
		stop:        make(chan struct{}),
	}
}

func (c *Client) Identity() types.Identity {
	return c.identity
}

func (c *Client) currentRoom() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
}

// clearRoom detaches the client from r if it is still its room.
func (c *Client) clearRoom(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == r {
		c.room = nil
	}
}

// queueMessage never blocks. It reports false when the outbound queue is
// full.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Debug("send queue full for session %s", c.id)
		return false
	}

	return true
}

// closeWith stops the session. The write pump sends final, if any, then a
// close frame with code and text. Only the first call has an effect.
func (c *Client) closeWith(code int, text string, final *ServerMessage) {
	c.stopOnce.Do(func() {
		c.closing = closeReq{code: code, text: text, final: final}
		close(c.stop)
	})
}

func (c *Client) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Client) disconnect() {
	c.closeWith(websocket.CloseNormalClosure, "", nil)
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting for session %s", c.id)
	}()

	// idle sessions send nothing to dispatch, so expiry needs its own timer
	var expiry <-chan time.Time
	if !c.identity.ExpiresAt.IsZero() {
		timer := time.NewTimer(c.identity.ExpiresAt.Sub(c.now()))
		defer timer.Stop()
		expiry = timer.C
	}

	for {
		select {
		case msg := <-c.send:
			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("failed to serialize message: %v", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				c.disconnect()
				return
			}
		case <-c.stop:
			c.writeClose()
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				c.disconnect()
				return
			}
		case <-expiry:
			expiry = nil
			c.expire()
		}
	}
}

func (c *Client) writeClose() {
	req := c.closing
	if req.final != nil {
		if bytes, err := json.Marshal(req.final); err == nil {
			c.sendMessage(websocket.TextMessage, bytes)
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(req.code, req.text))
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Error("write message: %v", err)
		}
		return false
	}

	return true
}

func (c *Client) Read() {
	defer func() {
		c.registry.SessionClosed(c)
		c.disconnect()
		c.log.Debug("read exiting for session %s", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Error("ws: read: %v", err)
			}
			return
		}

		if !c.dispatch(raw) {
			return
		}
	}
}

// dispatch handles one inbound frame. It returns false when the session must
// end.
func (c *Client) dispatch(raw []byte) (keep bool) {
	var msg ClientMessage
	keep = true
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic handling %q from session %s: %v\n%s", msg.Event, c.id, r, debug.Stack())
			c.queueMessage(ErrInternalError(msg.Id))
			keep = true
		}
	}()

	if c.identity.Expired(c.now()) {
		c.expire()
		return false
	}

	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debug("error parsing message from session %s: %v", c.id, err)
		c.queueMessage(ErrInvalidMessage(0))
		return true
	}

	if !c.limiter.Allow() {
		switch msg.Event {
		case EventCanvasUpdate, EventCursorUpdate:
			c.stats.Incr(stats.DroppedUpdates)
			c.log.Debug("rate limited %q from session %s", msg.Event, c.id)
		default:
			c.queueMessage(ErrTooManyRequests(msg.Id))
		}
		return true
	}

	switch msg.Event {
	case EventJoinRoom:
		c.handleJoin(&msg)
	case EventLeaveRoom:
		c.handleLeave(&msg)
	case EventCanvasUpdate, EventCursorUpdate:
		c.handleRelay(&msg)
	case EventPermissionUpdated:
		c.handlePermissionUpdate(&msg)
	default:
		c.queueMessage(ErrUnknownEvent(msg.Id))
	}

	return true
}

// expire tells the client its token has expired and closes the session so
// it reconnects with a fresh token.
func (c *Client) expire() {
	message, code := auth.Describe(auth.ErrTokenExpired)
	c.log.Info("token expired for user %q, closing session %s", c.identity.Id, c.id)
	c.closeWith(CloseTokenExpired, message, push(EventSessionExpired, ErrorDetail{
		Message: message,
		Code:    code,
	}))
}

func (c *Client) handleJoin(msg *ClientMessage) {
	perm, isOwner, err := c.registry.Join(context.Background(), c, msg.RoomId)
	if err != nil {
		switch {
		case errors.Is(err, ErrRoomNotFound):
			c.queueMessage(ErrNotFound(msg.Id))
		case errors.Is(err, ErrShuttingDown):
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		default:
			c.log.Error("join room %q: %v", msg.RoomId, err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"roomId":     msg.RoomId,
		"permission": perm,
		"isOwner":    isOwner,
	}))
}

func (c *Client) handleLeave(msg *ClientMessage) {
	c.registry.Leave(c, msg.RoomId)
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) handleRelay(msg *ClientMessage) {
	err := c.registry.Relay(c, msg.RoomId, msg.Event, msg.Data)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotInRoom), errors.Is(err, ErrViewOnly):
		c.log.Debug("dropped %q from session %s in room %q: %v", msg.Event, c.id, msg.RoomId, err)
	default:
		c.log.Error("relay %q in room %q: %v", msg.Event, msg.RoomId, err)
	}
}

func (c *Client) handlePermissionUpdate(msg *ClientMessage) {
	err := c.registry.UpdatePermission(context.Background(), c.identity, msg.RoomId, msg.ParticipantId, msg.Permission)
	switch {
	case err == nil:
		c.queueMessage(NoErrOK(msg.Id, map[string]any{
			"participantId": msg.ParticipantId,
			"permission":    msg.Permission,
		}))
	case errors.Is(err, ErrForbidden):
		c.queueMessage(ErrPermissionDenied(msg.Id))
	case errors.Is(err, ErrRoomNotFound):
		c.queueMessage(ErrNotFound(msg.Id))
	case errors.Is(err, ErrInvalidPermission), errors.Is(err, ErrOwnerPermission):
		c.queueMessage(ErrBadRequest(msg.Id, err.Error()))
	default:
		c.log.Error("update permission in room %q: %v", msg.RoomId, err)
		c.queueMessage(ErrInternalError(msg.Id))
	}
}

// RejectConnection writes a connect-error frame describing a failed token
// verification and closes conn with 4002 for an expired token and 4001
// otherwise.
func RejectConnection(conn *websocket.Conn, err error) {
	defer conn.Close()

	message, code := auth.Describe(err)
	closeCode := CloseUnauthenticated
	if errors.Is(err, auth.ErrTokenExpired) {
		closeCode = CloseTokenExpired
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(push(EventConnectError, ErrorDetail{Message: message, Code: code}))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, message))
}
