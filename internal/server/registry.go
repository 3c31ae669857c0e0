package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-whiteboard/internal/database"
	"github.com/npezzotti/go-whiteboard/internal/logger"
	"github.com/npezzotti/go-whiteboard/internal/stats"
	"github.com/npezzotti/go-whiteboard/internal/types"
	"golang.org/x/time/rate"
)

type Options struct {
	// StoreTimeout bounds every permission store call.
	StoreTimeout time.Duration
	// EventsPerSecond and EventBurst limit inbound events per session.
	// A non-positive rate disables the limit.
	EventsPerSecond float64
	EventBurst      int
}

// Registry tracks loaded rooms and connected sessions. Mutations of a room
// are serialized by the room's own lock; the registry lock only guards the
// room and session maps and is always taken before a room lock.
type Registry struct {
	log     *logger.Logger
	db      database.ParticipantStore
	stats   stats.StatsProvider
	timeout time.Duration
	limit   rate.Limit
	burst   int

	mu       sync.Mutex
	rooms    map[string]*Room
	writers  map[string]*presenceWriter
	sessions map[*Client]struct{}
	closing  bool

	sessionsWg sync.WaitGroup
	writersWg  sync.WaitGroup
}

func NewRegistry(l *logger.Logger, db database.ParticipantStore, s stats.StatsProvider, opts Options) *Registry {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}

	limit := rate.Inf
	if opts.EventsPerSecond > 0 {
		limit = rate.Limit(opts.EventsPerSecond)
	}
	burst := opts.EventBurst
	if burst <= 0 {
		burst = 1
	}

	return &Registry{
		log:      l,
		db:       db,
		stats:    s,
		timeout:  opts.StoreTimeout,
		limit:    limit,
		burst:    burst,
		rooms:    make(map[string]*Room),
		writers:  make(map[string]*presenceWriter),
		sessions: make(map[*Client]struct{}),
	}
}

// Register admits an authenticated session. It fails once Shutdown began.
func (r *Registry) Register(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return ErrShuttingDown
	}

	r.sessions[c] = struct{}{}
	r.sessionsWg.Add(1)
	r.stats.Incr(stats.ConnectedSessions)
	r.log.Debug("registered session %s for user %q", c.id, c.identity.Id)

	return nil
}

// SessionClosed is the disconnect handler. It leaves the session's room and
// forgets the session; repeated calls are no-ops.
func (r *Registry) SessionClosed(c *Client) {
	c.closeOnce.Do(func() {
		if room := c.currentRoom(); room != nil {
			r.Leave(c, room.id)
		}

		r.mu.Lock()
		_, registered := r.sessions[c]
		delete(r.sessions, c)
		r.mu.Unlock()

		if registered {
			r.stats.Decr(stats.ConnectedSessions)
			r.sessionsWg.Done()
		}
		r.log.Debug("closed session %s for user %q", c.id, c.identity.Id)
	})
}

// acquire returns the entry for roomId, loading it if needed, and marks a
// join in flight so the entry is not unloaded before the join is applied.
func (r *Registry) acquire(roomId string) (*Room, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return nil, 0, ErrShuttingDown
	}

	room, ok := r.rooms[roomId]
	if !ok {
		w := newPresenceWriter(roomId, r.db, r.log, r.timeout, r.writers[roomId])
		r.writers[roomId] = w
		r.writersWg.Add(1)
		go func() {
			defer r.writersWg.Done()
			w.run()
			r.forgetWriter(roomId, w)
		}()

		room = newRoom(roomId, r.log, r.stats, w)
		r.rooms[roomId] = room
		r.stats.Incr(stats.ActiveRooms)
		r.log.Debug("loaded room %q", roomId)
	}

	room.mu.Lock()
	room.pending++
	version := room.permVersion
	room.mu.Unlock()

	return room, version, nil
}

func (r *Registry) forgetWriter(roomId string, w *presenceWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writers[roomId] == w {
		delete(r.writers, roomId)
	}
}

// release undoes acquire for a join that was never applied.
func (r *Registry) release(room *Room) {
	room.mu.Lock()
	room.pending--
	room.mu.Unlock()

	r.maybeUnload(room)
}

// maybeUnload drops the entry once no session is attached and no join is in
// flight. Its presence writer drains before exiting.
func (r *Registry) maybeUnload(room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || !room.isEmpty() || room.pending > 0 {
		return
	}

	room.closed = true
	if r.rooms[room.id] == room {
		delete(r.rooms, room.id)
	}
	room.writes.close()
	r.stats.Decr(stats.ActiveRooms)
	r.log.Debug("unloaded room %q", room.id)
}

// Join attaches c to roomId and returns the session's permission there. A
// session is in at most one room: joining another room leaves the current
// one first. Joining the current room again only reports the permission.
func (r *Registry) Join(ctx context.Context, c *Client, roomId string) (types.Permission, bool, error) {
	if roomId == "" {
		return "", false, ErrRoomNotFound
	}

	if current := c.currentRoom(); current != nil {
		if current.id == roomId {
			current.mu.RLock()
			defer current.mu.RUnlock()
			return current.permission(c.identity.Id), c.identity.Id == current.ownerId, nil
		}
		r.log.Debug("session %s switching from room %q to %q", c.id, current.id, roomId)
		r.Leave(c, current.id)
	}

	room, version, err := r.acquire(roomId)
	if err != nil {
		return "", false, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ownerId, err := r.db.GetRoomOwner(storeCtx, roomId)
	if err != nil {
		r.release(room)
		if errors.Is(err, database.ErrNotFound) {
			return "", false, ErrRoomNotFound
		}
		return "", false, fmt.Errorf("get room owner: %w", err)
	}

	id := c.identity
	isOwner := id.Id == ownerId
	perm := types.PermissionEdit
	if !isOwner {
		p, err := r.db.GetParticipant(storeCtx, roomId, id.Id)
		switch {
		case errors.Is(err, database.ErrNotFound):
			perm = types.PermissionView
		case err != nil:
			r.release(room)
			return "", false, fmt.Errorf("get participant: %w", err)
		case p.Permission.Valid():
			perm = p.Permission
		default:
			perm = types.PermissionView
		}
	}

	joinedAt := Now()
	var written chan error

	room.mu.Lock()
	room.pending--
	room.ownerId = ownerId
	if !isOwner {
		// a permission update committed after the store read above wins
		if cached, ok := room.perms[id.Id]; ok && room.permVersion != version {
			perm = cached
		}
		room.perms[id.Id] = perm

		online := true
		fields := database.ParticipantUpdate{
			Email:       &id.Email,
			DisplayName: &id.DisplayName,
			IsOnline:    &online,
			JoinedAt:    &joinedAt,
		}
		written = make(chan error, 1)
		room.writes.enqueue(&presenceWrite{userId: id.Id, fields: fields, done: written})
	}
	room.addClient(c)
	c.setRoom(room)
	room.mu.Unlock()

	if written != nil {
		if err := <-written; err != nil {
			r.detach(c, room)
			return "", false, fmt.Errorf("mark participant online: %w", err)
		}
	}

	participant := types.Participant{
		UserId:      id.Id,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Permission:  perm,
		IsOnline:    true,
		IsOwner:     isOwner,
		JoinedAt:    joinedAt,
	}

	room.mu.RLock()
	if _, ok := room.clients[c]; ok {
		room.broadcast(push(EventParticipantJoined, participant), c)
	}
	room.mu.RUnlock()

	r.log.Info("user %q joined room %q with %s permission", id.Id, roomId, perm)
	return perm, isOwner, nil
}

// detach removes c from room without presence bookkeeping. It rolls back a
// join whose online write failed.
func (r *Registry) detach(c *Client, room *Room) {
	room.mu.Lock()
	room.removeClient(c)
	c.clearRoom(room)
	room.mu.Unlock()

	r.maybeUnload(room)
}

// Leave detaches c from roomId. When c was its user's last session in the
// room the participant is marked offline and the others are told. Leaving a
// room the session is not in is a no-op.
func (r *Registry) Leave(c *Client, roomId string) {
	room := c.currentRoom()
	if room == nil || room.id != roomId {
		r.log.Debug("session %s is not in room %q, ignoring leave", c.id, roomId)
		return
	}

	userId := c.identity.Id

	room.mu.Lock()
	removed, last := room.removeClient(c)
	c.clearRoom(room)
	if removed && last {
		if userId != room.ownerId {
			offline := false
			leftAt := Now()
			room.writes.enqueue(&presenceWrite{
				userId: userId,
				fields: database.ParticipantUpdate{IsOnline: &offline, LeftAt: &leftAt},
			})
		}
		room.broadcast(push(EventParticipantLeft, userId), nil)
	}
	room.mu.Unlock()

	if removed {
		r.log.Info("user %q left room %q", userId, roomId)
	}
	r.maybeUnload(room)
}

// UpdatePermission changes targetId's permission in roomId on behalf of
// requester, who must own the room. The new value is persisted, then applied
// to the cache and pushed to every session in the room before returning.
func (r *Registry) UpdatePermission(ctx context.Context, requester types.Identity, roomId, targetId string, perm types.Permission) error {
	if !perm.Valid() {
		return ErrInvalidPermission
	}
	if targetId == "" {
		return fmt.Errorf("%w: missing participant", ErrInvalidPermission)
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ownerId, err := r.db.GetRoomOwner(storeCtx, roomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("get room owner: %w", err)
	}

	if requester.Id != ownerId {
		return ErrForbidden
	}
	if targetId == ownerId {
		return ErrOwnerPermission
	}

	if err := r.db.UpsertParticipant(storeCtx, roomId, targetId, database.ParticipantUpdate{Permission: &perm}); err != nil {
		return fmt.Errorf("update permission: %w", err)
	}

	r.mu.Lock()
	room, ok := r.rooms[roomId]
	if !ok {
		r.mu.Unlock()
		r.log.Info("user %q set %q to %s in unloaded room %q", requester.Id, targetId, perm, roomId)
		return nil
	}
	room.mu.Lock()
	r.mu.Unlock()

	room.perms[targetId] = perm
	room.permVersion++
	room.broadcast(push(EventParticipantPermissionUpdated, types.PermissionChange{
		ParticipantId: targetId,
		Permission:    perm,
	}), nil)
	room.mu.Unlock()

	r.log.Info("user %q set %q to %s in room %q", requester.Id, targetId, perm, roomId)
	return nil
}

// CurrentPermission returns the cached permission of c in its room. The
// second result is false when c is not in a room.
func (r *Registry) CurrentPermission(c *Client) (types.Permission, bool) {
	room := c.currentRoom()
	if room == nil {
		return "", false
	}

	room.mu.RLock()
	defer room.mu.RUnlock()

	if _, ok := room.clients[c]; !ok {
		return "", false
	}
	return room.permission(c.identity.Id), true
}

// ResolvePermission answers permission queries that do not come from a live
// session. The owner resolves to edit; a user with no participant record
// resolves to view.
func (r *Registry) ResolvePermission(ctx context.Context, roomId, userId string) (types.Permission, bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ownerId, err := r.db.GetRoomOwner(storeCtx, roomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "", false, ErrRoomNotFound
		}
		return "", false, fmt.Errorf("get room owner: %w", err)
	}
	if userId == ownerId {
		return types.PermissionEdit, true, nil
	}

	p, err := r.db.GetParticipant(storeCtx, roomId, userId)
	if errors.Is(err, database.ErrNotFound) {
		return types.PermissionView, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get participant: %w", err)
	}
	if !p.Permission.Valid() {
		return types.PermissionView, false, nil
	}

	return p.Permission, false, nil
}

// Relay delivers an event from c to every other session in roomId. Mutating
// events from view-only sessions are refused with ErrViewOnly and events for
// a room c has not joined with ErrNotInRoom.
func (r *Registry) Relay(c *Client, roomId, event string, data json.RawMessage) error {
	room := c.currentRoom()
	if room == nil || room.id != roomId {
		return ErrNotInRoom
	}

	var msg *ServerMessage
	mutating := false
	switch event {
	case EventCanvasUpdate:
		mutating = true
		msg = push(EventReceiveUpdate, data)
	case EventCursorUpdate:
		msg = push(EventReceiveCursor, CursorUpdate{UserId: c.identity.Id, Data: data})
	default:
		return fmt.Errorf("event %q cannot be relayed", event)
	}

	room.mu.RLock()
	defer room.mu.RUnlock()

	if _, ok := room.clients[c]; !ok {
		return ErrNotInRoom
	}
	if mutating && !room.permission(c.identity.Id).CanEdit() {
		r.stats.Incr(stats.DroppedUpdates)
		return ErrViewOnly
	}

	room.broadcast(msg, c)
	r.stats.Incr(stats.RelayedUpdates)
	return nil
}

// Shutdown disconnects every session and waits until their rooms are left
// and all pending presence writes are applied, or ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	for c := range r.sessions {
		c.closeWith(websocket.CloseGoingAway, "server shutting down", nil)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.sessionsWg.Wait()
		r.writersWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("registry shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
