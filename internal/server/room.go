package server

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-whiteboard/internal/logger"
	"github.com/npezzotti/go-whiteboard/internal/stats"
	"github.com/npezzotti/go-whiteboard/internal/types"
)

// Room is the registry entry of a loaded room: its attached sessions and the
// permission cache used to authorize relays. All fields below mu are guarded
// by it.
type Room struct {
	id     string
	log    *logger.Logger
	stats  stats.StatsProvider
	writes *presenceWriter

	mu      sync.RWMutex
	ownerId string
	clients map[*Client]struct{}
	userMap map[string]map[*Client]struct{}
	perms   map[string]types.Permission
	// permVersion is bumped by every permission update applied to perms.
	permVersion uint64
	// pending counts joins that have been admitted but not yet applied.
	pending int
	closed  bool
}

func newRoom(id string, l *logger.Logger, s stats.StatsProvider, w *presenceWriter) *Room {
	return &Room{
		id:      id,
		log:     l,
		stats:   s,
		writes:  w,
		clients: make(map[*Client]struct{}),
		userMap: make(map[string]map[*Client]struct{}),
		perms:   make(map[string]types.Permission),
	}
}

// permission returns the cached permission of userId. The owner always
// resolves to edit. Callers hold mu.
func (r *Room) permission(userId string) types.Permission {
	if userId == r.ownerId {
		return types.PermissionEdit
	}
	return r.perms[userId]
}

func (r *Room) addClient(c *Client) {
	r.clients[c] = struct{}{}

	userId := c.identity.Id
	if r.userMap[userId] == nil {
		r.userMap[userId] = make(map[*Client]struct{})
	}
	r.userMap[userId][c] = struct{}{}
}

// removeClient detaches c and reports whether c was attached and whether it
// was the last session of its user in the room.
func (r *Room) removeClient(c *Client) (removed, last bool) {
	if _, ok := r.clients[c]; !ok {
		return false, false
	}
	delete(r.clients, c)

	userId := c.identity.Id
	if userClients, ok := r.userMap[userId]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, userId)
			return true, true
		}
	}

	return true, false
}

func (r *Room) isEmpty() bool {
	return len(r.clients) == 0
}

// broadcast queues msg for every attached session except skip. Sessions
// whose queue is full are disconnected. Callers hold mu.
func (r *Room) broadcast(msg *ServerMessage, skip *Client) int {
	delivered := 0
	for client := range r.clients {
		if client == skip {
			continue
		}

		if !client.queueMessage(msg) {
			if client.stopped() {
				continue
			}
			r.log.Info("disconnecting slow session %s of user %q in room %q", client.id, client.identity.Id, r.id)
			client.closeWith(websocket.CloseTryAgainLater, "slow consumer", nil)
			r.stats.Incr(stats.SlowConsumerDisconnects)
			continue
		}
		delivered++
	}

	return delivered
}
