package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/npezzotti/go-whiteboard/internal/auth"
	"github.com/npezzotti/go-whiteboard/internal/database"
	"github.com/npezzotti/go-whiteboard/internal/server"
	"github.com/npezzotti/go-whiteboard/internal/types"
	"github.com/teris-io/shortid"
)

const defaultRoomName = "Untitled Room"

type CreateRoomRequest struct {
	Name         string `json:"name"`
	IsPublic     bool   `json:"isPublic"`
	Password     string `json:"password"`
	CanvasData   string `json:"canvasData"`
	IsCompressed bool   `json:"isCompressed"`
}

type JoinRoomRequest struct {
	RoomId   string `json:"roomId"`
	IsPublic bool   `json:"isPublic"`
	Password string `json:"password"`
}

type UpdateCanvasRequest struct {
	CanvasData   string `json:"canvasData"`
	IsCompressed bool   `json:"isCompressed"`
}

type UpdatePermissionRequest struct {
	Permission types.Permission `json:"permission"`
}

type MyPermissionResponse struct {
	Permission types.Permission `json:"permission"`
	IsOwner    bool             `json:"isOwner"`
}

// requireIdentity writes a 401 and returns false when the request carries
// no verified identity.
func (s *App) requireIdentity(w http.ResponseWriter, r *http.Request) (types.Identity, bool) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
	}
	return identity, ok
}

func (s *App) createRoom(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.CanvasData == "" {
		errResp := NewInvalidPayloadError("canvas data is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !req.IsPublic && req.Password == "" {
		errResp := NewInvalidPayloadError("password is required for private rooms")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if req.Name == "" {
		req.Name = defaultRoomName
	}

	var pwdHash string
	if !req.IsPublic {
		var err error
		if pwdHash, err = hashPassword(req.Password); err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	roomId, err := shortid.Generate()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.CreateRoom(r.Context(), database.CreateRoomParams{
		Id:           roomId,
		Name:         req.Name,
		OwnerId:      identity.Id,
		IsPublic:     req.IsPublic,
		PasswordHash: pwdHash,
		CanvasData:   req.CanvasData,
		IsCompressed: req.IsCompressed,
	})
	if err != nil {
		s.log.Error("create room: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.log.Info("user %q created room %q", identity.Id, room.Id)

	resp := room.ToType()
	resp.CanvasData = ""
	s.writeJson(w, http.StatusCreated, resp)
}

// joinRoom checks that a room exists, is of the type the caller expects and,
// for private rooms, that the password matches. A successful private join
// records the caller as a participant; presence starts with the websocket
// join-room event.
func (s *App) joinRoom(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	var req JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if req.RoomId == "" {
		errResp := NewInvalidPayloadError("room id is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, ok := s.loadRoom(w, r, req.RoomId)
	if !ok {
		return
	}

	if room.IsPublic != req.IsPublic {
		msg := "this room is public"
		if req.IsPublic {
			msg = "this room is private"
		}
		errResp := NewInvalidPayloadError(msg)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !room.IsPublic && !verifyPassword(room.PasswordHash, req.Password) {
		s.log.Debug("user %q gave a wrong password for room %q", identity.Id, room.Id)
		errResp := &ApiError{StatusCode: http.StatusUnauthorized, Message: "incorrect password", Code: "incorrect_password"}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// passing the password makes the caller a participant of the private
	// room; permission and presence keep their stored or default values
	if !room.IsPublic && room.OwnerId != identity.Id {
		err := s.db.UpsertParticipant(r.Context(), room.Id, identity.Id, database.ParticipantUpdate{
			Email:       &identity.Email,
			DisplayName: &identity.DisplayName,
		})
		if err != nil {
			s.log.Error("record participant %q in room %q: %v", identity.Id, room.Id, err)
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	s.writeJson(w, http.StatusOK, room.ToType())
}

func (s *App) listRooms(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	rooms, err := s.db.ListRoomsByOwner(r.Context(), identity.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := make([]types.Room, 0, len(rooms))
	for _, room := range rooms {
		resp = append(resp, room.ToType())
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *App) getRoom(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	room, ok := s.loadRoom(w, r, r.PathValue("roomId"))
	if !ok {
		return
	}

	if !room.IsPublic && room.OwnerId != identity.Id {
		_, err := s.db.GetParticipant(r.Context(), room.Id, identity.Id)
		if err != nil {
			var errResp *ApiError
			if errors.Is(err, database.ErrNotFound) {
				errResp = NewForbiddenError()
			} else {
				errResp = NewInternalServerError(err)
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	s.writeJson(w, http.StatusOK, room.ToType())
}

// updateCanvas saves a canvas snapshot. The owner and edit participants may
// save, the same rule the relay applies to live canvas updates.
func (s *App) updateCanvas(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	var req UpdateCanvasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if req.CanvasData == "" {
		errResp := NewInvalidPayloadError("canvas data is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("roomId")
	perm, _, err := s.registry.ResolvePermission(r.Context(), roomId, identity.Id)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	if !perm.CanEdit() {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	err = s.db.UpdateCanvas(r.Context(), database.UpdateCanvasParams{
		RoomId:       roomId,
		CanvasData:   req.CanvasData,
		IsCompressed: req.IsCompressed,
		ModifiedBy:   identity.Id,
	})
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{
		"message": "room updated successfully",
		"roomId":  roomId,
	})
}

func (s *App) listParticipants(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	roomId := r.PathValue("roomId")
	ownerId, err := s.db.GetRoomOwner(r.Context(), roomId)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	if ownerId != identity.Id {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	participants, err := s.db.ListParticipants(r.Context(), roomId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := make([]types.Participant, 0, len(participants))
	for _, p := range participants {
		resp = append(resp, p.ToType())
	}

	s.writeJson(w, http.StatusOK, resp)
}

// updateParticipantPermission goes through the registry so live sessions
// in the room see the change.
func (s *App) updateParticipantPermission(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	var req UpdatePermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	participantId := r.PathValue("participantId")
	err := s.registry.UpdatePermission(r.Context(), identity, r.PathValue("roomId"), participantId, req.Permission)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"success":       true,
		"participantId": participantId,
		"permission":    req.Permission,
	})
}

func (s *App) myPermission(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	perm, isOwner, err := s.registry.ResolvePermission(r.Context(), r.PathValue("roomId"), identity.Id)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, MyPermissionResponse{Permission: perm, IsOwner: isOwner})
}

func (s *App) loadRoom(w http.ResponseWriter, r *http.Request, roomId string) (database.Room, bool) {
	room, err := s.db.GetRoom(r.Context(), roomId)
	if err != nil {
		s.writeRegistryError(w, err)
		return database.Room{}, false
	}
	return room, true
}

// writeRegistryError maps registry and store errors to API errors.
func (s *App) writeRegistryError(w http.ResponseWriter, err error) {
	var errResp *ApiError
	switch {
	case errors.Is(err, server.ErrRoomNotFound), errors.Is(err, database.ErrNotFound):
		errResp = NewRoomNotFoundError()
	case errors.Is(err, server.ErrForbidden):
		errResp = NewForbiddenError()
	case errors.Is(err, server.ErrInvalidPermission):
		errResp = NewInvalidPayloadError("valid permission required (edit or view)")
	case errors.Is(err, server.ErrOwnerPermission):
		errResp = NewInvalidPayloadError("the room owner always has edit permission")
	default:
		s.log.Error("request failed: %v", err)
		errResp = NewInternalServerError(err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}
