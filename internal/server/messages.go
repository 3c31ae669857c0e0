package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/npezzotti/go-whiteboard/internal/types"
)

// Client to server events.
const (
	EventJoinRoom          = "join-room"
	EventLeaveRoom         = "leave-room"
	EventCanvasUpdate      = "canvas-update"
	EventCursorUpdate      = "cursor-update"
	EventPermissionUpdated = "permission-updated"
)

// Server to client events.
const (
	EventReceiveUpdate                = "receive-update"
	EventReceiveCursor                = "receive-cursor"
	EventParticipantJoined            = "participant-joined"
	EventParticipantLeft              = "participant-left"
	EventParticipantPermissionUpdated = "participant-permission-updated"
	EventSessionExpired               = "session-expired"
	EventConnectError                 = "connect-error"
)

// Websocket close codes in the private range.
const (
	CloseUnauthenticated = 4001
	CloseTokenExpired    = 4002
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Event         string           `json:"event"`
	RoomId        string           `json:"roomId,omitempty"`
	Data          json.RawMessage  `json:"data,omitempty"`
	ParticipantId string           `json:"participantId,omitempty"`
	Permission    types.Permission `json:"permission,omitempty"`
}

// ServerMessage is either a reply to a request-style client event, carrying
// Response, or a push carrying Event and Data.
type ServerMessage struct {
	BaseMessage
	Event    string    `json:"event,omitempty"`
	Data     any       `json:"data,omitempty"`
	Response *Response `json:"response,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Code         string         `json:"code,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// ErrorDetail is the payload of connect-error and session-expired pushes.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type CursorUpdate struct {
	UserId string          `json:"userId"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func push(event string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: event,
		Data:  data,
	}
}

func reply(id, status int, errMsg, code string, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: status,
			Error:        errMsg,
			Code:         code,
			Data:         data,
		},
	}
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return reply(id, http.StatusOK, "", "", data)
}

func ErrBadRequest(id int, msg string) *ServerMessage {
	return reply(id, http.StatusBadRequest, msg, "bad_request", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	return ErrBadRequest(id, "invalid message format")
}

func ErrUnknownEvent(id int) *ServerMessage {
	return ErrBadRequest(id, "unknown event")
}

func ErrPermissionDenied(id int) *ServerMessage {
	return reply(id, http.StatusForbidden, ErrForbidden.Error(), "forbidden", nil)
}

func ErrNotFound(id int) *ServerMessage {
	return reply(id, http.StatusNotFound, ErrRoomNotFound.Error(), "room_not_found", nil)
}

func ErrTooManyRequests(id int) *ServerMessage {
	return reply(id, http.StatusTooManyRequests, "too many requests", "rate_limited", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return reply(id, http.StatusInternalServerError, "internal server error", "internal", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return reply(id, http.StatusServiceUnavailable, "service unavailable", "unavailable", nil)
}
