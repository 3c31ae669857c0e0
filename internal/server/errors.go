package server

import "errors"

var (
	// ErrForbidden is returned when a non-owner attempts an owner-only change.
	ErrForbidden = errors.New("only the room owner can update participant permissions")

	// ErrRoomNotFound is returned for joins and updates against an unknown room.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNotInRoom is returned for events from a session that has not joined
	// the room named in the event. Callers drop these events.
	ErrNotInRoom = errors.New("session not in room")

	// ErrViewOnly is returned when a view-only session sends a mutating event.
	// Callers drop these events.
	ErrViewOnly = errors.New("view permission cannot edit")

	ErrInvalidPermission = errors.New("valid permission required (edit or view)")
	ErrOwnerPermission   = errors.New("the room owner's permission cannot be changed")
	ErrShuttingDown      = errors.New("server is shutting down")

	errWriterClosed = errors.New("presence writer closed")
)
