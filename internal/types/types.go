package types

import (
	"time"
)

type Permission string

const (
	PermissionEdit Permission = "edit"
	PermissionView Permission = "view"
)

func (p Permission) Valid() bool {
	return p == PermissionEdit || p == PermissionView
}

func (p Permission) CanEdit() bool {
	return p == PermissionEdit
}

// Identity is a verified caller. It is only produced by a credential
// verifier and never changes for the lifetime of a connection.
type Identity struct {
	Id          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	ExpiresAt   time.Time `json:"-"`
}

// Expired reports whether the token the identity was verified from has
// expired at t. A zero ExpiresAt never expires.
func (i Identity) Expired(t time.Time) bool {
	return !i.ExpiresAt.IsZero() && !t.Before(i.ExpiresAt)
}

type Participant struct {
	UserId      string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName,omitempty"`
	Permission  Permission `json:"permission"`
	IsOnline    bool       `json:"isOnline"`
	IsOwner     bool       `json:"isOwner,omitempty"`
	JoinedAt    time.Time  `json:"joinedAt"`
	LeftAt      *time.Time `json:"leftAt,omitempty"`
}

type Room struct {
	RoomId         string    `json:"roomId"`
	Name           string    `json:"roomName"`
	OwnerId        string    `json:"owner"`
	IsPublic       bool      `json:"isPublic"`
	CanvasData     string    `json:"canvasData,omitempty"`
	IsCompressed   bool      `json:"isCompressed"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type PermissionChange struct {
	ParticipantId string     `json:"participantId"`
	Permission    Permission `json:"permission"`
}
