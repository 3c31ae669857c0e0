package database

import (
	"time"

	"github.com/npezzotti/go-whiteboard/internal/types"
)

type Account struct {
	Id           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id             string
	Name           string
	OwnerId        string
	IsPublic       bool
	PasswordHash   string
	CanvasData     string
	IsCompressed   bool
	LastModifiedBy string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r Room) ToType() types.Room {
	return types.Room{
		RoomId:         r.Id,
		Name:           r.Name,
		OwnerId:        r.OwnerId,
		IsPublic:       r.IsPublic,
		CanvasData:     r.CanvasData,
		IsCompressed:   r.IsCompressed,
		LastModifiedBy: r.LastModifiedBy,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type Participant struct {
	RoomId      string
	UserId      string
	Email       string
	DisplayName string
	Permission  types.Permission
	IsOnline    bool
	JoinedAt    time.Time
	LeftAt      *time.Time
	UpdatedAt   time.Time
}

func (p Participant) ToType() types.Participant {
	return types.Participant{
		UserId:      p.UserId,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Permission:  p.Permission,
		IsOnline:    p.IsOnline,
		JoinedAt:    p.JoinedAt,
		LeftAt:      p.LeftAt,
	}
}

// ParticipantUpdate lists the participant fields to write. Nil fields are
// left untouched on an existing record; a new record gets the column
// defaults (permission "view", offline).
type ParticipantUpdate struct {
	Email       *string
	DisplayName *string
	Permission  *types.Permission
	IsOnline    *bool
	JoinedAt    *time.Time
	LeftAt      *time.Time
}

type CreateAccountParams struct {
	Id           string
	Email        string
	DisplayName  string
	PasswordHash string
}

type CreateRoomParams struct {
	Id           string
	Name         string
	OwnerId      string
	IsPublic     bool
	PasswordHash string
	CanvasData   string
	IsCompressed bool
}

type UpdateCanvasParams struct {
	RoomId       string
	CanvasData   string
	IsCompressed bool
	ModifiedBy   string
}
