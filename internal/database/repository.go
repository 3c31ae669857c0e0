package database

import "context"

// ParticipantStore is the permission store bridge used by the room registry.
type ParticipantStore interface {
	GetRoomOwner(ctx context.Context, roomId string) (string, error)
	GetParticipant(ctx context.Context, roomId, userId string) (Participant, error)
	UpsertParticipant(ctx context.Context, roomId, userId string, fields ParticipantUpdate) error
}

type Store interface {
	ParticipantStore
	Ping(ctx context.Context) error
	ListParticipants(ctx context.Context, roomId string) ([]Participant, error)
	MarkAllOffline(ctx context.Context) (int64, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoom(ctx context.Context, roomId string) (Room, error)
	ListRoomsByOwner(ctx context.Context, ownerId string) ([]Room, error)
	UpdateCanvas(ctx context.Context, params UpdateCanvasParams) error
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetAccountById(ctx context.Context, id string) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
}
