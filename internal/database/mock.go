package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockStore) GetRoomOwner(ctx context.Context, roomId string) (string, error) {
	args := m.Called(ctx, roomId)
	return args.String(0), args.Error(1)
}
func (m *MockStore) GetParticipant(ctx context.Context, roomId, userId string) (Participant, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockStore) UpsertParticipant(ctx context.Context, roomId, userId string, fields ParticipantUpdate) error {
	args := m.Called(ctx, roomId, userId, fields)
	return args.Error(0)
}
func (m *MockStore) ListParticipants(ctx context.Context, roomId string) ([]Participant, error) {
	args := m.Called(ctx, roomId)
	if p, ok := args.Get(0).([]Participant); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockStore) MarkAllOffline(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockStore) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockStore) GetRoom(ctx context.Context, roomId string) (Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockStore) ListRoomsByOwner(ctx context.Context, ownerId string) ([]Room, error) {
	args := m.Called(ctx, ownerId)
	if r, ok := args.Get(0).([]Room); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockStore) UpdateCanvas(ctx context.Context, params UpdateCanvasParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}
func (m *MockStore) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockStore) GetAccountById(ctx context.Context, id string) (Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(Account), args.Error(1)
}
