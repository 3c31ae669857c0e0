package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-whiteboard/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(DriverSQLite, dsn)
	require.NoError(t, err, "failed to open sqlite store")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(), "failed to migrate sqlite store")
	return db
}

func createTestRoom(t *testing.T, db *SQLStore, id, ownerId string) Room {
	t.Helper()

	room, err := db.CreateRoom(context.Background(), CreateRoomParams{
		Id:         id,
		Name:       "room " + id,
		OwnerId:    ownerId,
		IsPublic:   true,
		CanvasData: `{"elements":[]}`,
	})
	require.NoError(t, err, "failed to create room")
	return room
}

func ptr[T any](v T) *T {
	return &v
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestStore(t)
	assert.NoError(t, db.Migrate(), "expected second migration run to be a no-op")
	assert.NoError(t, db.Ping(context.Background()))
}

func TestGetRoomOwner(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	createTestRoom(t, db, "room-1", "owner-1")

	owner, err := db.GetRoomOwner(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", owner)

	_, err = db.GetRoomOwner(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertParticipant(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	createTestRoom(t, db, "room-1", "owner-1")

	_, err := db.GetParticipant(ctx, "room-1", "user-1")
	assert.ErrorIs(t, err, ErrNotFound, "expected no participant before first upsert")

	joinedAt := time.Now().UTC().Truncate(time.Second)
	err = db.UpsertParticipant(ctx, "room-1", "user-1", ParticipantUpdate{
		Email:       ptr("alice@example.com"),
		DisplayName: ptr("Alice"),
		IsOnline:    ptr(true),
		JoinedAt:    &joinedAt,
	})
	require.NoError(t, err)

	p, err := db.GetParticipant(ctx, "room-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", p.Email)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, types.PermissionView, p.Permission, "expected new participants to default to view")
	assert.True(t, p.IsOnline)
	assert.True(t, joinedAt.Equal(p.JoinedAt), "expected joined_at %v, got %v", joinedAt, p.JoinedAt)
	assert.Nil(t, p.LeftAt)

	t.Run("permission change keeps presence", func(t *testing.T) {
		err := db.UpsertParticipant(ctx, "room-1", "user-1", ParticipantUpdate{
			Permission: ptr(types.PermissionEdit),
		})
		require.NoError(t, err)

		p, err := db.GetParticipant(ctx, "room-1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, types.PermissionEdit, p.Permission)
		assert.True(t, p.IsOnline)
		assert.Equal(t, "Alice", p.DisplayName)
	})

	t.Run("going offline keeps permission", func(t *testing.T) {
		leftAt := time.Now().UTC().Truncate(time.Second)
		err := db.UpsertParticipant(ctx, "room-1", "user-1", ParticipantUpdate{
			IsOnline: ptr(false),
			LeftAt:   &leftAt,
		})
		require.NoError(t, err)

		p, err := db.GetParticipant(ctx, "room-1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, types.PermissionEdit, p.Permission)
		assert.False(t, p.IsOnline)
		require.NotNil(t, p.LeftAt)
		assert.True(t, leftAt.Equal(*p.LeftAt))
	})

	t.Run("permission for a user who never joined", func(t *testing.T) {
		err := db.UpsertParticipant(ctx, "room-1", "user-2", ParticipantUpdate{
			Permission: ptr(types.PermissionEdit),
		})
		require.NoError(t, err)

		p, err := db.GetParticipant(ctx, "room-1", "user-2")
		require.NoError(t, err)
		assert.Equal(t, types.PermissionEdit, p.Permission)
		assert.False(t, p.IsOnline)
	})
}

func TestUpsertParticipant_InvalidPermission(t *testing.T) {
	db := newTestStore(t)
	createTestRoom(t, db, "room-1", "owner-1")

	err := db.UpsertParticipant(context.Background(), "room-1", "user-1", ParticipantUpdate{
		Permission: ptr(types.Permission("admin")),
	})
	assert.Error(t, err, "expected check constraint to reject unknown permission")
}

func TestListParticipants(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	createTestRoom(t, db, "room-1", "owner-1")
	createTestRoom(t, db, "room-2", "owner-1")

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"user-1", "user-2"} {
		joinedAt := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, db.UpsertParticipant(ctx, "room-1", id, ParticipantUpdate{
			Email:    ptr(id + "@example.com"),
			IsOnline: ptr(true),
			JoinedAt: &joinedAt,
		}))
	}

	participants, err := db.ListParticipants(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, "user-1", participants[0].UserId)
	assert.Equal(t, "user-2", participants[1].UserId)

	empty, err := db.ListParticipants(ctx, "room-2")
	require.NoError(t, err)
	assert.NotNil(t, empty, "expected empty slice rather than nil")
	assert.Empty(t, empty)
}

func TestMarkAllOffline(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	createTestRoom(t, db, "room-1", "owner-1")

	require.NoError(t, db.UpsertParticipant(ctx, "room-1", "user-1", ParticipantUpdate{IsOnline: ptr(true)}))
	require.NoError(t, db.UpsertParticipant(ctx, "room-1", "user-2", ParticipantUpdate{IsOnline: ptr(true)}))
	require.NoError(t, db.UpsertParticipant(ctx, "room-1", "user-3", ParticipantUpdate{IsOnline: ptr(false)}))

	n, err := db.MarkAllOffline(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	p, err := db.GetParticipant(ctx, "room-1", "user-1")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.NotNil(t, p.LeftAt)
}

func TestRooms(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	first := createTestRoom(t, db, "room-1", "owner-1")
	assert.Equal(t, "owner-1", first.OwnerId)
	assert.Empty(t, first.PasswordHash)
	assert.Empty(t, first.LastModifiedBy)
	assert.False(t, first.CreatedAt.IsZero())

	time.Sleep(5 * time.Millisecond)
	private, err := db.CreateRoom(ctx, CreateRoomParams{
		Id:           "room-2",
		Name:         "private",
		OwnerId:      "owner-1",
		PasswordHash: "hash",
		CanvasData:   "abc",
		IsCompressed: true,
	})
	require.NoError(t, err)
	assert.False(t, private.IsPublic)
	assert.Equal(t, "hash", private.PasswordHash)
	assert.True(t, private.IsCompressed)

	createTestRoom(t, db, "room-3", "owner-2")

	t.Run("duplicate id", func(t *testing.T) {
		_, err := db.CreateRoom(ctx, CreateRoomParams{Id: "room-1", Name: "dup", OwnerId: "owner-1"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("get", func(t *testing.T) {
		room, err := db.GetRoom(ctx, "room-2")
		require.NoError(t, err)
		assert.Equal(t, private.Name, room.Name)

		_, err = db.GetRoom(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list by owner newest first", func(t *testing.T) {
		rooms, err := db.ListRoomsByOwner(ctx, "owner-1")
		require.NoError(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, "room-2", rooms[0].Id)
		assert.Equal(t, "room-1", rooms[1].Id)
	})

	t.Run("update canvas", func(t *testing.T) {
		err := db.UpdateCanvas(ctx, UpdateCanvasParams{
			RoomId:     "room-1",
			CanvasData: `{"elements":[1]}`,
			ModifiedBy: "user-9",
		})
		require.NoError(t, err)

		room, err := db.GetRoom(ctx, "room-1")
		require.NoError(t, err)
		assert.Equal(t, `{"elements":[1]}`, room.CanvasData)
		assert.Equal(t, "user-9", room.LastModifiedBy)

		err = db.UpdateCanvas(ctx, UpdateCanvasParams{RoomId: "missing"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAccounts(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	created, err := db.CreateAccount(ctx, CreateAccountParams{
		Id:           "user-1",
		Email:        "alice@example.com",
		DisplayName:  "Alice",
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", created.Email)

	_, err = db.CreateAccount(ctx, CreateAccountParams{
		Id:           "user-2",
		Email:        "alice@example.com",
		PasswordHash: "hash",
	})
	assert.ErrorIs(t, err, ErrAlreadyExists, "expected duplicate email to be rejected")

	byId, err := db.GetAccountById(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, created.Email, byId.Email)

	byEmail, err := db.GetAccountByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byEmail.Id)

	_, err = db.GetAccountById(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetAccountByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
