package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/npezzotti/go-whiteboard/internal/types"
)

const (
	roomColumns        = "id, name, owner_id, is_public, password_hash, canvas_data, is_compressed, last_modified_by, created_at, updated_at"
	participantColumns = "room_id, user_id, email, display_name, permission, is_online, joined_at, left_at, updated_at"
	accountColumns     = "id, email, display_name, password_hash, created_at, updated_at"
)

func now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *SQLStore) GetRoomOwner(ctx context.Context, roomId string) (string, error) {
	var ownerId string
	err := db.conn.QueryRowContext(ctx,
		"SELECT owner_id FROM rooms WHERE id = $1",
		roomId,
	).Scan(&ownerId)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}

	return ownerId, err
}

func scanParticipant(row rowScanner) (Participant, error) {
	var (
		p           Participant
		displayName sql.NullString
		permission  string
		joinedAt    sql.NullTime
		leftAt      sql.NullTime
	)

	err := row.Scan(
		&p.RoomId,
		&p.UserId,
		&p.Email,
		&displayName,
		&permission,
		&p.IsOnline,
		&joinedAt,
		&leftAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Participant{}, err
	}

	p.DisplayName = displayName.String
	p.Permission = types.Permission(permission)
	p.JoinedAt = joinedAt.Time
	if leftAt.Valid {
		t := leftAt.Time
		p.LeftAt = &t
	}

	return p, nil
}

func (db *SQLStore) GetParticipant(ctx context.Context, roomId, userId string) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
	)

	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrNotFound
	}

	return p, err
}

// UpsertParticipant creates the participant record if it does not exist and
// otherwise overwrites only the fields set in fields.
func (db *SQLStore) UpsertParticipant(ctx context.Context, roomId, userId string, fields ParticipantUpdate) error {
	cols := []string{"room_id", "user_id"}
	args := []any{roomId, userId}

	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
	}

	if fields.Email != nil {
		add("email", *fields.Email)
	}
	if fields.DisplayName != nil {
		add("display_name", sql.NullString{String: *fields.DisplayName, Valid: *fields.DisplayName != ""})
	}
	if fields.Permission != nil {
		add("permission", string(*fields.Permission))
	}
	if fields.IsOnline != nil {
		add("is_online", *fields.IsOnline)
	}
	if fields.JoinedAt != nil {
		add("joined_at", fields.JoinedAt.UTC())
	}
	if fields.LeftAt != nil {
		add("left_at", fields.LeftAt.UTC())
	}
	add("updated_at", now())

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	// room_id and user_id form the conflict target and are never updated
	updates := make([]string, 0, len(cols)-2)
	for _, col := range cols[2:] {
		updates = append(updates, col+" = excluded."+col)
	}

	query := "INSERT INTO participants (" + strings.Join(cols, ", ") + ") " +
		"VALUES (" + strings.Join(placeholders, ", ") + ") " +
		"ON CONFLICT (room_id, user_id) DO UPDATE SET " + strings.Join(updates, ", ")

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}

	return nil
}

func (db *SQLStore) ListParticipants(ctx context.Context, roomId string) ([]Participant, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE room_id = $1 ORDER BY joined_at",
		roomId,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	participants := make([]Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return participants, nil
}

// MarkAllOffline clears presence left behind by a previous process.
func (db *SQLStore) MarkAllOffline(ctx context.Context) (int64, error) {
	ts := now()
	res, err := db.conn.ExecContext(ctx,
		"UPDATE participants SET is_online = $1, left_at = $2, updated_at = $2 WHERE is_online = $3",
		false,
		ts,
		true,
	)
	if err != nil {
		return 0, fmt.Errorf("mark participants offline: %w", err)
	}

	return res.RowsAffected()
}

func scanRoom(row rowScanner) (Room, error) {
	var (
		r              Room
		passwordHash   sql.NullString
		lastModifiedBy sql.NullString
	)

	err := row.Scan(
		&r.Id,
		&r.Name,
		&r.OwnerId,
		&r.IsPublic,
		&passwordHash,
		&r.CanvasData,
		&r.IsCompressed,
		&lastModifiedBy,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return Room{}, err
	}

	r.PasswordHash = passwordHash.String
	r.LastModifiedBy = lastModifiedBy.String
	return r, nil
}

func (db *SQLStore) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	ts := now()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO rooms (id, name, owner_id, is_public, password_hash, canvas_data, is_compressed, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING "+roomColumns,
		params.Id,
		params.Name,
		params.OwnerId,
		params.IsPublic,
		sql.NullString{String: params.PasswordHash, Valid: params.PasswordHash != ""},
		params.CanvasData,
		params.IsCompressed,
		ts,
	)

	room, err := scanRoom(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Room{}, ErrAlreadyExists
		}
		return Room{}, fmt.Errorf("create room: %w", err)
	}

	return room, nil
}

func (db *SQLStore) GetRoom(ctx context.Context, roomId string) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE id = $1",
		roomId,
	)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}

	return room, err
}

func (db *SQLStore) ListRoomsByOwner(ctx context.Context, ownerId string) ([]Room, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE owner_id = $1 ORDER BY created_at DESC",
		ownerId,
	)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return rooms, nil
}

func (db *SQLStore) UpdateCanvas(ctx context.Context, params UpdateCanvasParams) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE rooms SET canvas_data = $2, is_compressed = $3, last_modified_by = $4, updated_at = $5 WHERE id = $1",
		params.RoomId,
		params.CanvasData,
		params.IsCompressed,
		params.ModifiedBy,
		now(),
	)
	if err != nil {
		return fmt.Errorf("update canvas: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(
		&a.Id,
		&a.Email,
		&a.DisplayName,
		&a.PasswordHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func (db *SQLStore) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	ts := now()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (id, email, display_name, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING "+accountColumns,
		params.Id,
		params.Email,
		params.DisplayName,
		params.PasswordHash,
		ts,
	)

	account, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, ErrAlreadyExists
		}
		return Account{}, fmt.Errorf("create account: %w", err)
	}

	return account, nil
}

func (db *SQLStore) GetAccountById(ctx context.Context, id string) (Account, error) {
	account, err := scanAccount(db.conn.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1",
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}

	return account, err
}

func (db *SQLStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	account, err := scanAccount(db.conn.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email = $1",
		email,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}

	return account, err
}
