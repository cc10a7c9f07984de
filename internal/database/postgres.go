package database

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const defaultMessageLimit = 500

var (
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	userColumns   = []string{"id", "username", "email", "password_hash", "created_at", "updated_at"}
	roomColumns   = []string{"r.id", "r.name", "r.description", "r.owner_id", "r.join_code", "r.created_at"}
	mediaColumns  = []string{"id", "room_id", "media_url", "media_type", "media_title", "is_playing", "current_position", "updated_by", "created_at", "updated_at"}
	memberColumns = []string{"m.id", "m.room_id", "m.user_id", "u.username", "m.role", "m.joined_at"}
)

type PgRepository struct {
	conn *sqlx.DB
}

func NewPgRepository(dsn string) (*PgRepository, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	return &PgRepository{conn: db}, nil
}

func (db *PgRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *PgRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	query, args, err := psql.Insert("users").
		Columns("username", "email", "password_hash").
		Values(params.Username, params.EmailAddress, params.PasswordHash).
		Suffix("RETURNING " + joinColumns(userColumns)).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build query: %w", err)
	}

	var u User
	err = db.conn.GetContext(ctx, &u, query, args...)
	return u, mapError(err)
}

func (db *PgRepository) GetAccountById(ctx context.Context, id uuid.UUID) (User, error) {
	return db.getAccount(ctx, sq.Eq{"id": id})
}

func (db *PgRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	return db.getAccount(ctx, sq.Eq{"email": email})
}

func (db *PgRepository) getAccount(ctx context.Context, where sq.Eq) (User, error) {
	query, args, err := psql.Select(userColumns...).
		From("users").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build query: %w", err)
	}

	var u User
	err = db.conn.GetContext(ctx, &u, query, args...)
	return u, mapError(err)
}

// CreateRoom inserts the room and its owner membership in one transaction.
func (db *PgRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return Room{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query, args, err := psql.Insert("rooms").
		Columns("name", "description", "owner_id", "join_code").
		Values(params.Name, params.Description, params.OwnerId, params.JoinCode).
		Suffix("RETURNING id, name, description, owner_id, join_code, created_at").
		ToSql()
	if err != nil {
		return Room{}, fmt.Errorf("build query: %w", err)
	}

	var room Room
	if err := tx.GetContext(ctx, &room, query, args...); err != nil {
		return Room{}, mapError(err)
	}

	query, args, err = psql.Insert("room_members").
		Columns("room_id", "user_id", "role").
		Values(room.Id, params.OwnerId, "owner").
		ToSql()
	if err != nil {
		return Room{}, fmt.Errorf("build query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return Room{}, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return Room{}, fmt.Errorf("commit: %w", err)
	}

	return room, nil
}

func (db *PgRepository) GetRoomById(ctx context.Context, id uuid.UUID) (Room, error) {
	return db.getRoom(ctx, sq.Eq{"r.id": id})
}

func (db *PgRepository) GetRoomByJoinCode(ctx context.Context, code string) (Room, error) {
	return db.getRoom(ctx, sq.Eq{"r.join_code": code})
}

func (db *PgRepository) getRoom(ctx context.Context, where sq.Eq) (Room, error) {
	query, args, err := psql.Select(roomColumns...).
		From("rooms r").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return Room{}, fmt.Errorf("build query: %w", err)
	}

	var room Room
	err = db.conn.GetContext(ctx, &room, query, args...)
	return room, mapError(err)
}

func (db *PgRepository) ListRoomsForUser(ctx context.Context, userId uuid.UUID) ([]Room, error) {
	query, args, err := psql.Select(roomColumns...).
		From("rooms r").
		Join("room_members m ON m.room_id = r.id").
		Where(sq.Eq{"m.user_id": userId}).
		OrderBy("m.joined_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rooms := []Room{}
	if err := db.conn.SelectContext(ctx, &rooms, query, args...); err != nil {
		return nil, mapError(err)
	}

	return rooms, nil
}

func (db *PgRepository) CreateMember(ctx context.Context, roomId, userId uuid.UUID, role string) (Member, error) {
	insert, args, err := psql.Insert("room_members").
		Columns("room_id", "user_id", "role").
		Values(roomId, userId, role).
		Suffix("RETURNING id, room_id, user_id, role, joined_at").
		ToSql()
	if err != nil {
		return Member{}, fmt.Errorf("build query: %w", err)
	}

	query := "WITH m AS (" + insert + ") " +
		"SELECT " + joinColumns(memberColumns) + " FROM m JOIN users u ON u.id = m.user_id"

	var member Member
	err = db.conn.GetContext(ctx, &member, query, args...)
	return member, mapError(err)
}

func (db *PgRepository) GetMember(ctx context.Context, roomId, userId uuid.UUID) (Member, error) {
	return db.getMember(ctx, sq.Eq{"m.room_id": roomId, "m.user_id": userId})
}

func (db *PgRepository) GetMemberById(ctx context.Context, id uuid.UUID) (Member, error) {
	return db.getMember(ctx, sq.Eq{"m.id": id})
}

func (db *PgRepository) getMember(ctx context.Context, where sq.Eq) (Member, error) {
	query, args, err := db.membersQuery().Where(where).Limit(1).ToSql()
	if err != nil {
		return Member{}, fmt.Errorf("build query: %w", err)
	}

	var member Member
	err = db.conn.GetContext(ctx, &member, query, args...)
	return member, mapError(err)
}

func (db *PgRepository) ListMembers(ctx context.Context, roomId uuid.UUID) ([]Member, error) {
	query, args, err := db.membersQuery().
		Where(sq.Eq{"m.room_id": roomId}).
		OrderBy("m.joined_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	members := []Member{}
	if err := db.conn.SelectContext(ctx, &members, query, args...); err != nil {
		return nil, mapError(err)
	}

	return members, nil
}

func (db *PgRepository) membersQuery() sq.SelectBuilder {
	return psql.Select(memberColumns...).
		From("room_members m").
		Join("users u ON u.id = m.user_id")
}

func (db *PgRepository) DeleteMember(ctx context.Context, id uuid.UUID) error {
	query, args, err := psql.Delete("room_members").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	return db.execAffectingOne(ctx, query, args...)
}

func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	insert, args, err := psql.Insert("messages").
		Columns("room_id", "user_id", "content").
		Values(params.RoomId, params.UserId, params.Content).
		Suffix("RETURNING id, room_id, user_id, content, created_at").
		ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build query: %w", err)
	}

	query := "WITH m AS (" + insert + ") " +
		"SELECT m.id, m.room_id, m.user_id, u.username, m.content, m.created_at " +
		"FROM m JOIN users u ON u.id = m.user_id"

	var msg Message
	err = db.conn.GetContext(ctx, &msg, query, args...)
	return msg, mapError(err)
}

// ListMessages returns the newest limit messages of a room, oldest first.
func (db *PgRepository) ListMessages(ctx context.Context, roomId uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	latest := psql.Select("m.id", "m.room_id", "m.user_id", "u.username", "m.content", "m.created_at").
		From("messages m").
		Join("users u ON u.id = m.user_id").
		Where(sq.Eq{"m.room_id": roomId}).
		OrderBy("m.created_at DESC", "m.id DESC").
		Limit(uint64(limit))

	query, args, err := psql.Select("*").
		FromSelect(latest, "latest").
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	messages := []Message{}
	if err := db.conn.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, mapError(err)
	}

	return messages, nil
}

// ListMessagesAfter pages through a room's history oldest first. A nil after
// starts at the first message; otherwise the page begins right after it.
func (db *PgRepository) ListMessagesAfter(ctx context.Context, roomId uuid.UUID, after *uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	q := psql.Select("m.id", "m.room_id", "m.user_id", "u.username", "m.content", "m.created_at").
		From("messages m").
		Join("users u ON u.id = m.user_id").
		Where(sq.Eq{"m.room_id": roomId})
	if after != nil {
		q = q.Where(sq.Expr("(m.created_at, m.id) > (SELECT created_at, id FROM messages WHERE id = ? AND room_id = ?)", *after, roomId))
	}

	query, args, err := q.OrderBy("m.created_at ASC", "m.id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	messages := []Message{}
	if err := db.conn.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, mapError(err)
	}

	return messages, nil
}

func (db *PgRepository) GetMediaSession(ctx context.Context, roomId uuid.UUID) (MediaSession, error) {
	query, args, err := psql.Select(mediaColumns...).
		From("media_sessions").
		Where(sq.Eq{"room_id": roomId}).
		OrderBy("updated_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return MediaSession{}, fmt.Errorf("build query: %w", err)
	}

	var session MediaSession
	err = db.conn.GetContext(ctx, &session, query, args...)
	return session, mapError(err)
}

// UpsertMediaSession creates the room's media session or replaces the
// contents of the existing one, keeping its id.
func (db *PgRepository) UpsertMediaSession(ctx context.Context, params MediaSessionParams) (MediaSession, error) {
	query, args, err := psql.Insert("media_sessions").
		Columns("room_id", "media_url", "media_type", "media_title", "is_playing", "current_position", "updated_by").
		Values(params.RoomId, params.MediaUrl, params.MediaType, params.MediaTitle, params.IsPlaying, params.CurrentPosition, params.UpdatedBy).
		Suffix("ON CONFLICT (room_id) DO UPDATE SET " +
			"media_url = EXCLUDED.media_url, media_type = EXCLUDED.media_type, " +
			"media_title = EXCLUDED.media_title, is_playing = EXCLUDED.is_playing, " +
			"current_position = EXCLUDED.current_position, updated_by = EXCLUDED.updated_by, " +
			"updated_at = clock_timestamp() " +
			"RETURNING " + joinColumns(mediaColumns)).
		ToSql()
	if err != nil {
		return MediaSession{}, fmt.Errorf("build query: %w", err)
	}

	var session MediaSession
	err = db.conn.GetContext(ctx, &session, query, args...)
	return session, mapError(err)
}

func (db *PgRepository) UpdateMediaSession(ctx context.Context, id uuid.UUID, params MediaSessionParams) (MediaSession, error) {
	query, args, err := psql.Update("media_sessions").
		Set("media_url", params.MediaUrl).
		Set("media_type", params.MediaType).
		Set("media_title", params.MediaTitle).
		Set("is_playing", params.IsPlaying).
		Set("current_position", params.CurrentPosition).
		Set("updated_by", params.UpdatedBy).
		Set("updated_at", sq.Expr("clock_timestamp()")).
		Where(sq.Eq{"id": id, "room_id": params.RoomId}).
		Suffix("RETURNING " + joinColumns(mediaColumns)).
		ToSql()
	if err != nil {
		return MediaSession{}, fmt.Errorf("build query: %w", err)
	}

	var session MediaSession
	err = db.conn.GetContext(ctx, &session, query, args...)
	return session, mapError(err)
}

func (db *PgRepository) DeleteMediaSession(ctx context.Context, roomId uuid.UUID) error {
	query, args, err := psql.Delete("media_sessions").
		Where(sq.Eq{"room_id": roomId}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	return db.execAffectingOne(ctx, query, args...)
}

func (db *PgRepository) execAffectingOne(ctx context.Context, query string, args ...any) error {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
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

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
