package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/akarpov/chatrelay/internal/store"
)

// schema is applied on every open. Mirrors the tables the relay has always
// used; IF NOT EXISTS keeps restarts idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	username   TEXT PRIMARY KEY,
	password   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	sender     TEXT NOT NULL,
	receiver   TEXT NOT NULL,
	message    TEXT NOT NULL,
	timestamp  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS groups (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	owner      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS group_members (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id  INTEGER NOT NULL,
	username  TEXT NOT NULL,
	is_owner  INTEGER NOT NULL DEFAULT 0,
	UNIQUE(group_id, username),
	FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS group_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id   INTEGER NOT NULL,
	sender     TEXT NOT NULL,
	message    TEXT NOT NULL,
	timestamp  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	type    TEXT NOT NULL,
	actor   TEXT NOT NULL,
	payload TEXT,
	ts      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver);
CREATE INDEX IF NOT EXISTS idx_messages_time     ON messages(timestamp);
CREATE INDEX IF NOT EXISTS idx_grp_msg_gid_id    ON group_messages(group_id, id);
CREATE INDEX IF NOT EXISTS idx_grp_mem_gid_user  ON group_members(group_id, username);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintErr reports whether err is a UNIQUE/PK constraint violation.
func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// ==== UserStore implementation ====

// RegisterUser creates an account. The username is the primary key, so a
// duplicate insert surfaces as a constraint error.
func (s *SQLiteStore) RegisterUser(ctx context.Context, username, password string) error {
	query := `
		INSERT INTO users (username, password, created_at)
		VALUES (?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, username, password, time.Now().UTC())
	if err != nil {
		if isConstraintErr(err) {
			return store.ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserExists reports whether the username is registered.
func (s *SQLiteStore) UserExists(ctx context.Context, username string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username = ?`, username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return true, nil
}

// VerifyUser checks credentials. Comparison is plain string equality; the
// relay's auth model deliberately stops there.
func (s *SQLiteStore) VerifyUser(ctx context.Context, username, password string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT password FROM users WHERE username = ?`, username).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query password: %w", err)
	}
	return stored == password, nil
}

// ==== MessageStore implementation ====

// InsertMessage appends one message row with a server-assigned timestamp.
func (s *SQLiteStore) InsertMessage(ctx context.Context, sender, receiver, body string) (*store.Message, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO messages (sender, receiver, message, timestamp)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, sender, receiver, body, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return &store.Message{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Body:      body,
		CreatedAt: now,
	}, nil
}

// RecentMessages returns up to limit messages, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, sender, receiver, message, timestamp
		FROM messages
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0, limit)
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// ==== GroupStore implementation ====

// CreateGroup inserts a group and its owning membership in one transaction,
// so a group can never exist without its owner being a member.
func (s *SQLiteStore) CreateGroup(ctx context.Context, name, owner string) (*store.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO groups (name, owner, created_at) VALUES (?, ?, ?)`,
		name, owner, now,
	)
	if err != nil {
		if isConstraintErr(err) {
			return nil, store.ErrDuplicateName
		}
		return nil, fmt.Errorf("insert group: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_members (group_id, username, is_owner) VALUES (?, ?, 1)`,
		id, owner,
	); err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit group: %w", err)
	}

	return &store.Group{
		ID:        id,
		Name:      name,
		Owner:     owner,
		CreatedAt: now,
	}, nil
}

// AddMember inserts a membership. Duplicate inserts are a no-op reported
// as false.
func (s *SQLiteStore) AddMember(ctx context.Context, groupID int64, username string, isOwner bool) (bool, error) {
	query := `
		INSERT OR IGNORE INTO group_members (group_id, username, is_owner)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, groupID, username, isOwner)
	if err != nil {
		return false, fmt.Errorf("insert membership: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// RemoveMember deletes a membership.
func (s *SQLiteStore) RemoveMember(ctx context.Context, groupID int64, username string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND username = ?`,
		groupID, username,
	)
	if err != nil {
		return false, fmt.Errorf("delete membership: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// IsMember reports whether the user belongs to the group.
func (s *SQLiteStore) IsMember(ctx context.Context, groupID int64, username string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM group_members WHERE group_id = ? AND username = ?`,
		groupID, username,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return true, nil
}

// IsOwner reports whether the user owns the group.
func (s *SQLiteStore) IsOwner(ctx context.Context, groupID int64, username string) (bool, error) {
	var isOwner bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_owner FROM group_members WHERE group_id = ? AND username = ?`,
		groupID, username,
	).Scan(&isOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query ownership: %w", err)
	}
	return isOwner, nil
}

// ListMembers returns the full membership roster of a group.
func (s *SQLiteStore) ListMembers(ctx context.Context, groupID int64) ([]*store.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, username, is_owner FROM group_members WHERE group_id = ? ORDER BY id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []*store.Membership
	for rows.Next() {
		var m store.Membership
		if err := rows.Scan(&m.GroupID, &m.Username, &m.IsOwner); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// GroupsFor returns the groups the user belongs to.
func (s *SQLiteStore) GroupsFor(ctx context.Context, username string) ([]*store.GroupInfo, error) {
	query := `
		SELECT g.id, g.name, gm.is_owner
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.username = ?
		ORDER BY g.id
	`
	rows, err := s.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []*store.GroupInfo
	for rows.Next() {
		var g store.GroupInfo
		if err := rows.Scan(&g.ID, &g.Name, &g.IsOwner); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// InsertGroupMessage appends a group message with a server-assigned
// timestamp and returns the stored row.
func (s *SQLiteStore) InsertGroupMessage(ctx context.Context, groupID int64, sender, body string) (*store.GroupMessage, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO group_messages (group_id, sender, message, timestamp) VALUES (?, ?, ?, ?)`,
		groupID, sender, body, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert group message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return &store.GroupMessage{
		ID:        id,
		GroupID:   groupID,
		Sender:    sender,
		Body:      body,
		CreatedAt: now,
	}, nil
}

// RecentGroupMessages returns up to limit messages for the group, newest
// first.
func (s *SQLiteStore) RecentGroupMessages(ctx context.Context, groupID int64, limit int) ([]*store.GroupMessage, error) {
	query := `
		SELECT id, group_id, sender, message, timestamp
		FROM group_messages
		WHERE group_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("query group messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.GroupMessage, 0, limit)
	for rows.Next() {
		var m store.GroupMessage
		if err := rows.Scan(&m.ID, &m.GroupID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group messages: %w", err)
	}
	return messages, nil
}

// ==== EventStore implementation ====

// RecordEvent appends an audit event.
func (s *SQLiteStore) RecordEvent(ctx context.Context, eventType, actor, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (type, actor, payload) VALUES (?, ?, ?)`,
		eventType, actor, payload,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
