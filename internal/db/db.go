package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/pkg/logger"
	_ "github.com/mattn/go-sqlite3"
)

// DB is the client's local cache: the saved session, the user directory and
// avatar images.
type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL lets the watch command read while another command writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// Each connection to :memory: is a separate database
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(4)
		conn.SetMaxIdleConns(2)
	}
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		token TEXT NOT NULL,
		saved_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		child_name TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS avatars (
		user_id INTEGER PRIMARY KEY,
		content_type TEXT NOT NULL,
		data BLOB NOT NULL,
		fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) GetConn() *sql.DB {
	return db.conn
}

// SaveSession stores the bearer token, replacing any previous one.
func (db *DB) SaveSession(token string) error {
	_, err := db.conn.Exec(`
		INSERT INTO session (id, token, saved_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET token = excluded.token, saved_at = excluded.saved_at
	`, token)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession returns the stored token, or "" when signed out.
func (db *DB) LoadSession() (string, error) {
	var token string
	err := db.conn.QueryRow("SELECT token FROM session WHERE id = 1").Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	return token, nil
}

func (db *DB) ClearSession() error {
	if _, err := db.conn.Exec("DELETE FROM session"); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (db *DB) PutUser(u models.User) error {
	_, err := db.conn.Exec(`
		INSERT INTO users (id, first_name, last_name, role, child_name, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			role = excluded.role,
			child_name = CASE WHEN excluded.child_name != '' THEN excluded.child_name ELSE users.child_name END,
			updated_at = excluded.updated_at
	`, u.ID, u.FirstName, u.LastName, string(u.Role), u.ChildName)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetUser returns sql.ErrNoRows (wrapped) when the user is not cached.
func (db *DB) GetUser(id int) (models.User, error) {
	var u models.User
	var role string
	err := db.conn.QueryRow(`
		SELECT id, first_name, last_name, role, child_name FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.FirstName, &u.LastName, &role, &u.ChildName)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to fetch user: %w", err)
	}
	u.Role = models.Role(role)
	return u, nil
}

// User implements the messaging directory lookup.
func (db *DB) User(id int) (models.User, bool) {
	u, err := db.GetUser(id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Warn().Err(err).Int("user_id", id).Msg("directory lookup failed")
		}
		return models.User{}, false
	}
	return u, true
}

// Remember implements the messaging directory update.
func (db *DB) Remember(users ...models.User) {
	for _, u := range users {
		if err := db.PutUser(u); err != nil {
			logger.Warn().Err(err).Int("user_id", u.ID).Msg("directory update failed")
		}
	}
}

func (db *DB) LoadAvatar(userID int) ([]byte, string, bool) {
	var data []byte
	var contentType string
	err := db.conn.QueryRow(`
		SELECT data, content_type FROM avatars WHERE user_id = ?
	`, userID).Scan(&data, &contentType)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Warn().Err(err).Int("user_id", userID).Msg("avatar cache read failed")
		}
		return nil, "", false
	}
	return data, contentType, true
}

func (db *DB) StoreAvatar(userID int, data []byte, contentType string) {
	_, err := db.conn.Exec(`
		INSERT INTO avatars (user_id, content_type, data, fetched_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			content_type = excluded.content_type,
			data = excluded.data,
			fetched_at = excluded.fetched_at
	`, userID, contentType, data)
	if err != nil {
		logger.Warn().Err(err).Int("user_id", userID).Msg("avatar cache write failed")
	}
}

type Stats struct {
	HasSession   bool
	Users        int64
	Parents      int64
	Avatars      int64
	AvatarBytes  int64
	LastUserSync string
}

func (db *DB) Stats() (Stats, error) {
	var s Stats
	var sessions int64

	queries := []struct {
		query string
		dest  any
	}{
		{"SELECT COUNT(*) FROM session", &sessions},
		{"SELECT COUNT(*) FROM users", &s.Users},
		{"SELECT COUNT(*) FROM users WHERE role = 'parent'", &s.Parents},
		{"SELECT COUNT(*) FROM avatars", &s.Avatars},
		{"SELECT COALESCE(SUM(LENGTH(data)), 0) FROM avatars", &s.AvatarBytes},
		{"SELECT COALESCE(MAX(updated_at), '') FROM users", &s.LastUserSync},
	}
	for _, q := range queries {
		if err := db.conn.QueryRow(q.query).Scan(q.dest); err != nil {
			return Stats{}, fmt.Errorf("could not read cache stats: %w", err)
		}
	}
	s.HasSession = sessions > 0
	return s, nil
}
