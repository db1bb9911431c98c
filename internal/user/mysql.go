package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyrcle-app/parking-engine/internal/core/observability"
)

// Schema is the DDL for the table this store owns.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id       VARCHAR(64) PRIMARY KEY,
    username VARCHAR(128) NOT NULL,
    doc      JSON NOT NULL
);`

// MySQLStore persists users the same way the parking backend does: one JSON
// document per row, id extracted for the primary key.
type MySQLStore struct {
	db        *sql.DB
	opTimeout time.Duration
}

var _ Store = (*MySQLStore)(nil)

func NewMySQLStore(db *sql.DB, opTimeout time.Duration) *MySQLStore {
	return &MySQLStore{db: db, opTimeout: opTimeout}
}

func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure user schema: %w", err)
	}
	return nil
}

func (s *MySQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *MySQLStore) Get(ctx context.Context, id string) (User, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM users WHERE id = ?`, id).Scan(&doc)
	observability.ObserveStoreOp("users", "get", err, time.Since(start).Seconds())
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("user get %q: %w", id, err)
	}
	var u User
	if err := json.Unmarshal(doc, &u); err != nil {
		return User{}, fmt.Errorf("user decode %q: %w", id, err)
	}
	return u, nil
}

func (s *MySQLStore) Save(ctx context.Context, u User) error {
	if u.ID == "" {
		return fmt.Errorf("save user: empty id")
	}

	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("user encode %q: %w", u.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, doc) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE username = VALUES(username), doc = VALUES(doc)`,
		u.ID, u.Username, doc)
	observability.ObserveStoreOp("users", "save", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("user save %q: %w", u.ID, err)
	}
	return nil
}
