package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"taskboard-api/domain"
)

// SQLiteStore keeps boards in a local SQLite file. It is meant for single
// instance and development deployments.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	stmts := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS boards (
			user_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at_unixms INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, userID string) (domain.Board, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM boards WHERE user_id = ?`, userID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Board{}, ErrNotFound
		}
		return domain.Board{}, err
	}
	return DecodeBoard([]byte(data))
}

func (s *SQLiteStore) Save(ctx context.Context, userID string, board domain.Board) error {
	data, err := EncodeBoard(board)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO boards (user_id, data, updated_at_unixms) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at_unixms = excluded.updated_at_unixms`,
		userID, string(data), time.Now().UnixMilli())
	return err
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
