package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ptssworkshopschedule/workshopbot/internal/storage/models"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

// SQLiteStorage implements storage.Storage on SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath and migrates it
func New(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	storage := &SQLiteStorage{db: db}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) migrate() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to set WAL mode: %w", err)
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			token_type TEXT NOT NULL DEFAULT '',
			expiry_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_name ON oauth_tokens(name)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the connection
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveToken inserts or replaces the token stored under token.Name.
// The refresh token is kept when the new token does not carry one.
func (s *SQLiteStorage) SaveToken(ctx context.Context, token *models.Token) error {
	query := `INSERT INTO oauth_tokens (name, access_token, refresh_token, token_type, expiry_ms, updated_at)
			  VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			  ON CONFLICT(name) DO UPDATE SET
				access_token = excluded.access_token,
				refresh_token = CASE WHEN excluded.refresh_token = '' THEN oauth_tokens.refresh_token ELSE excluded.refresh_token END,
				token_type = excluded.token_type,
				expiry_ms = excluded.expiry_ms,
				updated_at = CURRENT_TIMESTAMP`

	_, err := s.db.ExecContext(ctx, query,
		token.Name, token.AccessToken, token.RefreshToken, token.TokenType, toMillis(token.Expiry))
	if err != nil {
		metrics.RecordDatabaseOperation("save", "oauth_tokens", "error")
		return fmt.Errorf("failed to save token: %w", err)
	}

	metrics.RecordDatabaseOperation("save", "oauth_tokens", "success")
	return nil
}

// LoadToken returns the token stored under name
func (s *SQLiteStorage) LoadToken(ctx context.Context, name string) (*models.Token, error) {
	token := &models.Token{}
	var expiryMs int64
	query := `SELECT id, name, access_token, refresh_token, token_type, expiry_ms, created_at, updated_at
			  FROM oauth_tokens WHERE name = ?`

	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&token.ID, &token.Name, &token.AccessToken, &token.RefreshToken, &token.TokenType,
		&expiryMs, &token.CreatedAt, &token.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			metrics.RecordDatabaseOperation("load", "oauth_tokens", "not_found")
			return nil, errors.ErrTokenNotFound.WithContext(map[string]interface{}{
				"name": name,
			})
		}
		metrics.RecordDatabaseOperation("load", "oauth_tokens", "error")
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	token.Expiry = fromMillis(expiryMs)
	metrics.RecordDatabaseOperation("load", "oauth_tokens", "success")
	return token, nil
}

// DeleteToken removes the token stored under name
func (s *SQLiteStorage) DeleteToken(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rowsAffected == 0 {
		return errors.ErrTokenNotFound.WithContext(map[string]interface{}{
			"name": name,
		})
	}

	metrics.RecordDatabaseOperation("delete", "oauth_tokens", "success")
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
