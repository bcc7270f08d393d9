package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pricefinder/pricefinder/internal/domain"
	"github.com/pricefinder/pricefinder/internal/shared"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // Serializes session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository and applies pending migrations.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	for _, r := range results {
		slog.Debug("Applied migration", "source", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves the stored session for a client.
func (s *SQLiteStore) GetSession(ctx context.Context, clientID string) (*domain.SessionRecord, error) {
	query := `
		SELECT client_id, session_id, messages_json, search_history_json,
		       products_json, created_at, updated_at
		FROM chat_sessions WHERE client_id = ?`

	row := s.db.QueryRowContext(ctx, query, clientID)

	var rec domain.SessionRecord
	var messagesJSON, historyJSON, productsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&rec.ClientID, &rec.SessionID, &messagesJSON, &historyJSON,
		&productsJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &rec.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &rec.SearchHistory); err != nil {
		return nil, fmt.Errorf("decode search history: %w", err)
	}
	if err := json.Unmarshal([]byte(productsJSON), &rec.CurrentProducts); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)

	return &rec, nil
}

// UpsertSession creates or replaces the stored session for a client.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.ClientID == "" {
		return fmt.Errorf("upsert session: client id is required")
	}

	messagesJSON, err := marshalList(rec.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	historyJSON, err := marshalList(rec.SearchHistory)
	if err != nil {
		return fmt.Errorf("encode search history: %w", err)
	}
	productsJSON, err := marshalList(rec.CurrentProducts)
	if err != nil {
		return fmt.Errorf("encode products: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
	INSERT INTO chat_sessions (
		client_id, session_id, messages_json, search_history_json,
		products_json, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(client_id) DO UPDATE SET
		session_id = excluded.session_id,
		messages_json = excluded.messages_json,
		search_history_json = excluded.search_history_json,
		products_json = excluded.products_json,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, "upsert session", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			rec.ClientID, rec.SessionID, messagesJSON, historyJSON,
			productsJSON, createdAt.Unix(), updatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// DeleteSession removes the stored session for a client.
// Retries with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) DeleteSession(ctx context.Context, clientID string) error {
	return shared.RetryOnConflict(ctx, "delete session", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE client_id = ?`, clientID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// GetExpiredSessions lists clients whose sessions have been idle longer than ttl.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx, `SELECT client_id FROM chat_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var clients []string
	for rows.Next() {
		var clientID string
		if err := rows.Scan(&clientID); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		clients = append(clients, clientID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return clients, nil
}

// CleanupExpiredSessions removes sessions older than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// marshalList encodes a slice as JSON, writing [] rather than null for nil.
func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
