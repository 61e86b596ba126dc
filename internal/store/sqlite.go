package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for the selected mirror and the
// activation history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// :memory: databases are per-connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Settings
// ============================================================================

// Save upserts a setting.
func (s *Store) Save(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save setting %q: %w", key, err)
	}
	return nil
}

// Load returns the value stored under key. ok is false when the key is absent.
func (s *Store) Load(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to load setting %q: %w", key, err)
	}
	return value, true, nil
}

// Delete removes a setting. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

// ListSettings returns all settings ordered by key.
func (s *Store) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return out, nil
}

// ============================================================================
// Activation history
// ============================================================================

// RecordActivation inserts an Activation and sets its ID
func (s *Store) RecordActivation(ctx context.Context, a *Activation) error {
	const query = `
		INSERT INTO activations (
			epoch_id, remote_url, catalog_url, status, error_message, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		a.EpochID, a.RemoteURL, a.CatalogURL, a.Status, a.ErrorMessage, a.StartTime, a.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// ListActivations returns the most recent activations first. A limit of 0
// returns all rows.
func (s *Store) ListActivations(ctx context.Context, limit int) ([]Activation, error) {
	query := `
		SELECT id, COALESCE(epoch_id, ''), remote_url, COALESCE(catalog_url, ''), status,
		       COALESCE(error_message, ''), start_time, end_time
		FROM activations
		ORDER BY start_time DESC, id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activations: %w", err)
	}
	defer rows.Close()

	var out []Activation
	for rows.Next() {
		var a Activation
		var end sql.NullTime
		if err := rows.Scan(
			&a.ID, &a.EpochID, &a.RemoteURL, &a.CatalogURL, &a.Status,
			&a.ErrorMessage, &a.StartTime, &end,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activation: %w", err)
		}
		if end.Valid {
			a.EndTime = end.Time
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activations: %w", err)
	}
	return out, nil
}

// LastSuccessfulActivation returns the newest successful activation, or nil.
func (s *Store) LastSuccessfulActivation(ctx context.Context) (*Activation, error) {
	const query = `
		SELECT id, COALESCE(epoch_id, ''), remote_url, COALESCE(catalog_url, ''), start_time
		FROM activations
		WHERE status = 'success'
		ORDER BY start_time DESC, id DESC
		LIMIT 1
	`
	a := &Activation{Status: "success"}
	err := s.db.QueryRowContext(ctx, query).Scan(&a.ID, &a.EpochID, &a.RemoteURL, &a.CatalogURL, &a.StartTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query last activation: %w", err)
	}
	return a, nil
}
