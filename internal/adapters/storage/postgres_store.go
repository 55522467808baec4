package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/secwatch/account-security/internal/domain"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PoolConfig sizes the database/sql connection pool
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore implements ports.Storage for PostgreSQL
type PostgresStore struct {
	db  *sql.DB
	dsn string
}

// NewPostgresStore creates a new PostgreSQL storage instance. connStr must be
// a postgres:// URL so the migrator can reuse it.
func NewPostgresStore(ctx context.Context, connStr string, pool PoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	return &PostgresStore{db: db, dsn: connStr}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks the connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InitSchema applies the embedded migrations up to the latest version
func (s *PostgresStore) InitSchema() error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateUser inserts a new user; ID and CreatedAt are filled from the database
func (s *PostgresStore) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (username, email, is_admin)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE
		SET email = EXCLUDED.email,
		    is_admin = EXCLUDED.is_admin
		RETURNING id, created_at
	`
	return s.db.QueryRowContext(ctx, query, user.Username, user.Email, user.IsAdmin).
		Scan(&user.ID, &user.CreatedAt)
}

// GetUser retrieves a user by ID
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT id, username, email, is_admin, created_at FROM users WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT id, username, email, is_admin, created_at FROM users WHERE username = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *PostgresStore) scanUser(row *sql.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.IsAdmin, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns every user ordered by ID
func (s *PostgresStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, email, is_admin, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.IsAdmin, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// AppendEvent inserts an event. Appends for one user are serialized with a
// transaction-scoped advisory lock so seq order and created_at agree:
// created_at never falls behind the user's latest event. The stored value is
// written back to event.
func (s *PostgresStore) AppendEvent(ctx context.Context, event *domain.Event) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, event.UserID); err != nil {
		return fmt.Errorf("failed to lock event log of user %d: %w", event.UserID, err)
	}

	query := `
		INSERT INTO event_logs (event_id, user_id, event_type, event_data, created_at)
		VALUES ($1, $2, $3, $4, GREATEST($5::timestamptz,
			(SELECT MAX(created_at) FROM event_logs WHERE user_id = $2)))
		RETURNING created_at
	`
	var createdAt time.Time
	if err := tx.QueryRowContext(ctx, query,
		event.ID, event.UserID, string(event.Type), dataJSON, event.CreatedAt,
	).Scan(&createdAt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	event.CreatedAt = createdAt
	return nil
}

// CountEvents counts events in a sliding window. An empty type list matches
// every type; exclude flips the list into a deny-list.
func (s *PostgresStore) CountEvents(ctx context.Context, filter domain.EventFilter) (int, error) {
	types := make([]string, len(filter.Types))
	for i, t := range filter.Types {
		types[i] = string(t)
	}

	query := `
		SELECT COUNT(*)
		FROM event_logs
		WHERE user_id = $1
		  AND created_at >= $2
		  AND (cardinality($3::text[]) = 0 OR (event_type = ANY($3::text[])) <> $4)
	`
	var count int
	err := s.db.QueryRowContext(ctx, query,
		filter.UserID, filter.Since, pq.Array(types), filter.ExcludeTypes,
	).Scan(&count)
	return count, err
}

// ListEvents returns a user's events in insertion order or its reverse
func (s *PostgresStore) ListEvents(ctx context.Context, userID int64, order domain.SortOrder, limit int) ([]domain.Event, error) {
	query := `
		SELECT event_id, user_id, event_type, event_data, created_at
		FROM event_logs
		WHERE user_id = $1
		ORDER BY seq ASC
	`
	if order == domain.Descending {
		query = `
		SELECT event_id, user_id, event_type, event_data, created_at
		FROM event_logs
		WHERE user_id = $1
		ORDER BY seq DESC
	`
	}

	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var event domain.Event
		var eventType string
		var dataJSON []byte

		if err := rows.Scan(&event.ID, &event.UserID, &eventType, &dataJSON, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Type = domain.EventType(eventType)
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event %s data: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// IncrementRiskScore adds delta in a single upsert so concurrent increments
// from other instances never lose an update
func (s *PostgresStore) IncrementRiskScore(ctx context.Context, userID int64, delta int) (int, error) {
	query := `
		INSERT INTO risk_scores (user_id, score, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET score = risk_scores.score + EXCLUDED.score,
		    updated_at = NOW()
		RETURNING score
	`
	var score int
	err := s.db.QueryRowContext(ctx, query, userID, delta).Scan(&score)
	return score, err
}

// GetRiskScore returns the user's score, 0 if none was ever recorded
func (s *PostgresStore) GetRiskScore(ctx context.Context, userID int64) (int, error) {
	var score int
	err := s.db.QueryRowContext(ctx, `SELECT score FROM risk_scores WHERE user_id = $1`, userID).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return score, err
}

// CreateAlert inserts an alert
func (s *PostgresStore) CreateAlert(ctx context.Context, alert *domain.Alert) error {
	query := `
		INSERT INTO alerts (id, user_id, severity, message, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		alert.ID, alert.UserID, alert.Severity, alert.Message, alert.Score, alert.CreatedAt,
	)
	return err
}

// LatestAlert returns the user's most recent alert, nil if none
func (s *PostgresStore) LatestAlert(ctx context.Context, userID int64) (*domain.Alert, error) {
	alerts, err := s.ListUserAlerts(ctx, userID, 1)
	if err != nil || len(alerts) == 0 {
		return nil, err
	}
	return &alerts[0], nil
}

// ListAlerts returns the newest alerts across all users
func (s *PostgresStore) ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	query := `
		SELECT id, user_id, severity, message, score, created_at
		FROM alerts
		ORDER BY created_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryAlerts(ctx, query, args...)
}

// ListUserAlerts returns a user's newest alerts
func (s *PostgresStore) ListUserAlerts(ctx context.Context, userID int64, limit int) ([]domain.Alert, error) {
	query := `
		SELECT id, user_id, severity, message, score, created_at
		FROM alerts
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.queryAlerts(ctx, query, args...)
}

func (s *PostgresStore) queryAlerts(ctx context.Context, query string, args ...any) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]domain.Alert, 0)
	for rows.Next() {
		var alert domain.Alert
		err := rows.Scan(
			&alert.ID, &alert.UserID, &alert.Severity, &alert.Message,
			&alert.Score, &alert.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// ResetUserSecurity purges events and alerts and zeroes the score in one transaction
func (s *PostgresStore) ResetUserSecurity(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM event_logs WHERE user_id = $1`,
		`DELETE FROM alerts WHERE user_id = $1`,
		`INSERT INTO risk_scores (user_id, score, updated_at) VALUES ($1, 0, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET score = 0, updated_at = NOW()`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
			return fmt.Errorf("failed to reset user %d: %w", userID, err)
		}
	}

	return tx.Commit()
}
