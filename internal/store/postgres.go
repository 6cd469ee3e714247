// Package store provides storage backends for AlterEgo.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/AlterEgo/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := ensurePostgresColumns(ctx, db, optionalColumns); err != nil {
		slog.Error("Failed to evolve Postgres schema", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, now: time.Now}, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM users WHERE user_id = $1`, userID)
	p, err := scanPostgresProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	return p, nil
}

func (s *PostgresStore) insertIfMissing(ctx context.Context, userID, displayName, username string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, display_name, username, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, displayName, username, now)
	if err != nil {
		slog.Error("PostgresStore insert profile failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to create profile %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) EnsureProfile(ctx context.Context, userID, displayName, username string) (*models.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.ErrEmptyUserID
	}
	if err := s.insertIfMissing(ctx, userID, displayName, username); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, userID)
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, userID string, u models.ProfileUpdate) error {
	if strings.TrimSpace(userID) == "" {
		return models.ErrEmptyUserID
	}
	if err := s.insertIfMissing(ctx, userID, "", ""); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET
		display_name = COALESCE($1, display_name),
		username = COALESCE($2, username),
		pain = COALESCE($3, pain),
		fear = COALESCE($4, fear),
		goal = COALESCE($5, goal),
		price = COALESCE($6, price),
		updated_at = $7
		WHERE user_id = $8`,
		nilIfNil(u.DisplayName), nilIfNil(u.Username), nilIfNil(u.Pain),
		nilIfNil(u.Fear), nilIfNil(u.Goal), nilIfNil(u.Price),
		s.now(), userID)
	if err != nil {
		slog.Error("PostgresStore UpsertProfile failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update profile %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) ActivateSubscription(ctx context.Context, userID string, now time.Time, period time.Duration) (*models.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.ErrEmptyUserID
	}
	if err := s.insertIfMissing(ctx, userID, "", ""); err != nil {
		return nil, err
	}
	const stillActive = `users.subscription_status = 'active' AND users.subscription_start IS NOT NULL
		AND (users.subscription_expiry IS NULL OR users.subscription_expiry > $1)`
	_, err := s.db.ExecContext(ctx, `UPDATE users SET
		subscription_start = CASE WHEN `+stillActive+` THEN users.subscription_start ELSE $1 END,
		last_completed_day = CASE WHEN `+stillActive+` THEN users.last_completed_day ELSE 0 END,
		program_completed_at = CASE WHEN `+stillActive+` THEN users.program_completed_at ELSE NULL END,
		subscription_status = 'active',
		subscription_expiry = $2,
		updated_at = $1
		WHERE user_id = $3`,
		now, now.Add(period), userID)
	if err != nil {
		slog.Error("PostgresStore ActivateSubscription failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to activate subscription for %s: %w", userID, err)
	}
	slog.Info("PostgresStore subscription activated", "userID", userID)
	return s.GetProfile(ctx, userID)
}

func (s *PostgresStore) SetLastCompletedDay(ctx context.Context, userID string, day int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_completed_day = $1, updated_at = $2 WHERE user_id = $3`,
		day, s.now(), userID)
	if err != nil {
		slog.Error("PostgresStore SetLastCompletedDay failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to set last completed day for %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrProfileNotFound
	}
	return nil
}

func (s *PostgresStore) MarkProgramCompleted(ctx context.Context, userID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET program_completed_at = $1 WHERE user_id = $2 AND program_completed_at IS NULL`, at, userID)
	if err != nil {
		slog.Error("PostgresStore MarkProgramCompleted failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to mark program completed for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM users ORDER BY created_at, user_id`)
	if err != nil {
		slog.Error("PostgresStore ListProfiles query failed", "error", err)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()
	var out []models.Profile
	for rows.Next() {
		p, err := scanPostgresProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendHistory(ctx context.Context, userID, text string) error {
	if strings.TrimSpace(userID) == "" {
		return models.ErrEmptyUserID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_wins (user_id, win_text, created_at) VALUES ($1, $2, $3)`,
		userID, text, s.now())
	if err != nil {
		slog.Error("PostgresStore AppendHistory failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to append history for %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) ListHistory(ctx context.Context) ([]models.WinEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, win_text, created_at FROM user_wins ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListHistory query failed", "error", err)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	var out []models.WinEntry
	for rows.Next() {
		var w models.WinEntry
		if err := rows.Scan(&w.ID, &w.UserID, &w.Text, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendContract(ctx context.Context, userID, goal, deadline, stake string) (*models.Contract, error) {
	c := models.Contract{UserID: userID, Goal: goal, Deadline: deadline, Stake: stake, Status: models.ContractActive, CreatedAt: s.now()}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO contracts (user_id, goal, deadline, stake, status, created_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		c.UserID, c.Goal, c.Deadline, c.Stake, c.Status, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		slog.Error("PostgresStore AppendContract failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to append contract for %s: %w", userID, err)
	}
	return &c, nil
}

func (s *PostgresStore) ListContracts(ctx context.Context, userID string) ([]models.Contract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, goal, deadline, stake, status, created_at FROM contracts WHERE user_id = $1 ORDER BY id DESC`, userID)
	if err != nil {
		slog.Error("PostgresStore ListContracts query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()
	var out []models.Contract
	for rows.Next() {
		var c models.Contract
		var status string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Goal, &c.Deadline, &c.Stake, &status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contract row: %w", err)
		}
		c.Status = models.ContractStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordDayScore(ctx context.Context, userID, date string, score int) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, models.ErrEmptyUserID
	}
	if err := models.ValidateScore(score); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO day_scores (user_id, date, score, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (user_id, date) DO NOTHING`,
		userID, date, score, s.now())
	if err != nil {
		slog.Error("PostgresStore RecordDayScore failed", "error", err, "userID", userID, "date", date)
		return false, fmt.Errorf("failed to record score for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) RecentScores(ctx context.Context, userID string, limit int) ([]models.DayScore, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, date, score, created_at FROM day_scores WHERE user_id = $1 ORDER BY date DESC LIMIT $2`, userID, lim)
	if err != nil {
		slog.Error("PostgresStore RecentScores query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()
	var out []models.DayScore
	for rows.Next() {
		var d models.DayScore
		if err := rows.Scan(&d.UserID, &d.Date, &d.Score, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseScores(out)
	return out, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
