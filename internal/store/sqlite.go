// Package store provides storage backends for AlterEgo.
//
// This file implements an SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/AlterEgo/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
	// sqliteDSNParams enables WAL and a busy timeout when the DSN sets no parameters.
	sqliteDSNParams = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// sqliteFilePath strips the "file:" scheme and query string from a DSN.
func sqliteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(sqliteFilePath(dsn))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if !strings.Contains(dsn, "?") {
		dsn = dsn + "?" + sqliteDSNParams
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := ensureSQLiteColumns(ctx, db, optionalColumns); err != nil {
		slog.Error("Failed to evolve SQLite schema", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM users WHERE user_id = ?`, userID)
	p, err := scanSQLiteProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	return p, nil
}

func (s *SQLiteStore) insertIfMissing(ctx context.Context, userID, displayName, username string) error {
	now := formatSQLiteTime(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (user_id, display_name, username, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		userID, displayName, username, now, now)
	if err != nil {
		slog.Error("SQLiteStore insert profile failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to create profile %s: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) EnsureProfile(ctx context.Context, userID, displayName, username string) (*models.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.ErrEmptyUserID
	}
	if err := s.insertIfMissing(ctx, userID, displayName, username); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, userID)
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, userID string, u models.ProfileUpdate) error {
	if strings.TrimSpace(userID) == "" {
		return models.ErrEmptyUserID
	}
	if err := s.insertIfMissing(ctx, userID, "", ""); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET
		display_name = COALESCE(?, display_name),
		username = COALESCE(?, username),
		pain = COALESCE(?, pain),
		fear = COALESCE(?, fear),
		goal = COALESCE(?, goal),
		price = COALESCE(?, price),
		updated_at = ?
		WHERE user_id = ?`,
		nilIfNil(u.DisplayName), nilIfNil(u.Username), nilIfNil(u.Pain),
		nilIfNil(u.Fear), nilIfNil(u.Goal), nilIfNil(u.Price),
		formatSQLiteTime(s.now()), userID)
	if err != nil {
		slog.Error("SQLiteStore UpsertProfile failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update profile %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore UpsertProfile succeeded", "userID", userID)
	return nil
}

func (s *SQLiteStore) ActivateSubscription(ctx context.Context, userID string, now time.Time, period time.Duration) (*models.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.ErrEmptyUserID
	}
	if err := s.insertIfMissing(ctx, userID, "", ""); err != nil {
		return nil, err
	}
	nowStr := formatSQLiteTime(now)
	// SET expressions read the pre-update row, so the guard sees the old status.
	const stillActive = `subscription_status = 'active' AND subscription_start IS NOT NULL
		AND (subscription_expiry IS NULL OR subscription_expiry > ?)`
	_, err := s.db.ExecContext(ctx, `UPDATE users SET
		subscription_start = CASE WHEN `+stillActive+` THEN subscription_start ELSE ? END,
		last_completed_day = CASE WHEN `+stillActive+` THEN last_completed_day ELSE 0 END,
		program_completed_at = CASE WHEN `+stillActive+` THEN program_completed_at ELSE NULL END,
		subscription_status = 'active',
		subscription_expiry = ?,
		updated_at = ?
		WHERE user_id = ?`,
		nowStr, nowStr, nowStr, nowStr,
		formatSQLiteTime(now.Add(period)), nowStr, userID)
	if err != nil {
		slog.Error("SQLiteStore ActivateSubscription failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to activate subscription for %s: %w", userID, err)
	}
	slog.Info("SQLiteStore subscription activated", "userID", userID)
	return s.GetProfile(ctx, userID)
}

func (s *SQLiteStore) SetLastCompletedDay(ctx context.Context, userID string, day int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_completed_day = ?, updated_at = ? WHERE user_id = ?`,
		day, formatSQLiteTime(s.now()), userID)
	if err != nil {
		slog.Error("SQLiteStore SetLastCompletedDay failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to set last completed day for %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrProfileNotFound
	}
	return nil
}

func (s *SQLiteStore) MarkProgramCompleted(ctx context.Context, userID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET program_completed_at = ? WHERE user_id = ? AND program_completed_at IS NULL`,
		formatSQLiteTime(at), userID)
	if err != nil {
		slog.Error("SQLiteStore MarkProgramCompleted failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to mark program completed for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM users ORDER BY created_at, user_id`)
	if err != nil {
		slog.Error("SQLiteStore ListProfiles query failed", "error", err)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()
	var out []models.Profile
	for rows.Next() {
		p, err := scanSQLiteProfile(rows)
		if err != nil {
			slog.Error("SQLiteStore ListProfiles scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}
	slog.Debug("SQLiteStore ListProfiles succeeded", "count", len(out))
	return out, nil
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, userID, text string) error {
	if strings.TrimSpace(userID) == "" {
		return models.ErrEmptyUserID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_wins (user_id, win_text, created_at) VALUES (?, ?, ?)`,
		userID, text, formatSQLiteTime(s.now()))
	if err != nil {
		slog.Error("SQLiteStore AppendHistory failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to append history for %s: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context) ([]models.WinEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, win_text, created_at FROM user_wins ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListHistory query failed", "error", err)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	var out []models.WinEntry
	for rows.Next() {
		var w models.WinEntry
		var created string
		if err := rows.Scan(&w.ID, &w.UserID, &w.Text, &created); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		w.CreatedAt = parseSQLiteTime(created)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendContract(ctx context.Context, userID, goal, deadline, stake string) (*models.Contract, error) {
	c := models.Contract{UserID: userID, Goal: goal, Deadline: deadline, Stake: stake, Status: models.ContractActive, CreatedAt: s.now()}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contracts (user_id, goal, deadline, stake, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Goal, c.Deadline, c.Stake, c.Status, formatSQLiteTime(c.CreatedAt))
	if err != nil {
		slog.Error("SQLiteStore AppendContract failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to append contract for %s: %w", userID, err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read contract id: %w", err)
	}
	slog.Debug("SQLiteStore AppendContract succeeded", "userID", userID, "id", c.ID)
	return &c, nil
}

func (s *SQLiteStore) ListContracts(ctx context.Context, userID string) ([]models.Contract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, goal, deadline, stake, status, created_at FROM contracts WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListContracts query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()
	var out []models.Contract
	for rows.Next() {
		var c models.Contract
		var status, created string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Goal, &c.Deadline, &c.Stake, &status, &created); err != nil {
			return nil, fmt.Errorf("failed to scan contract row: %w", err)
		}
		c.Status = models.ContractStatus(status)
		c.CreatedAt = parseSQLiteTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordDayScore(ctx context.Context, userID, date string, score int) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, models.ErrEmptyUserID
	}
	if err := models.ValidateScore(score); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO day_scores (user_id, date, score, created_at) VALUES (?, ?, ?, ?)`,
		userID, date, score, formatSQLiteTime(s.now()))
	if err != nil {
		slog.Error("SQLiteStore RecordDayScore failed", "error", err, "userID", userID, "date", date)
		return false, fmt.Errorf("failed to record score for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) RecentScores(ctx context.Context, userID string, limit int) ([]models.DayScore, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, date, score, created_at FROM day_scores WHERE user_id = ? ORDER BY date DESC LIMIT ?`, userID, limit)
	if err != nil {
		slog.Error("SQLiteStore RecentScores query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()
	var out []models.DayScore
	for rows.Next() {
		var d models.DayScore
		var created string
		if err := rows.Scan(&d.UserID, &d.Date, &d.Score, &created); err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}
		d.CreatedAt = parseSQLiteTime(created)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseScores(out)
	return out, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
