// Package store provides storage backends for AlterEgo.
//
// It holds user profiles, the append-only win history, futures contracts and
// day scores. Backends: in-memory (tests and DSN-less runs), SQLite and PostgreSQL.
package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// Store is the persistence contract used by the dialogue engine, the program
// broadcaster and the HTTP API. Every write touches a single record keyed by
// user id (or an autoincrement id for append-only rows).
type Store interface {
	// GetProfile returns nil, nil when the user is unknown.
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	// EnsureProfile creates the profile with defaults on first contact and returns it.
	EnsureProfile(ctx context.Context, userID, displayName, username string) (*models.Profile, error)
	// UpsertProfile creates the profile if needed and applies the non-nil fields of update.
	UpsertProfile(ctx context.Context, userID string, update models.ProfileUpdate) error
	// ActivateSubscription marks the user active until now+period. The start
	// timestamp is set only when the user was not already active.
	ActivateSubscription(ctx context.Context, userID string, now time.Time, period time.Duration) (*models.Profile, error)
	// SetLastCompletedDay records the last acknowledged program day.
	SetLastCompletedDay(ctx context.Context, userID string, day int) error
	// MarkProgramCompleted stamps the completion time once. It reports true only on the first call.
	MarkProgramCompleted(ctx context.Context, userID string, at time.Time) (bool, error)
	// ListProfiles returns every known profile.
	ListProfiles(ctx context.Context) ([]models.Profile, error)

	// AppendHistory persists a raw win submission.
	AppendHistory(ctx context.Context, userID, text string) error
	// ListHistory returns every persisted win in insertion order.
	ListHistory(ctx context.Context) ([]models.WinEntry, error)

	// AppendContract writes a new active contract.
	AppendContract(ctx context.Context, userID, goal, deadline, stake string) (*models.Contract, error)
	// ListContracts returns the user's contracts, newest first.
	ListContracts(ctx context.Context, userID string) ([]models.Contract, error)

	// RecordDayScore stores a score for the date. It reports false when the
	// date already has a score, leaving the existing one in place.
	RecordDayScore(ctx context.Context, userID, date string, score int) (bool, error)
	// RecentScores returns up to limit scores, oldest first.
	RecentScores(ctx context.Context, userID string, limit int) ([]models.DayScore, error)

	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") ||
		strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// NewStore picks a backend from the configured DSN. An empty DSN yields an in-memory store.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Warn("NewStore: no DSN configured, using in-memory store; data will not survive restarts")
		return NewInMemoryStore(), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}

var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
