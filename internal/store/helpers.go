package store

import (
	"database/sql"
	"time"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// sqliteTimeLayout is fixed-width UTC so stored values compare correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// profileColumns is the column list shared by every profile query.
const profileColumns = `user_id, display_name, username,
	COALESCE(pain, ''), COALESCE(fear, ''), COALESCE(goal, ''), COALESCE(price, ''),
	subscription_status, subscription_start, subscription_expiry,
	last_completed_day, program_completed_at, created_at, updated_at`

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		// Rows written by hand or by older builds may use RFC 3339.
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullSQLiteTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseSQLiteTime(ns.String)
	return &t
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// nilIfNil turns an optional string into a value database/sql binds as NULL.
func nilIfNil(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteProfile(r rowScanner) (*models.Profile, error) {
	var (
		p                        models.Profile
		status                   string
		start, expiry, completed sql.NullString
		createdAt, updatedAt     string
	)
	err := r.Scan(&p.UserID, &p.DisplayName, &p.Username,
		&p.Pain, &p.Fear, &p.Goal, &p.Price,
		&status, &start, &expiry,
		&p.LastCompletedDay, &completed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.SubscriptionStatus(status)
	p.SubscriptionStart = nullSQLiteTime(start)
	p.SubscriptionExpiry = nullSQLiteTime(expiry)
	p.ProgramCompletedAt = nullSQLiteTime(completed)
	p.CreatedAt = parseSQLiteTime(createdAt)
	p.UpdatedAt = parseSQLiteTime(updatedAt)
	return &p, nil
}

func scanPostgresProfile(r rowScanner) (*models.Profile, error) {
	var (
		p                        models.Profile
		status                   string
		start, expiry, completed sql.NullTime
	)
	err := r.Scan(&p.UserID, &p.DisplayName, &p.Username,
		&p.Pain, &p.Fear, &p.Goal, &p.Price,
		&status, &start, &expiry,
		&p.LastCompletedDay, &completed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.SubscriptionStatus(status)
	p.SubscriptionStart = nullTime(start)
	p.SubscriptionExpiry = nullTime(expiry)
	p.ProgramCompletedAt = nullTime(completed)
	return &p, nil
}

// reverseScores flips a newest-first slice into chronological order.
func reverseScores(s []models.DayScore) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
