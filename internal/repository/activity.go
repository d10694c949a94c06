package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/atinyakov/grillzstudio/internal/models"
)

// PostgresActivityRepository appends and reads telemetry records.
type PostgresActivityRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresActivityRepository creates an activity log repository on db.
func NewPostgresActivityRepository(db *sql.DB) *PostgresActivityRepository {
	return &PostgresActivityRepository{DB: db}
}

// Insert appends e. The id and timestamp assigned by the database are written back.
func (r *PostgresActivityRepository) Insert(ctx context.Context, e *models.ActivityLogEntry) error {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO activity_logs (visitor_id, user_email, action_type, detail, session_duration_sec, max_scroll_depth)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, timestamp
	`, e.VisitorID, nullString(e.UserEmail), e.ActionType, e.Detail, nullInt(e.SessionDurationSec), nullInt(e.MaxScrollDepth)).
		Scan(&e.ID, &e.Timestamp)
	return errors.Wrap(err, "insert activity log")
}

// Since returns up to limit entries newer than since, newest first.
func (r *PostgresActivityRepository) Since(ctx context.Context, since time.Time, limit int) ([]models.ActivityLogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, visitor_id, user_email, action_type, detail, session_duration_sec, max_scroll_depth, timestamp
		FROM activity_logs
		WHERE timestamp >= $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list activity logs")
	}
	defer rows.Close()

	var entries []models.ActivityLogEntry
	for rows.Next() {
		var (
			e               models.ActivityLogEntry
			email           sql.NullString
			duration, depth sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.VisitorID, &email, &e.ActionType, &e.Detail, &duration, &depth, &e.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan activity log")
		}
		if email.Valid {
			e.UserEmail = &email.String
		}
		e.SessionDurationSec = intPtr(duration)
		e.MaxScrollDepth = intPtr(depth)
		entries = append(entries, e)
	}
	return entries, errors.WithStack(rows.Err())
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
