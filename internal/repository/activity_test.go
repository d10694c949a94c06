package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/grillzstudio/internal/models"
)

func setupActivityMock(t *testing.T) (*PostgresActivityRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	return NewPostgresActivityRepository(db), mock, func() { db.Close() }
}

func TestActivityInsert(t *testing.T) {
	repo, mock, cleanup := setupActivityMock(t)
	defer cleanup()

	email := "a@b.co"
	duration, depth := 42, 80
	now := time.Now()
	e := &models.ActivityLogEntry{
		VisitorID:          "v_abc123xyz",
		UserEmail:          &email,
		ActionType:         models.ActionNavigation,
		Detail:             "/dashboard",
		SessionDurationSec: &duration,
		MaxScrollDepth:     &depth,
	}

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO activity_logs`)).
		WithArgs("v_abc123xyz", "a@b.co", "NAVIGATION", "/dashboard", int64(42), int64(80)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "timestamp"}).AddRow(int64(7), now))

	require.NoError(t, repo.Insert(context.Background(), e))
	assert.Equal(t, int64(7), e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivityInsert_NullOptionals(t *testing.T) {
	repo, mock, cleanup := setupActivityMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO activity_logs`)).
		WithArgs("v_1", nil, "INTERACTION", "click", nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "timestamp"}).AddRow(int64(8), time.Now()))

	err := repo.Insert(context.Background(), &models.ActivityLogEntry{VisitorID: "v_1", ActionType: models.ActionInteraction, Detail: "click"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivitySince(t *testing.T) {
	repo, mock, cleanup := setupActivityMock(t)
	defer cleanup()

	since := time.Now().Add(-7 * 24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE timestamp >= $1 ORDER BY timestamp DESC LIMIT $2`)).
		WithArgs(since, 200).
		WillReturnRows(sqlmock.NewRows([]string{"id", "visitor_id", "user_email", "action_type", "detail", "session_duration_sec", "max_scroll_depth", "timestamp"}).
			AddRow(int64(2), "v_2", "a@b.co", "NAVIGATION", "/", int64(10), int64(55), time.Now()).
			AddRow(int64(1), "v_1", nil, "INTERACTION", "quote", nil, nil, since))

	entries, err := repo.Since(context.Background(), since, 200)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].UserEmail)
	assert.Equal(t, "a@b.co", *entries[0].UserEmail)
	assert.Equal(t, 55, *entries[0].MaxScrollDepth)
	assert.Nil(t, entries[1].UserEmail)
	assert.Nil(t, entries[1].SessionDurationSec)
}
