package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/models"
)

func setupPairedMock(t *testing.T) (*PostgresPairedWriter, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	return NewPostgresPairedWriter(db), mock, func() { db.Close() }
}

func newApprovedOrder() *models.Order {
	return &models.Order{
		Email:               "a@b.co",
		Name:                "Ann",
		History:             []models.StageEntry{{Stage: models.Stages[0], Date: time.Now()}},
		NeedsPasswordChange: true,
		CustomDesigns:       []models.DesignRef{},
	}
}

func TestApproveTx_Commits(t *testing.T) {
	w, mock, cleanup := setupPairedMock(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tickets SET status = $2 WHERE email = $1 AND status = $3`)).
		WithArgs("a@b.co", "approved", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO orders`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	require.NoError(t, w.ApproveTx(context.Background(), newApprovedOrder()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveTx_NotPendingRollsBack(t *testing.T) {
	w, mock, cleanup := setupPairedMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tickets SET status = $2`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := w.ApproveTx(context.Background(), newApprovedOrder())
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveTx_OrderInsertFailsRollsBack(t *testing.T) {
	w, mock, cleanup := setupPairedMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tickets SET status = $2`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO orders`)).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := w.ApproveTx(context.Background(), newApprovedOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTx_RevertsTicket(t *testing.T) {
	w, mock, cleanup := setupPairedMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM orders WHERE email = $1`)).
		WithArgs("a@b.co").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tickets SET status = $2 WHERE email = $1`)).
		WithArgs("a@b.co", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, w.DeleteTx(context.Background(), "a@b.co"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTx_MissingOrder(t *testing.T) {
	w, mock, cleanup := setupPairedMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM orders`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, w.DeleteTx(context.Background(), "a@b.co"), apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
