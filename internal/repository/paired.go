package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/models"
)

// PostgresPairedWriter applies the writes that must change a ticket and its
// order together inside one transaction.
type PostgresPairedWriter struct {
	// DB is the database handle for executing transactions.
	DB *sql.DB
}

// NewPostgresPairedWriter creates a transactional writer on db.
func NewPostgresPairedWriter(db *sql.DB) *PostgresPairedWriter {
	return &PostgresPairedWriter{DB: db}
}

// ApproveTx inserts o and moves the pending ticket with the same email to
// approved. If the ticket is not pending nothing is written and
// apperr.ErrInvalidTransition is returned.
func (w *PostgresPairedWriter) ApproveTx(ctx context.Context, o *models.Order) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE tickets SET status = $2 WHERE email = $1 AND status = $3`,
		o.Email, models.TicketStatusApproved, models.TicketStatusPending)
	if err != nil {
		return errors.Wrap(err, "approve ticket")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "rows affected")
	} else if n == 0 {
		return apperr.ErrInvalidTransition
	}

	if err := insertOrder(ctx, tx, o); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "commit")
}

// DeleteTx removes the order for email and reverts its ticket, if any, to pending.
func (w *PostgresPairedWriter) DeleteTx(ctx context.Context, email string) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE email = $1`, email)
	if err != nil {
		return errors.Wrap(err, "delete order")
	}
	if err := expectOne(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tickets SET status = $2 WHERE email = $1`,
		email, models.TicketStatusPending); err != nil {
		return errors.Wrap(err, "revert ticket")
	}

	return errors.Wrap(tx.Commit(), "commit")
}
