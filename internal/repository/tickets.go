// Package repository provides the Postgres implementation of the persistence gateway
// for tickets, orders, activity logs and authentication.
package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/models"
)

const ticketColumns = `email, name, material_id, comments, device_os, status, created_at, ai_mesh_url`

// PostgresTicketRepository stores quote tickets keyed by email.
type PostgresTicketRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresTicketRepository creates a ticket repository on db.
func NewPostgresTicketRepository(db *sql.DB) *PostgresTicketRepository {
	return &PostgresTicketRepository{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var (
		t    models.Ticket
		mesh sql.NullString
	)
	if err := row.Scan(&t.Email, &t.Name, &t.MaterialID, &t.Comments, &t.DeviceOS, &t.Status, &t.CreatedAt, &mesh); err != nil {
		return nil, err
	}
	if mesh.Valid {
		t.AIMeshURL = &mesh.String
	}
	return &t, nil
}

// Create inserts a pending ticket. An existing ticket for the same email is
// left untouched and apperr.ErrTicketExists is returned.
func (r *PostgresTicketRepository) Create(ctx context.Context, t *models.Ticket) error {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO tickets (email, name, material_id, comments, device_os, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO NOTHING
		RETURNING created_at
	`, t.Email, t.Name, t.MaterialID, t.Comments, t.DeviceOS, t.Status).Scan(&t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrTicketExists
	}
	return errors.Wrap(err, "create ticket")
}

// Get returns the ticket for email or apperr.ErrNotFound.
func (r *PostgresTicketRepository) Get(ctx context.Context, email string) (*models.Ticket, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE email = $1`, email)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get ticket")
	}
	return t, nil
}

// List returns all tickets, newest first.
func (r *PostgresTicketRepository) List(ctx context.Context) ([]models.Ticket, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list tickets")
	}
	return collectTickets(rows)
}

// ListByStatus returns tickets whose status is one of statuses.
func (r *PostgresTicketRepository) ListByStatus(ctx context.Context, statuses ...models.TicketStatus) ([]models.Ticket, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE status = ANY($1) ORDER BY created_at DESC`,
		pq.Array(values))
	if err != nil {
		return nil, errors.Wrap(err, "list tickets by status")
	}
	return collectTickets(rows)
}

func collectTickets(rows *sql.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan ticket")
		}
		tickets = append(tickets, *t)
	}
	return tickets, errors.WithStack(rows.Err())
}

// UpdateStatus sets the status of the ticket for email.
func (r *PostgresTicketRepository) UpdateStatus(ctx context.Context, email string, status models.TicketStatus) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tickets SET status = $2 WHERE email = $1`, email, status)
	if err != nil {
		return errors.Wrap(err, "update ticket status")
	}
	return expectOne(res)
}

// SetMeshURL records a generated preview mesh on the ticket.
func (r *PostgresTicketRepository) SetMeshURL(ctx context.Context, email, url string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tickets SET ai_mesh_url = $2 WHERE email = $1`, email, url)
	if err != nil {
		return errors.Wrap(err, "set ticket mesh url")
	}
	return expectOne(res)
}

// expectOne maps a zero-row write to apperr.ErrNotFound.
func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
