package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/models"
)

const orderColumns = `email, name, model_type, current_stage, history, comments, admin_notes, device_os, needs_password_change, custom_designs, ai_mesh_url, created_at, updated_at`

// PostgresOrderRepository stores production orders keyed by email. History and
// custom designs are JSONB arrays that are only ever appended to.
type PostgresOrderRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresOrderRepository creates an order repository on db.
func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{DB: db}
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                models.Order
		history, designs []byte
		mesh             sql.NullString
	)
	if err := row.Scan(&o.Email, &o.Name, &o.ModelType, &o.Stage, &history, &o.Comments, &o.AdminNotes,
		&o.DeviceOS, &o.NeedsPasswordChange, &designs, &mesh, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalArray(history, &o.History); err != nil {
		return nil, errors.Wrap(err, "decode history")
	}
	if err := unmarshalArray(designs, &o.CustomDesigns); err != nil {
		return nil, errors.Wrap(err, "decode custom designs")
	}
	if mesh.Valid {
		o.AIMeshURL = &mesh.String
	}
	return &o, nil
}

func unmarshalArray[T any](raw []byte, dst *[]T) error {
	if len(raw) == 0 {
		*dst = []T{}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return err
	}
	if *dst == nil {
		*dst = []T{}
	}
	return nil
}

// Create inserts a new order.
func (r *PostgresOrderRepository) Create(ctx context.Context, o *models.Order) error {
	return insertOrder(ctx, r.DB, o)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertOrder(ctx context.Context, q queryRower, o *models.Order) error {
	history, err := json.Marshal(o.History)
	if err != nil {
		return errors.Wrap(err, "encode history")
	}
	designs, err := json.Marshal(o.CustomDesigns)
	if err != nil {
		return errors.Wrap(err, "encode custom designs")
	}
	err = q.QueryRowContext(ctx, `
		INSERT INTO orders (email, name, model_type, current_stage, history, comments, admin_notes, device_os, needs_password_change, custom_designs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, o.Email, o.Name, o.ModelType, o.Stage, history, o.Comments, o.AdminNotes, o.DeviceOS, o.NeedsPasswordChange, designs).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	return errors.Wrap(err, "create order")
}

// Get returns the order for email or apperr.ErrNotFound.
func (r *PostgresOrderRepository) Get(ctx context.Context, email string) (*models.Order, error) {
	o, err := scanOrder(r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// List returns all orders, newest first.
func (r *PostgresOrderRepository) List(ctx context.Context) ([]models.Order, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		orders = append(orders, *o)
	}
	return orders, errors.WithStack(rows.Err())
}

// Update applies the non-nil fields of upd. When entry is non-nil it is appended
// to the order history in the same statement.
func (r *PostgresOrderRepository) Update(ctx context.Context, email string, upd models.OrderUpdate, entry *models.StageEntry) (*models.Order, error) {
	sets := make([]string, 0, 7)
	args := []any{email}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.ModelType != nil {
		add("model_type", *upd.ModelType)
	}
	if upd.Stage != nil {
		add("current_stage", *upd.Stage)
	}
	if upd.AdminNotes != nil {
		add("admin_notes", *upd.AdminNotes)
	}
	if upd.Comments != nil {
		add("comments", *upd.Comments)
	}
	if entry != nil {
		raw, err := json.Marshal([]models.StageEntry{*entry})
		if err != nil {
			return nil, errors.Wrap(err, "encode history entry")
		}
		args = append(args, raw)
		sets = append(sets, fmt.Sprintf("history = history || $%d::jsonb", len(args)))
	}
	sets = append(sets, "updated_at = now()")

	query := `UPDATE orders SET ` + strings.Join(sets, ", ") + ` WHERE email = $1 RETURNING ` + orderColumns
	return r.returning(ctx, "update order", query, args...)
}

// AppendDesign appends d to the order's custom designs.
func (r *PostgresOrderRepository) AppendDesign(ctx context.Context, email string, d models.DesignRef) (*models.Order, error) {
	raw, err := json.Marshal([]models.DesignRef{d})
	if err != nil {
		return nil, errors.Wrap(err, "encode design")
	}
	return r.returning(ctx, "append design",
		`UPDATE orders SET custom_designs = custom_designs || $2::jsonb, updated_at = now() WHERE email = $1 RETURNING `+orderColumns,
		email, raw)
}

// SetNeedsPasswordChange sets or clears the trap-door flag.
func (r *PostgresOrderRepository) SetNeedsPasswordChange(ctx context.Context, email string, needs bool) (*models.Order, error) {
	return r.returning(ctx, "set password flag",
		`UPDATE orders SET needs_password_change = $2, updated_at = now() WHERE email = $1 RETURNING `+orderColumns,
		email, needs)
}

// SetMeshURL records the permanent URL of a generated mesh on the order.
func (r *PostgresOrderRepository) SetMeshURL(ctx context.Context, email, url string) (*models.Order, error) {
	return r.returning(ctx, "set order mesh url",
		`UPDATE orders SET ai_mesh_url = $2, updated_at = now() WHERE email = $1 RETURNING `+orderColumns,
		email, url)
}

// Delete removes the order for email.
func (r *PostgresOrderRepository) Delete(ctx context.Context, email string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM orders WHERE email = $1`, email)
	if err != nil {
		return errors.Wrap(err, "delete order")
	}
	return expectOne(res)
}

func (r *PostgresOrderRepository) returning(ctx context.Context, op, query string, args ...any) (*models.Order, error) {
	o, err := scanOrder(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	return o, nil
}
