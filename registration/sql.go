package registration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/gowheels/migrations"
)

// Repository stores sessions in Postgres.
type Repository struct {
	db  *sqlx.DB
	ttl time.Duration
}

func NewRepository(db *sqlx.DB, ttl time.Duration) *Repository {
	return &Repository{db: db, ttl: ttl}
}

// Migrate applies the embedded schema.
func (r *Repository) Migrate(ctx context.Context) error {
	files, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return err
	}
	for _, f := range files {
		schema, err := fs.ReadFile(migrations.FS, f.Name())
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, string(schema)); err != nil {
			return fmt.Errorf("apply %s: %w", f.Name(), err)
		}
	}
	return nil
}

type sessionRow struct {
	ID          uuid.UUID `db:"id"`
	Step        Step      `db:"step"`
	Username    string    `db:"username"`
	Email       string    `db:"email"`
	FirstName   string    `db:"first_name"`
	LastName    string    `db:"last_name"`
	UserID      string    `db:"user_id"`
	PhoneNumber string    `db:"phone_number"`
	OTPCode     string    `db:"otp_code"`
	Pending     bool      `db:"pending"`
	LastError   string    `db:"last_error"`
	Attempt     int64     `db:"attempt"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

func (r *Repository) toRow(s *Session) sessionRow {
	return sessionRow{
		ID:          s.ID,
		Step:        s.Step,
		Username:    s.Account.Username,
		Email:       s.Account.Email,
		FirstName:   s.Account.FirstName,
		LastName:    s.Account.LastName,
		UserID:      s.UserID,
		PhoneNumber: s.PhoneNumber,
		OTPCode:     s.OTPCode,
		Pending:     s.Pending,
		LastError:   s.LastError,
		Attempt:     int64(s.Attempt),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		ExpiresAt:   time.Now().Add(r.ttl),
	}
}

func (row sessionRow) session() *Session {
	return &Session{
		ID:   row.ID,
		Step: row.Step,
		Account: AccountInput{
			Username:  row.Username,
			Email:     row.Email,
			FirstName: row.FirstName,
			LastName:  row.LastName,
		},
		UserID:      row.UserID,
		PhoneNumber: row.PhoneNumber,
		OTPCode:     row.OTPCode,
		Pending:     row.Pending,
		LastError:   row.LastError,
		Attempt:     uint64(row.Attempt),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func (r *Repository) Create(ctx context.Context, s *Session) error {
	_, err := r.db.NamedExecContext(ctx, createSession, r.toRow(s))
	return err
}

const createSession = `
INSERT INTO registration_sessions (id, step, username, email, first_name, last_name, user_id,
    phone_number, otp_code, pending, last_error, attempt, created_at, updated_at, expires_at)
VALUES (:id, :step, :username, :email, :first_name, :last_name, :user_id,
    :phone_number, :otp_code, :pending, :last_error, :attempt, :created_at, :updated_at, :expires_at)
`

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, getSession, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.session(), nil
}

const getSession = `SELECT * FROM registration_sessions WHERE id = $1 AND expires_at > now()`

// Update locks the row for the duration of fn.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fn func(*Session) error) (*Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var row sessionRow
	err = tx.GetContext(ctx, &row, lockSession, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s := row.session()
	if err := fn(s); err != nil {
		return nil, err
	}

	_, err = tx.NamedExecContext(ctx, updateSession, r.toRow(s))
	if err != nil {
		return nil, err
	}
	return s, tx.Commit()
}

const lockSession = `SELECT * FROM registration_sessions WHERE id = $1 AND expires_at > now() FOR UPDATE`
const updateSession = `
UPDATE registration_sessions SET step = :step, username = :username, email = :email,
    first_name = :first_name, last_name = :last_name, user_id = :user_id,
    phone_number = :phone_number, otp_code = :otp_code, pending = :pending,
    last_error = :last_error, attempt = :attempt, updated_at = :updated_at, expires_at = :expires_at
WHERE id = :id
`

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, deleteSession, id)
	return err
}

const deleteSession = `DELETE FROM registration_sessions WHERE id = $1`

// DeleteExpired removes sessions past their expiry and reports how many were removed.
func (r *Repository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExpired)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteExpired = `DELETE FROM registration_sessions WHERE expires_at <= now()`
