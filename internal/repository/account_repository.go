package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/account-service/internal/domain"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrEmailTaken is returned when the email uniqueness constraint rejects an insert.
	ErrEmailTaken = errors.New("email already registered")
)

const uniqueViolation = "23505"

// ProfileUpdate lists the profile fields to write; nil fields keep their stored value.
type ProfileUpdate struct {
	Name      *string
	AvatarURL *string
}

// Empty reports whether the update would change nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.AvatarURL == nil
}

// AccountRepository defines persistence access for accounts.
type AccountRepository interface {
	Create(ctx context.Context, email, name, passwordHash string) (*domain.Account, error)
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*domain.Account, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) (*domain.Account, error)
}

// rowQuerier is the part of *pgxpool.Pool the repository uses.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type accountRepository struct {
	db rowQuerier
}

// NewAccountRepository returns a Postgres-backed implementation.
func NewAccountRepository(pool *pgxpool.Pool) AccountRepository {
	return &accountRepository{db: pool}
}

const accountColumns = `id, email, password, COALESCE(name, ''), COALESCE(avatar, ''), created_at, updated_at`

func (r *accountRepository) Create(ctx context.Context, email, name, passwordHash string) (*domain.Account, error) {
	const query = `
        INSERT INTO users (email, name, password)
        VALUES ($1, $2, $3)
        RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRow(ctx, query, email, name, passwordHash))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return account, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM users WHERE id=$1`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM users WHERE email=$1`
	return scanAccount(r.db.QueryRow(ctx, query, email))
}

// UpdateProfile writes only the fields present in update, in one statement.
func (r *accountRepository) UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*domain.Account, error) {
	const query = `
        UPDATE users
        SET name = COALESCE($2, name), avatar = COALESCE($3, avatar), updated_at = NOW()
        WHERE id = $1
        RETURNING ` + accountColumns

	return scanAccount(r.db.QueryRow(ctx, query, id, update.Name, update.AvatarURL))
}

func (r *accountRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) (*domain.Account, error) {
	const query = `
        UPDATE users SET password = $2, updated_at = NOW()
        WHERE id = $1
        RETURNING ` + accountColumns

	return scanAccount(r.db.QueryRow(ctx, query, id, passwordHash))
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	if err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Name,
		&account.AvatarURL,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
