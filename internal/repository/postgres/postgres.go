package postgres

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/Its-darshu/DarkSphere-sub000/internal/domain"
	"github.com/Its-darshu/DarkSphere-sub000/internal/repository"
)

const (
	retryAttempts       = 2
	retryBase           = 50 * time.Millisecond
	defaultQueryTimeout = 5 * time.Second
)

// Repository implements persistence interfaces on PostgreSQL. Every
// operation is bounded by queryTimeout so a hung connection surfaces as
// context.DeadlineExceeded instead of stalling the request.
type Repository struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// New constructs a Repository. queryTimeout <= 0 falls back to the
// five-second default.
func New(pool *pgxpool.Pool, queryTimeout time.Duration) *Repository {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Repository{pool: pool, queryTimeout: queryTimeout}
}

// opCtx derives the per-operation deadline from the caller's context.
func (r *Repository) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.queryTimeout)
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository         = (*Repository)(nil)
	_ repository.SecurityKeyRepository  = (*Repository)(nil)
	_ repository.PostRepository         = (*Repository)(nil)
	_ repository.AnnouncementRepository = (*Repository)(nil)
	_ repository.FlagRepository         = (*Repository)(nil)
	_ repository.AuditRepository        = (*Repository)(nil)
)

// withReadRetry retries read-only queries on transient connection failures.
// Logical outcomes (not found, conflict) are surfaced immediately.
func (r *Repository) withReadRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(retryAttempts, retry.NewFibonacci(retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateUser inserts an account.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, username, display_name, role, disabled, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.Username, user.DisplayName, user.Role, user.Disabled, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return err
	}
	return nil
}

const userColumns = `id, email, username, display_name, role, disabled, password_hash, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.Role, &u.Disabled, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves an account by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var user *domain.User
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		user, scanErr = scanUser(r.pool.QueryRow(ctx, query, id))
		return scanErr
	})
	return user, err
}

// GetUserByEmail fetches an account by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var user *domain.User
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		user, scanErr = scanUser(r.pool.QueryRow(ctx, query, email))
		return scanErr
	})
	return user, err
}

// GetUserByUsername fetches an account by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var user *domain.User
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		user, scanErr = scanUser(r.pool.QueryRow(ctx, query, username))
		return scanErr
	})
	return user, err
}

// SetUserDisabled flips the disabled flag on an account.
func (r *Repository) SetUserDisabled(ctx context.Context, id string, disabled bool) error {
	const query = `UPDATE users SET disabled = $2, updated_at = NOW() WHERE id = $1`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx, query, id, disabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteUser removes an account. Comments and likes left by the account
// are removed by foreign-key cascade.
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListUsers returns accounts newest first.
func (r *Repository) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var users []domain.User
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		users = users[:0]
		for rows.Next() {
			var u domain.User
			if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.Role, &u.Disabled, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}
