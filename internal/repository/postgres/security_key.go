package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Its-darshu/DarkSphere-sub000/internal/domain"
	"github.com/Its-darshu/DarkSphere-sub000/internal/repository"
)

const (
	keyInsert = `INSERT INTO security_keys (
		id,
		value,
		tier,
		used,
		active,
		created_at,
		expires_at
	) VALUES (
		$1,$2,$3,FALSE,TRUE,NOW(),$4
	)`
	keyColumns       = `id, value, tier, used, used_by, used_at, active, created_at, expires_at`
	keySelectByValue = `SELECT ` + keyColumns + ` FROM security_keys WHERE value = $1 AND active ORDER BY created_at DESC LIMIT 1`
)

// CreateKey persists a new registration key. A value colliding with a
// still-active key maps the partial unique index violation to ErrDuplicate;
// deactivated keys do not block reuse of their value.
func (r *Repository) CreateKey(ctx context.Context, key *domain.SecurityKey) error {
	if key == nil {
		return repository.ErrInvalidArgument
	}
	value := strings.TrimSpace(key.Value)
	if value == "" {
		return repository.ErrInvalidArgument
	}
	tier := strings.TrimSpace(key.Tier)
	if tier == "" {
		tier = domain.KeyTierUser
	}
	var expiresAt any
	if key.ExpiresAt != nil {
		expiresAt = key.ExpiresAt.UTC()
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx, keyInsert, key.ID, value, tier, expiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return err
	}
	key.Value = value
	key.Tier = tier
	key.Used = false
	key.Active = true
	return nil
}

// GetKeyByValue fetches the active key carrying the given value.
func (r *Repository) GetKeyByValue(ctx context.Context, value string) (*domain.SecurityKey, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, repository.ErrInvalidArgument
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var key *domain.SecurityKey
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		key, scanErr = scanKey(r.pool.QueryRow(ctx, keySelectByValue, trimmed))
		return scanErr
	})
	return key, err
}

// ConsumeKey binds the key to userID with a single conditional update.
// The WHERE clause is the compare-and-set: only an active, unused,
// unexpired key row matches, so of two concurrent consumers exactly one
// sees a row and the loser gets ErrNotFound.
func (r *Repository) ConsumeKey(ctx context.Context, value, userID string) (*domain.SecurityKey, error) {
	const query = `UPDATE security_keys
		SET used = TRUE,
			used_by = $2,
			used_at = NOW()
		WHERE value = $1
			AND active
			AND NOT used
			AND (expires_at IS NULL OR expires_at > NOW())
		RETURNING ` + keyColumns
	trimmedValue := strings.TrimSpace(value)
	trimmedUser := strings.TrimSpace(userID)
	if trimmedValue == "" || trimmedUser == "" {
		return nil, repository.ErrInvalidArgument
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return scanKey(r.pool.QueryRow(ctx, query, trimmedValue, trimmedUser))
}

// ReleaseKeysByUser reverts keys consumed by userID back to unused,
// clearing the binding. Returns the number of keys released.
func (r *Repository) ReleaseKeysByUser(ctx context.Context, userID string) (int, error) {
	const query = `UPDATE security_keys
		SET used = FALSE,
			used_by = NULL,
			used_at = NULL
		WHERE used_by = $1 AND used`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx, query, strings.TrimSpace(userID))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// DeactivateKey retires a key permanently. Distinct from consumption: a
// deactivated key no longer gates anything and its value may be reissued.
func (r *Repository) DeactivateKey(ctx context.Context, id string) error {
	const query = `UPDATE security_keys SET active = FALSE WHERE id = $1 AND active`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx, query, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListKeys returns keys newest first.
func (r *Repository) ListKeys(ctx context.Context, limit, offset int) ([]domain.SecurityKey, error) {
	const query = `SELECT ` + keyColumns + ` FROM security_keys ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var keys []domain.SecurityKey
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		keys = keys[:0]
		for rows.Next() {
			key, err := scanKeyRow(rows)
			if err != nil {
				return err
			}
			keys = append(keys, *key)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func scanKey(row pgx.Row) (*domain.SecurityKey, error) {
	key, err := scanKeyRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return key, nil
}

func scanKeyRow(row pgx.Row) (*domain.SecurityKey, error) {
	var (
		key       domain.SecurityKey
		usedBy    sql.NullString
		usedAt    sql.NullTime
		expiresAt sql.NullTime
	)
	if err := row.Scan(
		&key.ID,
		&key.Value,
		&key.Tier,
		&key.Used,
		&usedBy,
		&usedAt,
		&key.Active,
		&key.CreatedAt,
		&expiresAt,
	); err != nil {
		return nil, err
	}
	if usedBy.Valid {
		value := strings.TrimSpace(usedBy.String)
		key.UsedBy = &value
	}
	if usedAt.Valid {
		value := usedAt.Time.UTC()
		key.UsedAt = &value
	}
	if expiresAt.Valid {
		value := expiresAt.Time.UTC()
		key.ExpiresAt = &value
	}
	key.Value = strings.TrimSpace(key.Value)
	key.Tier = strings.TrimSpace(key.Tier)
	return &key, nil
}
