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

const postColumns = `id, author_id, body, image_url, like_count, comment_count, created_at`

// CreatePost inserts a feed post.
func (r *Repository) CreatePost(ctx context.Context, post *domain.Post) error {
	const query = `INSERT INTO posts (id, author_id, body, image_url, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx, query, post.ID, post.AuthorID, post.Body, post.ImageURL, post.CreatedAt)
	return err
}

// GetPostByID fetches a post with its like/comment counts.
func (r *Repository) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	const query = `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var post *domain.Post
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		row := r.pool.QueryRow(ctx, query, id)
		var p domain.Post
		if err := row.Scan(&p.ID, &p.AuthorID, &p.Body, &p.ImageURL, &p.LikeCount, &p.CommentCount, &p.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repository.ErrNotFound
			}
			return err
		}
		post = &p
		return nil
	})
	return post, err
}

// ListPosts returns posts newest first.
func (r *Repository) ListPosts(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	const query = `SELECT ` + postColumns + ` FROM posts ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var posts []domain.Post
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		posts = posts[:0]
		for rows.Next() {
			var p domain.Post
			if err := rows.Scan(&p.ID, &p.AuthorID, &p.Body, &p.ImageURL, &p.LikeCount, &p.CommentCount, &p.CreatedAt); err != nil {
				return err
			}
			posts = append(posts, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// DeletePost removes a post. Comments and likes cascade at the schema level.
func (r *Repository) DeletePost(ctx context.Context, id string) error {
	const query = `DELETE FROM posts WHERE id = $1`
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

// DeletePostsByAuthor removes every post authored by authorID and returns
// the count removed. Used by the account-deletion cascade, which deletes
// content before the account row so a crash mid-cascade leaves nothing
// referencing a missing author.
func (r *Repository) DeletePostsByAuthor(ctx context.Context, authorID string) (int, error) {
	const query = `DELETE FROM posts WHERE author_id = $1`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx, query, authorID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CreateAnnouncement inserts an admin notice.
func (r *Repository) CreateAnnouncement(ctx context.Context, announcement *domain.Announcement) error {
	const query = `INSERT INTO announcements (id, author_id, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx, query, announcement.ID, announcement.AuthorID, announcement.Title, announcement.Body, announcement.CreatedAt)
	return err
}

// ListAnnouncements returns notices newest first.
func (r *Repository) ListAnnouncements(ctx context.Context, limit int) ([]domain.Announcement, error) {
	const query = `SELECT id, author_id, title, body, created_at FROM announcements ORDER BY created_at DESC LIMIT $1`
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var announcements []domain.Announcement
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		announcements = announcements[:0]
		for rows.Next() {
			var a domain.Announcement
			if err := rows.Scan(&a.ID, &a.AuthorID, &a.Title, &a.Body, &a.CreatedAt); err != nil {
				return err
			}
			announcements = append(announcements, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return announcements, nil
}

const flagColumns = `id, post_id, reporter_id, reason, status, created_at, resolved_at, resolved_by`

// CreateFlag records a moderation report against a post.
func (r *Repository) CreateFlag(ctx context.Context, flag *domain.Flag) error {
	const query = `INSERT INTO flags (id, post_id, reporter_id, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	status := flag.Status
	if status == "" {
		status = domain.FlagStatusOpen
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx, query, flag.ID, flag.PostID, flag.ReporterID, flag.Reason, status, flag.CreatedAt)
	if err != nil {
		return err
	}
	flag.Status = status
	return nil
}

// GetFlagByID fetches a flag by identifier.
func (r *Repository) GetFlagByID(ctx context.Context, id string) (*domain.Flag, error) {
	const query = `SELECT ` + flagColumns + ` FROM flags WHERE id = $1`
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var flag *domain.Flag
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		flag, scanErr = scanFlag(r.pool.QueryRow(ctx, query, id))
		return scanErr
	})
	return flag, err
}

// ListOpenFlags returns unresolved flags oldest first so the moderation
// queue drains in arrival order.
func (r *Repository) ListOpenFlags(ctx context.Context, limit int) ([]domain.Flag, error) {
	const query = `SELECT ` + flagColumns + ` FROM flags WHERE status = 'open' ORDER BY created_at ASC LIMIT $1`
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var flags []domain.Flag
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		flags = flags[:0]
		for rows.Next() {
			flag, err := scanFlagRow(rows)
			if err != nil {
				return err
			}
			flags = append(flags, *flag)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return flags, nil
}

// ResolveFlag transitions an open flag to a terminal status. The WHERE
// status = 'open' guard makes concurrent resolutions race-safe: the loser
// matches no row and gets ErrNotFound.
func (r *Repository) ResolveFlag(ctx context.Context, id, status, resolverID string) (*domain.Flag, error) {
	const query = `UPDATE flags
		SET status = $2,
			resolved_at = NOW(),
			resolved_by = $3
		WHERE id = $1 AND status = 'open'
		RETURNING ` + flagColumns
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return scanFlag(r.pool.QueryRow(ctx, query, id, status, resolverID))
}

func scanFlag(row pgx.Row) (*domain.Flag, error) {
	flag, err := scanFlagRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return flag, nil
}

func scanFlagRow(row pgx.Row) (*domain.Flag, error) {
	var (
		flag       domain.Flag
		resolvedAt sql.NullTime
		resolvedBy sql.NullString
	)
	if err := row.Scan(
		&flag.ID,
		&flag.PostID,
		&flag.ReporterID,
		&flag.Reason,
		&flag.Status,
		&flag.CreatedAt,
		&resolvedAt,
		&resolvedBy,
	); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		value := resolvedAt.Time.UTC()
		flag.ResolvedAt = &value
	}
	if resolvedBy.Valid {
		value := strings.TrimSpace(resolvedBy.String)
		flag.ResolvedBy = &value
	}
	return &flag, nil
}
