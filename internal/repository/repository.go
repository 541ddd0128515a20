package repository

import (
	"context"

	"github.com/Its-darshu/DarkSphere-sub000/internal/domain"
)

// UserRepository persists accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	SetUserDisabled(ctx context.Context, id string, disabled bool) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error)
}

// SecurityKeyRepository persists one-time registration keys.
type SecurityKeyRepository interface {
	CreateKey(ctx context.Context, key *domain.SecurityKey) error

	GetKeyByValue(ctx context.Context, value string) (*domain.SecurityKey, error)

	// ConsumeKey marks the key used by userID only if it is currently
	// active, unused, and within its validity window. The transition is a
	// single conditional update; a lost race returns ErrNotFound.
	ConsumeKey(ctx context.Context, value, userID string) (*domain.SecurityKey, error)

	// ReleaseKeysByUser reverts any key consumed by userID back to unused.
	ReleaseKeysByUser(ctx context.Context, userID string) (int, error)

	DeactivateKey(ctx context.Context, id string) error

	// ListKeys returns keys newest first.
	ListKeys(ctx context.Context, limit, offset int) ([]domain.SecurityKey, error)
}

// PostRepository persists feed posts.
type PostRepository interface {
	CreatePost(ctx context.Context, post *domain.Post) error
	GetPostByID(ctx context.Context, id string) (*domain.Post, error)
	ListPosts(ctx context.Context, limit, offset int) ([]domain.Post, error)
	DeletePost(ctx context.Context, id string) error
	DeletePostsByAuthor(ctx context.Context, authorID string) (int, error)
}

// AnnouncementRepository persists admin notices.
type AnnouncementRepository interface {
	CreateAnnouncement(ctx context.Context, announcement *domain.Announcement) error
	ListAnnouncements(ctx context.Context, limit int) ([]domain.Announcement, error)
}

// FlagRepository persists moderation reports.
type FlagRepository interface {
	CreateFlag(ctx context.Context, flag *domain.Flag) error
	GetFlagByID(ctx context.Context, id string) (*domain.Flag, error)
	ListOpenFlags(ctx context.Context, limit int) ([]domain.Flag, error)

	// ResolveFlag closes an open flag with the given status. Resolving an
	// already-resolved flag returns ErrNotFound.
	ResolveFlag(ctx context.Context, id, status, resolverID string) (*domain.Flag, error)
}

// AuditRepository appends immutable audit records.
type AuditRepository interface {
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
	ListAudits(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error)
}
