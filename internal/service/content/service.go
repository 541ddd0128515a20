package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Its-darshu/DarkSphere-sub000/internal/cache"
	"github.com/Its-darshu/DarkSphere-sub000/internal/domain"
	"github.com/Its-darshu/DarkSphere-sub000/internal/repository"
)

var ErrValidation = errors.New("content: validation failed")

// Service serves the read-heavy content surface through per-entity caches
// and accepts moderation reports.
type Service struct {
	posts             repository.PostRepository
	announcements     repository.AnnouncementRepository
	flags             repository.FlagRepository
	postCache         *cache.Cache
	announcementCache *cache.Cache
	logger            *slog.Logger
}

// New constructs a Service. Caches may be nil.
func New(
	posts repository.PostRepository,
	announcements repository.AnnouncementRepository,
	flags repository.FlagRepository,
	postCache, announcementCache *cache.Cache,
	logger *slog.Logger,
) Service {
	return Service{
		posts:             posts,
		announcements:     announcements,
		flags:             flags,
		postCache:         postCache,
		announcementCache: announcementCache,
		logger:            logger,
	}
}

// ListPosts returns the default first page of the feed, cached. Paged
// requests bypass the cache: only the hot first page is worth memoizing.
func (s Service) ListPosts(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	firstPage := offset == 0
	if firstPage && s.postCache != nil {
		if value, ok := s.postCache.Get(cache.PostListKey()); ok {
			if posts, ok := value.([]domain.Post); ok {
				return posts, nil
			}
		}
	}
	posts, err := s.posts.ListPosts(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if firstPage && s.postCache != nil {
		s.postCache.Set(cache.PostListKey(), posts)
	}
	return posts, nil
}

// GetPost returns one post, cached by id.
func (s Service) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	if s.postCache != nil {
		if value, ok := s.postCache.Get(cache.PostKey(id)); ok {
			if post, ok := value.(*domain.Post); ok {
				return post, nil
			}
		}
	}
	post, err := s.posts.GetPostByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.postCache != nil {
		s.postCache.Set(cache.PostKey(id), post)
	}
	return post, nil
}

// CreatePost stores a post and invalidates the feed page before returning.
func (s Service) CreatePost(ctx context.Context, authorID, body, imageURL string) (*domain.Post, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: body is required", ErrValidation)
	}
	post := &domain.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Body:      body,
		ImageURL:  strings.TrimSpace(imageURL),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.posts.CreatePost(ctx, post); err != nil {
		return nil, err
	}
	if s.postCache != nil {
		s.postCache.Delete(cache.PostListKey())
	}
	s.logger.Info("post created", "post_id", post.ID, "author_id", authorID)
	return post, nil
}

// ListAnnouncements returns site notices, cached.
func (s Service) ListAnnouncements(ctx context.Context, limit int) ([]domain.Announcement, error) {
	if s.announcementCache != nil {
		if value, ok := s.announcementCache.Get(cache.AnnouncementListKey()); ok {
			if announcements, ok := value.([]domain.Announcement); ok {
				return announcements, nil
			}
		}
	}
	announcements, err := s.announcements.ListAnnouncements(ctx, limit)
	if err != nil {
		return nil, err
	}
	if s.announcementCache != nil {
		s.announcementCache.Set(cache.AnnouncementListKey(), announcements)
	}
	return announcements, nil
}

// CreateAnnouncement stores a notice and invalidates the cached list.
func (s Service) CreateAnnouncement(ctx context.Context, authorID, title, body string) (*domain.Announcement, error) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" || body == "" {
		return nil, fmt.Errorf("%w: title and body are required", ErrValidation)
	}
	announcement := &domain.Announcement{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.announcements.CreateAnnouncement(ctx, announcement); err != nil {
		return nil, err
	}
	if s.announcementCache != nil {
		s.announcementCache.Delete(cache.AnnouncementListKey())
	}
	s.logger.Info("announcement created", "announcement_id", announcement.ID, "author_id", authorID)
	return announcement, nil
}

// ReportPost files a moderation flag against an existing post.
func (s Service) ReportPost(ctx context.Context, reporterID, postID, reason string) (*domain.Flag, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	if _, err := s.posts.GetPostByID(ctx, postID); err != nil {
		return nil, err
	}
	flag := &domain.Flag{
		ID:         uuid.NewString(),
		PostID:     postID,
		ReporterID: reporterID,
		Reason:     reason,
		Status:     domain.FlagStatusOpen,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.flags.CreateFlag(ctx, flag); err != nil {
		return nil, err
	}
	s.logger.Info("post flagged", "flag_id", flag.ID, "post_id", postID, "reporter_id", reporterID)
	return flag, nil
}
