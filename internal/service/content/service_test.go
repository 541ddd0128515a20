package content

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/Its-darshu/DarkSphere-sub000/internal/cache"
	"github.com/Its-darshu/DarkSphere-sub000/internal/domain"
	"github.com/Its-darshu/DarkSphere-sub000/internal/repository"
)

func TestListPostsCachesFirstPageOnly(t *testing.T) {
	calls := 0
	posts := &postRepoMock{
		listFunc: func(_ context.Context, limit, offset int) ([]domain.Post, error) {
			calls++
			return []domain.Post{{ID: "p1"}}, nil
		},
	}
	postCache := cache.New("posts", time.Minute, 10, time.Hour)
	defer postCache.Close()
	svc := New(posts, &announcementRepoMock{}, &flagRepoMock{}, postCache, nil, newLogger())

	if _, err := svc.ListPosts(context.Background(), 20, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.ListPosts(context.Background(), 20, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected first page to be served from cache, got %d store calls", calls)
	}

	if _, err := svc.ListPosts(context.Background(), 20, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected paged request to bypass the cache, got %d store calls", calls)
	}
}

func TestCreatePostInvalidatesFeed(t *testing.T) {
	posts := &postRepoMock{}
	postCache := cache.New("posts", time.Minute, 10, time.Hour)
	defer postCache.Close()
	postCache.Set(cache.PostListKey(), []domain.Post{{ID: "stale"}})

	svc := New(posts, &announcementRepoMock{}, &flagRepoMock{}, postCache, nil, newLogger())

	post, err := svc.CreatePost(context.Background(), "user-1", "  hello world  ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.Body != "hello world" {
		t.Fatalf("expected trimmed body, got %q", post.Body)
	}
	if postCache.Has(cache.PostListKey()) {
		t.Fatalf("expected feed cache to be invalidated before return")
	}
}

func TestCreatePostRequiresBody(t *testing.T) {
	svc := New(&postRepoMock{}, &announcementRepoMock{}, &flagRepoMock{}, nil, nil, newLogger())
	if _, err := svc.CreatePost(context.Background(), "user-1", "   ", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGetPostCachesByID(t *testing.T) {
	calls := 0
	posts := &postRepoMock{
		getFunc: func(_ context.Context, id string) (*domain.Post, error) {
			calls++
			return &domain.Post{ID: id}, nil
		},
	}
	postCache := cache.New("posts", time.Minute, 10, time.Hour)
	defer postCache.Close()
	svc := New(posts, &announcementRepoMock{}, &flagRepoMock{}, postCache, nil, newLogger())

	for i := 0; i < 3; i++ {
		if _, err := svc.GetPost(context.Background(), "p1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one store read, got %d", calls)
	}
}

func TestAnnouncementsCacheInvalidatedOnCreate(t *testing.T) {
	listCalls := 0
	announcements := &announcementRepoMock{
		listFunc: func(context.Context, int) ([]domain.Announcement, error) {
			listCalls++
			return []domain.Announcement{{ID: "a1"}}, nil
		},
	}
	annCache := cache.New("announcements", time.Minute, 10, time.Hour)
	defer annCache.Close()
	svc := New(&postRepoMock{}, announcements, &flagRepoMock{}, nil, annCache, newLogger())

	if _, err := svc.ListAnnouncements(context.Background(), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.ListAnnouncements(context.Background(), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listCalls != 1 {
		t.Fatalf("expected cached list, got %d store calls", listCalls)
	}

	if _, err := svc.CreateAnnouncement(context.Background(), "admin-1", "title", "body"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.ListAnnouncements(context.Background(), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listCalls != 2 {
		t.Fatalf("expected fresh read after create, got %d store calls", listCalls)
	}
}

func TestReportPostChecksPostExists(t *testing.T) {
	posts := &postRepoMock{
		getFunc: func(context.Context, string) (*domain.Post, error) {
			return nil, repository.ErrNotFound
		},
	}
	flags := &flagRepoMock{
		createFunc: func(context.Context, *domain.Flag) error {
			t.Fatalf("flag must not be created for a missing post")
			return nil
		},
	}
	svc := New(posts, &announcementRepoMock{}, flags, nil, nil, newLogger())

	if _, err := svc.ReportPost(context.Background(), "user-1", "gone", "spam"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReportPostCreatesOpenFlag(t *testing.T) {
	posts := &postRepoMock{
		getFunc: func(_ context.Context, id string) (*domain.Post, error) {
			return &domain.Post{ID: id}, nil
		},
	}
	var created *domain.Flag
	flags := &flagRepoMock{
		createFunc: func(_ context.Context, flag *domain.Flag) error {
			created = flag
			return nil
		},
	}
	svc := New(posts, &announcementRepoMock{}, flags, nil, nil, newLogger())

	flag, err := svc.ReportPost(context.Background(), "user-1", "p1", "spam")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil || created.Status != domain.FlagStatusOpen {
		t.Fatalf("expected open flag, got %+v", created)
	}
	if flag.ReporterID != "user-1" || flag.PostID != "p1" {
		t.Fatalf("unexpected flag: %+v", flag)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type postRepoMock struct {
	createFunc         func(context.Context, *domain.Post) error
	getFunc            func(context.Context, string) (*domain.Post, error)
	listFunc           func(context.Context, int, int) ([]domain.Post, error)
	deleteFunc         func(context.Context, string) error
	deleteByAuthorFunc func(context.Context, string) (int, error)
}

func (m *postRepoMock) CreatePost(ctx context.Context, post *domain.Post) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, post)
	}
	return nil
}

func (m *postRepoMock) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *postRepoMock) ListPosts(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, limit, offset)
	}
	return nil, nil
}

func (m *postRepoMock) DeletePost(ctx context.Context, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}

func (m *postRepoMock) DeletePostsByAuthor(ctx context.Context, authorID string) (int, error) {
	if m.deleteByAuthorFunc != nil {
		return m.deleteByAuthorFunc(ctx, authorID)
	}
	return 0, nil
}

type announcementRepoMock struct {
	createFunc func(context.Context, *domain.Announcement) error
	listFunc   func(context.Context, int) ([]domain.Announcement, error)
}

func (m *announcementRepoMock) CreateAnnouncement(ctx context.Context, announcement *domain.Announcement) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, announcement)
	}
	return nil
}

func (m *announcementRepoMock) ListAnnouncements(ctx context.Context, limit int) ([]domain.Announcement, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, limit)
	}
	return nil, nil
}

type flagRepoMock struct {
	createFunc   func(context.Context, *domain.Flag) error
	getFunc      func(context.Context, string) (*domain.Flag, error)
	listOpenFunc func(context.Context, int) ([]domain.Flag, error)
	resolveFunc  func(context.Context, string, string, string) (*domain.Flag, error)
}

func (m *flagRepoMock) CreateFlag(ctx context.Context, flag *domain.Flag) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, flag)
	}
	return nil
}

func (m *flagRepoMock) GetFlagByID(ctx context.Context, id string) (*domain.Flag, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *flagRepoMock) ListOpenFlags(ctx context.Context, limit int) ([]domain.Flag, error) {
	if m.listOpenFunc != nil {
		return m.listOpenFunc(ctx, limit)
	}
	return nil, nil
}

func (m *flagRepoMock) ResolveFlag(ctx context.Context, id, status, resolverID string) (*domain.Flag, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, id, status, resolverID)
	}
	return nil, repository.ErrNotFound
}
