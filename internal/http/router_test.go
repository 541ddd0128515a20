package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"github.com/Its-darshu/DarkSphere-sub000/internal/domain"
	"github.com/Its-darshu/DarkSphere-sub000/internal/repository"
	"github.com/Its-darshu/DarkSphere-sub000/internal/service/admin"
	"github.com/Its-darshu/DarkSphere-sub000/internal/service/auth"
	"github.com/Its-darshu/DarkSphere-sub000/internal/service/content"
	"github.com/Its-darshu/DarkSphere-sub000/pkg/config"
	"github.com/Its-darshu/DarkSphere-sub000/pkg/crypto"
	jwtpkg "github.com/Its-darshu/DarkSphere-sub000/pkg/jwt"
)

func testConfig() config.APIConfig {
	return config.APIConfig{
		Environment:    "test",
		JWTSecret:      "router-test-secret",
		SessionTTL:     time.Hour,
		PasscodeTTL:    5 * 24 * time.Hour,
		KeyBatchMax:    50,
		KeyValueLength: 12,
	}
}

type routerDeps struct {
	users    *userRepoMock
	keys     *keyRepoMock
	posts    *postRepoMock
	flags    *flagRepoMock
	audits   *auditRepoMock
	dbHealth func(context.Context) error
}

func newTestRouter(t *testing.T, deps routerDeps) *Router {
	t.Helper()
	if deps.users == nil {
		deps.users = &userRepoMock{}
	}
	if deps.keys == nil {
		deps.keys = &keyRepoMock{}
	}
	if deps.posts == nil {
		deps.posts = &postRepoMock{}
	}
	if deps.flags == nil {
		deps.flags = &flagRepoMock{}
	}
	if deps.audits == nil {
		deps.audits = &auditRepoMock{}
	}
	cfg := testConfig()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := auth.New(deps.users, deps.keys, nil, log, cfg)
	adminSvc := admin.New(deps.users, deps.keys, deps.posts, deps.flags, deps.audits, nil, nil, nil, log, cfg)
	contentSvc := content.New(deps.posts, &announcementRepoMock{}, deps.flags, nil, nil, log)
	router := NewRouter(log, authSvc, adminSvc, contentSvc, nil, NewMemoryRateLimiter(), nil, deps.dbHealth, false)
	t.Cleanup(router.Close)
	return router
}

func liveKey() *domain.SecurityKey {
	expiry := time.Now().UTC().Add(time.Hour)
	return &domain.SecurityKey{
		ID:        "key-1",
		Value:     "ABCD-EFGH",
		Tier:      domain.KeyTierUser,
		Active:    true,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: &expiry,
	}
}

func doJSON(t *testing.T, router *Router, method, path string, payload any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func tokenFor(t *testing.T, user *domain.User) string {
	t.Helper()
	token, err := jwtpkg.GenerateToken(user.ID, user.Username, user.Role, testConfig().JWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func TestRegisterEndpointCreatesAccount(t *testing.T) {
	keys := &keyRepoMock{
		getByValueFunc: func(context.Context, string) (*domain.SecurityKey, error) {
			return liveKey(), nil
		},
		consumeFunc: func(_ context.Context, value, userID string) (*domain.SecurityKey, error) {
			key := liveKey()
			key.Used = true
			key.UsedBy = &userID
			return key, nil
		},
	}
	router := newTestRouter(t, routerDeps{keys: keys})

	rec := doJSON(t, router, http.MethodPost, "/auth/register", map[string]string{
		"email":    "new@darksphere.dev",
		"username": "newbie",
		"password": "password123",
		"passcode": "ABCD-EFGH",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Token == "" {
		t.Fatalf("expected session token in response")
	}
	if payload.User["username"] != "newbie" {
		t.Fatalf("unexpected user payload: %+v", payload.User)
	}
}

func TestRegisterEndpointConflictOnLostRace(t *testing.T) {
	keys := &keyRepoMock{
		getByValueFunc: func(context.Context, string) (*domain.SecurityKey, error) {
			return liveKey(), nil
		},
		consumeFunc: func(context.Context, string, string) (*domain.SecurityKey, error) {
			return nil, repository.ErrNotFound
		},
	}
	router := newTestRouter(t, routerDeps{keys: keys})

	rec := doJSON(t, router, http.MethodPost, "/auth/register", map[string]string{
		"email":    "racer@darksphere.dev",
		"username": "racer",
		"password": "password123",
		"key":      "ABCD-EFGH",
	}, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterEndpointTakenUsername(t *testing.T) {
	users := &userRepoMock{
		createFunc: func(context.Context, *domain.User) error {
			return repository.ErrDuplicate
		},
	}
	keys := &keyRepoMock{
		getByValueFunc: func(context.Context, string) (*domain.SecurityKey, error) {
			return liveKey(), nil
		},
	}
	router := newTestRouter(t, routerDeps{users: users, keys: keys})

	rec := doJSON(t, router, http.MethodPost, "/auth/register", map[string]string{
		"email":    "fresh@darksphere.dev",
		"username": "taken",
		"password": "password123",
		"key":      "ABCD-EFGH",
	}, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for taken username, got %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("username")) {
		t.Fatalf("expected username conflict message, got %s", rec.Body.String())
	}
}

func TestRegisterEndpointReturns200ForExistingIdentity(t *testing.T) {
	hash, err := crypto.HashPassword("password123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	users := &userRepoMock{
		getByEmailFunc: func(context.Context, string) (*domain.User, error) {
			return &domain.User{ID: "user-1", Username: "repeat", Role: domain.RoleUser, PasswordHash: hash}, nil
		},
	}
	keys := &keyRepoMock{
		getByValueFunc: func(context.Context, string) (*domain.SecurityKey, error) {
			return liveKey(), nil
		},
	}
	router := newTestRouter(t, routerDeps{users: users, keys: keys})

	rec := doJSON(t, router, http.MethodPost, "/auth/register", map[string]string{
		"email":    "repeat@darksphere.dev",
		"username": "repeat",
		"password": "password123",
		"key":      "ABCD-EFGH",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for re-registration, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterEndpointValidation(t *testing.T) {
	router := newTestRouter(t, routerDeps{})
	rec := doJSON(t, router, http.MethodPost, "/auth/register", map[string]string{
		"email":    "new@darksphere.dev",
		"username": "newbie",
		"password": "short",
		"key":      "ABCD-EFGH",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestValidateKeyEndpoint(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	expired := liveKey()
	expired.ExpiresAt = &past

	t.Run("unknown key", func(t *testing.T) {
		router := newTestRouter(t, routerDeps{})
		rec := doJSON(t, router, http.MethodPost, "/validate-key", map[string]string{"key": "NOPE"}, "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("expired key", func(t *testing.T) {
		keys := &keyRepoMock{
			getByValueFunc: func(context.Context, string) (*domain.SecurityKey, error) {
				return expired, nil
			},
		}
		router := newTestRouter(t, routerDeps{keys: keys})
		rec := doJSON(t, router, http.MethodPost, "/validate-key", map[string]string{"key": "ABCD-EFGH"}, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var status auth.KeyStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if status.Valid {
			t.Fatalf("expected invalid status for expired key")
		}
		if status.Reason == "" {
			t.Fatalf("expected reason in response")
		}
	})
}

func TestCreatePostRequiresAuth(t *testing.T) {
	router := newTestRouter(t, routerDeps{})
	rec := doJSON(t, router, http.MethodPost, "/posts", map[string]string{"body": "hi"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminRoutesEnforceRole(t *testing.T) {
	plain := &domain.User{ID: "user-1", Username: "plain", Role: domain.RoleUser}
	users := &userRepoMock{
		getByIDFunc: func(_ context.Context, id string) (*domain.User, error) {
			return plain, nil
		},
	}
	router := newTestRouter(t, routerDeps{users: users})

	rec := doJSON(t, router, http.MethodGet, "/admin/passcodes", nil, tokenFor(t, plain))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/admin/passcodes", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestAdminGenerateKeysEndpoint(t *testing.T) {
	adminUser := &domain.User{ID: "admin-1", Username: "boss", Role: domain.RoleAdmin}
	users := &userRepoMock{
		getByIDFunc: func(context.Context, string) (*domain.User, error) {
			return adminUser, nil
		},
	}
	created := 0
	keys := &keyRepoMock{
		createFunc: func(context.Context, *domain.SecurityKey) error {
			created++
			return nil
		},
	}
	router := newTestRouter(t, routerDeps{users: users, keys: keys})

	rec := doJSON(t, router, http.MethodPost, "/admin/passcodes", map[string]any{
		"count": 3,
		"tier":  "user",
	}, tokenFor(t, adminUser))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if created != 3 {
		t.Fatalf("expected 3 keys created, got %d", created)
	}
	var payload struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Keys) != 3 {
		t.Fatalf("expected 3 keys in payload, got %d", len(payload.Keys))
	}
}

func TestAdminSelfDeleteForbidden(t *testing.T) {
	adminUser := &domain.User{ID: "admin-1", Username: "boss", Role: domain.RoleAdmin}
	users := &userRepoMock{
		getByIDFunc: func(context.Context, string) (*domain.User, error) {
			return adminUser, nil
		},
	}
	router := newTestRouter(t, routerDeps{users: users})

	rec := doJSON(t, router, http.MethodDelete, "/admin/users/admin-1", nil, tokenFor(t, adminUser))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUserProfileEndpoint(t *testing.T) {
	users := &userRepoMock{
		getByUsernameFunc: func(_ context.Context, username string) (*domain.User, error) {
			if username != "visible" {
				return nil, repository.ErrNotFound
			}
			return &domain.User{
				ID:          "user-1",
				Email:       "secret@darksphere.dev",
				Username:    "visible",
				DisplayName: "Visible",
				Role:        domain.RoleUser,
			}, nil
		},
	}
	router := newTestRouter(t, routerDeps{users: users})

	rec := doJSON(t, router, http.MethodGet, "/users/visible", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["username"] != "visible" {
		t.Fatalf("unexpected profile payload: %+v", payload)
	}
	if _, leaked := payload["email"]; leaked {
		t.Fatalf("public profile must not expose the email")
	}

	rec = doJSON(t, router, http.MethodGet, "/users/ghost", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown username, got %d", rec.Code)
	}
}

func TestAdminListUsersEndpoint(t *testing.T) {
	adminUser := &domain.User{ID: "admin-1", Username: "boss", Role: domain.RoleAdmin}
	users := &userRepoMock{
		getByIDFunc: func(context.Context, string) (*domain.User, error) {
			return adminUser, nil
		},
		listFunc: func(context.Context, int, int) ([]domain.User, error) {
			return []domain.User{
				{ID: "user-1", Username: "one", Role: domain.RoleUser},
				{ID: "user-2", Username: "two", Role: domain.RoleUser},
			}, nil
		},
	}
	router := newTestRouter(t, routerDeps{users: users})

	rec := doJSON(t, router, http.MethodGet, "/admin/users", nil, tokenFor(t, adminUser))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Users []map[string]any `json:"users"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(payload.Users))
	}

	rec = doJSON(t, router, http.MethodGet, "/admin/users", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		router := newTestRouter(t, routerDeps{
			dbHealth: func(context.Context) error { return nil },
		})
		rec := doJSON(t, router, http.MethodGet, "/health", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("database down", func(t *testing.T) {
		router := newTestRouter(t, routerDeps{
			dbHealth: func(context.Context) error { return context.DeadlineExceeded },
		})
		rec := doJSON(t, router, http.MethodGet, "/health", nil, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})
}

func TestRegisterEndpointRateLimited(t *testing.T) {
	router := newTestRouter(t, routerDeps{})
	var last *httptest.ResponseRecorder
	for i := 0; i < rateLimitRegister+1; i++ {
		last = doJSON(t, router, http.MethodPost, "/auth/register", map[string]string{}, "")
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d requests, got %d", rateLimitRegister+1, last.Code)
	}
	if got := last.Header().Get("X-RateLimit-Limit"); got == "" {
		t.Fatalf("expected rate limit headers")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, routerDeps{})
	rec := doJSON(t, router, http.MethodDelete, "/auth/register", nil, "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

type userRepoMock struct {
	createFunc        func(context.Context, *domain.User) error
	getByIDFunc       func(context.Context, string) (*domain.User, error)
	getByEmailFunc    func(context.Context, string) (*domain.User, error)
	getByUsernameFunc func(context.Context, string) (*domain.User, error)
	deleteFunc        func(context.Context, string) error
	listFunc          func(context.Context, int, int) ([]domain.User, error)
}

func (m *userRepoMock) CreateUser(ctx context.Context, user *domain.User) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	return nil
}

func (m *userRepoMock) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *userRepoMock) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if m.getByEmailFunc != nil {
		return m.getByEmailFunc(ctx, email)
	}
	return nil, repository.ErrNotFound
}

func (m *userRepoMock) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if m.getByUsernameFunc != nil {
		return m.getByUsernameFunc(ctx, username)
	}
	return nil, repository.ErrNotFound
}

func (m *userRepoMock) SetUserDisabled(ctx context.Context, id string, disabled bool) error {
	return nil
}

func (m *userRepoMock) DeleteUser(ctx context.Context, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}

func (m *userRepoMock) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, limit, offset)
	}
	return nil, nil
}

type keyRepoMock struct {
	createFunc     func(context.Context, *domain.SecurityKey) error
	getByValueFunc func(context.Context, string) (*domain.SecurityKey, error)
	consumeFunc    func(context.Context, string, string) (*domain.SecurityKey, error)
	listFunc       func(context.Context, int, int) ([]domain.SecurityKey, error)
}

func (m *keyRepoMock) CreateKey(ctx context.Context, key *domain.SecurityKey) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, key)
	}
	return nil
}

func (m *keyRepoMock) GetKeyByValue(ctx context.Context, value string) (*domain.SecurityKey, error) {
	if m.getByValueFunc != nil {
		return m.getByValueFunc(ctx, value)
	}
	return nil, repository.ErrNotFound
}

func (m *keyRepoMock) ConsumeKey(ctx context.Context, value, userID string) (*domain.SecurityKey, error) {
	if m.consumeFunc != nil {
		return m.consumeFunc(ctx, value, userID)
	}
	return nil, repository.ErrNotFound
}

func (m *keyRepoMock) ReleaseKeysByUser(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

func (m *keyRepoMock) DeactivateKey(ctx context.Context, id string) error {
	return nil
}

func (m *keyRepoMock) ListKeys(ctx context.Context, limit, offset int) ([]domain.SecurityKey, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, limit, offset)
	}
	return nil, nil
}

type postRepoMock struct {
	getFunc func(context.Context, string) (*domain.Post, error)
}

func (m *postRepoMock) CreatePost(ctx context.Context, post *domain.Post) error { return nil }

func (m *postRepoMock) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *postRepoMock) ListPosts(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	return nil, nil
}

func (m *postRepoMock) DeletePost(ctx context.Context, id string) error { return nil }

func (m *postRepoMock) DeletePostsByAuthor(ctx context.Context, authorID string) (int, error) {
	return 0, nil
}

type announcementRepoMock struct{}

func (m *announcementRepoMock) CreateAnnouncement(ctx context.Context, announcement *domain.Announcement) error {
	return nil
}

func (m *announcementRepoMock) ListAnnouncements(ctx context.Context, limit int) ([]domain.Announcement, error) {
	return nil, nil
}

type flagRepoMock struct {
	resolveFunc func(context.Context, string, string, string) (*domain.Flag, error)
}

func (m *flagRepoMock) CreateFlag(ctx context.Context, flag *domain.Flag) error { return nil }

func (m *flagRepoMock) GetFlagByID(ctx context.Context, id string) (*domain.Flag, error) {
	return nil, repository.ErrNotFound
}

func (m *flagRepoMock) ListOpenFlags(ctx context.Context, limit int) ([]domain.Flag, error) {
	return nil, nil
}

func (m *flagRepoMock) ResolveFlag(ctx context.Context, id, status, resolverID string) (*domain.Flag, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, id, status, resolverID)
	}
	return nil, repository.ErrNotFound
}

type auditRepoMock struct {
	entries []domain.AuditEntry
}

func (m *auditRepoMock) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *auditRepoMock) ListAudits(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error) {
	return m.entries, nil
}
