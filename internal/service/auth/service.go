package auth

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
	"github.com/Its-darshu/DarkSphere-sub000/pkg/config"
	"github.com/Its-darshu/DarkSphere-sub000/pkg/crypto"
	jwtpkg "github.com/Its-darshu/DarkSphere-sub000/pkg/jwt"
)

var (
	ErrValidation         = errors.New("auth: validation failed")
	ErrInvalidKey         = errors.New("auth: security key invalid")
	ErrKeyAlreadyUsed     = errors.New("auth: security key already used")
	ErrKeyExpired         = errors.New("auth: security key expired")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrUsernameTaken      = errors.New("auth: username already taken")
	ErrAccountDisabled    = errors.New("auth: account disabled")
	ErrNotRegistered      = errors.New("auth: identity has no profile")
)

// Service gates account creation behind one-time security keys and issues
// session credentials.
type Service struct {
	users     repository.UserRepository
	keys      repository.SecurityKeyRepository
	userCache *cache.Cache
	logger    *slog.Logger
	cfg       config.APIConfig
}

// New constructs a Service. userCache may be nil, in which case every
// lookup goes to the store.
func New(users repository.UserRepository, keys repository.SecurityKeyRepository, userCache *cache.Cache, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, keys: keys, userCache: userCache, logger: logger, cfg: cfg}
}

// RegisterInput carries the registration payload.
type RegisterInput struct {
	Email       string
	Username    string
	Password    string
	DisplayName string
	Key         string
}

// RegisterResult couples the profile with its session credential.
type RegisterResult struct {
	User              *domain.User
	Token             string
	AlreadyRegistered bool
}

// Register validates the submitted security key, creates the account, and
// consumes the key bound to the new account's id. User creation and key
// consumption are one logical transaction: if the conditional consume
// loses a race, the just-created account is removed and the conflict
// surfaced, so two accounts can never share one key's grant.
func (s Service) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Key = strings.TrimSpace(in.Key)
	if in.Email == "" {
		return RegisterResult{}, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if in.Username == "" {
		return RegisterResult{}, fmt.Errorf("%w: username is required", ErrValidation)
	}
	if len(in.Password) < 8 {
		return RegisterResult{}, fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	if in.Key == "" {
		return RegisterResult{}, fmt.Errorf("%w: security key is required", ErrValidation)
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Username
	}

	// Keys are read fresh from the store, never through a cache.
	key, err := s.keys.GetKeyByValue(ctx, in.Key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RegisterResult{}, ErrInvalidKey
		}
		return RegisterResult{}, err
	}
	now := time.Now().UTC()
	if key.Used {
		return RegisterResult{}, ErrKeyAlreadyUsed
	}
	if key.Expired(now) {
		return RegisterResult{}, ErrKeyExpired
	}

	// Re-submitting the same identity returns the existing profile instead
	// of erroring; the submitted key is left untouched.
	existing, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return RegisterResult{}, err
	}
	if existing != nil {
		if err := crypto.ComparePassword(existing.PasswordHash, in.Password); err != nil {
			return RegisterResult{}, ErrEmailTaken
		}
		token, err := s.issueToken(existing)
		if err != nil {
			return RegisterResult{}, err
		}
		return RegisterResult{User: existing, Token: token, AlreadyRegistered: true}, nil
	}

	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return RegisterResult{}, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		Role:         s.deriveRole(in.Email, key.Tier),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// The email path was already short-circuited above, so a unique
		// violation here is the username index (or an email insert race,
		// which is the same conflict to the caller).
		if errors.Is(err, repository.ErrDuplicate) {
			return RegisterResult{}, ErrUsernameTaken
		}
		return RegisterResult{}, err
	}

	consumed, err := s.keys.ConsumeKey(ctx, key.Value, user.ID)
	if err != nil {
		// Lost the consume race (or the key was deactivated in between).
		// Roll back the account so the key grant is never shared.
		if rbErr := s.users.DeleteUser(ctx, user.ID); rbErr != nil {
			s.logger.Error("rollback after failed key consume", "user_id", user.ID, "error", rbErr)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return RegisterResult{}, ErrKeyAlreadyUsed
		}
		return RegisterResult{}, err
	}

	token, err := s.issueToken(user)
	if err != nil {
		return RegisterResult{}, err
	}
	s.logger.Info("user registered",
		"user_id", user.ID,
		"role", user.Role,
		"key_id", consumed.ID,
		"key_tier", consumed.Tier,
	)
	return RegisterResult{User: user, Token: token}, nil
}

// Login authenticates an account and returns a session credential.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, "", fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if user.Disabled {
		return nil, "", ErrAccountDisabled
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token and re-fetches the current account
// through the user cache, so a disable that happened after token issuance
// is seen within one TTL window at worst.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, ErrInvalidCredentials
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	user, err := s.getUserCached(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotRegistered
		}
		return nil, nil, err
	}
	if user.Disabled {
		return nil, nil, ErrAccountDisabled
	}
	return user, claims, nil
}

// KeyStatus is the outcome of a pre-registration key check.
type KeyStatus struct {
	Valid  bool   `json:"valid"`
	Tier   string `json:"keyType,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ValidateKey checks a key without consuming it. An unknown value is
// ErrInvalidKey; a known-but-unusable key reports why it cannot gate a
// registration, since the key flow is the primary UX gate.
func (s Service) ValidateKey(ctx context.Context, value string) (KeyStatus, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return KeyStatus{}, fmt.Errorf("%w: key is required", ErrValidation)
	}
	key, err := s.keys.GetKeyByValue(ctx, trimmed)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return KeyStatus{}, ErrInvalidKey
		}
		return KeyStatus{}, err
	}
	now := time.Now().UTC()
	status := KeyStatus{Valid: key.Consumable(now), Tier: key.Tier}
	switch {
	case key.Used:
		status.Reason = "this key has already been used"
	case key.Expired(now):
		status.Reason = "this key expired and can no longer be used"
	}
	return status, nil
}

// Profile resolves a public profile by username through the user cache.
func (s Service) Profile(ctx context.Context, username string) (*domain.User, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: username is required", ErrValidation)
	}
	if s.userCache != nil {
		if value, ok := s.userCache.Get(cache.UserUsernameKey(trimmed)); ok {
			if user, ok := value.(*domain.User); ok {
				return user, nil
			}
		}
	}
	user, err := s.users.GetUserByUsername(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	if s.userCache != nil {
		s.userCache.Set(cache.UserIDKey(user.ID), user)
		s.userCache.Set(cache.UserUsernameKey(user.Username), user)
	}
	return user, nil
}

func (s Service) deriveRole(email, keyTier string) string {
	// Admin-email override is evaluated before the key tier.
	for _, admin := range s.cfg.AdminEmails {
		if strings.EqualFold(strings.TrimSpace(admin), email) {
			return domain.RoleAdmin
		}
	}
	if keyTier == domain.KeyTierAdmin {
		return domain.RoleAdmin
	}
	return domain.RoleUser
}

func (s Service) issueToken(user *domain.User) (string, error) {
	return jwtpkg.GenerateToken(user.ID, user.Username, user.Role, s.cfg.JWTSecret, s.cfg.SessionTTL)
}

func (s Service) getUserCached(ctx context.Context, id string) (*domain.User, error) {
	if s.userCache != nil {
		if value, ok := s.userCache.Get(cache.UserIDKey(id)); ok {
			if user, ok := value.(*domain.User); ok {
				return user, nil
			}
		}
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.userCache != nil {
		s.userCache.Set(cache.UserIDKey(id), user)
		s.userCache.Set(cache.UserUsernameKey(user.Username), user)
	}
	return user, nil
}
