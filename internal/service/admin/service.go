package admin

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Its-darshu/DarkSphere-sub000/internal/cache"
	"github.com/Its-darshu/DarkSphere-sub000/internal/domain"
	"github.com/Its-darshu/DarkSphere-sub000/internal/repository"
	"github.com/Its-darshu/DarkSphere-sub000/internal/ws"
	"github.com/Its-darshu/DarkSphere-sub000/pkg/config"
)

var (
	ErrValidation    = errors.New("admin: validation failed")
	ErrSelfAction    = errors.New("admin: action on own account forbidden")
	ErrInvalidAction = errors.New("admin: unknown resolve action")
)

// EventTopic is the hub topic admin dashboards subscribe to.
const EventTopic = "admin"

// Event is pushed to connected dashboards after every mutating action,
// replacing client-side polling.
type Event struct {
	Type       string    `json:"type"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	At         time.Time `json:"at"`
}

// KeyView annotates a stored key with its derived expiry state.
type KeyView struct {
	domain.SecurityKey
	IsExpired bool
}

// Service performs key issuance and moderation with cache invalidation,
// audit logging, and dashboard event push.
type Service struct {
	users     repository.UserRepository
	keys      repository.SecurityKeyRepository
	posts     repository.PostRepository
	flags     repository.FlagRepository
	audits    repository.AuditRepository
	userCache *cache.Cache
	postCache *cache.Cache
	hub       *ws.Hub
	logger    *slog.Logger
	cfg       config.APIConfig
}

// New constructs a Service. hub and the caches may be nil.
func New(
	users repository.UserRepository,
	keys repository.SecurityKeyRepository,
	posts repository.PostRepository,
	flags repository.FlagRepository,
	audits repository.AuditRepository,
	userCache, postCache *cache.Cache,
	hub *ws.Hub,
	logger *slog.Logger,
	cfg config.APIConfig,
) Service {
	return Service{
		users:     users,
		keys:      keys,
		posts:     posts,
		flags:     flags,
		audits:    audits,
		userCache: userCache,
		postCache: postCache,
		hub:       hub,
		logger:    logger,
		cfg:       cfg,
	}
}

// GenerateKeys creates count new keys of the given tier, or a single key
// with a caller-chosen value. A custom value colliding with a live key
// fails with repository.ErrDuplicate; random values are retried.
func (s Service) GenerateKeys(ctx context.Context, actorID string, count int, tier, customValue string) ([]domain.SecurityKey, error) {
	if tier != domain.KeyTierAdmin && tier != domain.KeyTierUser {
		return nil, fmt.Errorf("%w: tier must be admin or user", ErrValidation)
	}
	customValue = strings.TrimSpace(customValue)
	if customValue != "" && count != 1 {
		return nil, fmt.Errorf("%w: custom value requires count 1", ErrValidation)
	}
	max := s.cfg.KeyBatchMax
	if max <= 0 {
		max = 50
	}
	if count < 1 || count > max {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", ErrValidation, max)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.passcodeTTL())
	keys := make([]domain.SecurityKey, 0, count)
	for i := 0; i < count; i++ {
		key, err := s.createOneKey(ctx, tier, customValue, expiresAt)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *key)
	}

	s.appendAudit(ctx, actorID, domain.AuditKeysGenerated, "security_key", "", map[string]any{
		"count": count,
		"tier":  tier,
	})
	s.publish(domain.AuditKeysGenerated, "security_key", "")
	s.logger.Info("security keys generated", "actor_id", actorID, "count", count, "tier", tier)
	return keys, nil
}

func (s Service) createOneKey(ctx context.Context, tier, customValue string, expiresAt time.Time) (*domain.SecurityKey, error) {
	const attempts = 5
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		value := customValue
		if value == "" {
			generated, err := randomKeyValue(s.cfg.KeyValueLength)
			if err != nil {
				return nil, err
			}
			value = generated
		}
		expiry := expiresAt
		key := &domain.SecurityKey{
			ID:        uuid.NewString(),
			Value:     value,
			Tier:      tier,
			CreatedAt: time.Now().UTC(),
			ExpiresAt: &expiry,
		}
		if err := s.keys.CreateKey(ctx, key); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				if customValue != "" {
					return nil, err
				}
				lastErr = err
				continue
			}
			return nil, err
		}
		return key, nil
	}
	return nil, lastErr
}

// ListKeys returns all keys newest first with the expiry flag computed
// against the current clock; expiry is never written back to the store.
func (s Service) ListKeys(ctx context.Context, limit, offset int) ([]KeyView, error) {
	keys, err := s.keys.ListKeys(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	views := make([]KeyView, 0, len(keys))
	for _, key := range keys {
		views = append(views, KeyView{SecurityKey: key, IsExpired: key.Expired(now)})
	}
	return views, nil
}

// DeactivateKey retires a key.
func (s Service) DeactivateKey(ctx context.Context, actorID, id string) error {
	if err := s.keys.DeactivateKey(ctx, id); err != nil {
		return err
	}
	s.appendAudit(ctx, actorID, domain.AuditKeyDeactivated, "security_key", id, nil)
	s.publish(domain.AuditKeyDeactivated, "security_key", id)
	s.logger.Info("security key deactivated", "actor_id", actorID, "key_id", id)
	return nil
}

// DisableUser flips the disabled flag on an account and drops its cache
// entries before returning.
func (s Service) DisableUser(ctx context.Context, actorID, id string, disabled bool) error {
	if actorID == id {
		return ErrSelfAction
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.users.SetUserDisabled(ctx, id, disabled); err != nil {
		return err
	}
	s.invalidateUser(user)

	action := domain.AuditUserDisabled
	if !disabled {
		action = domain.AuditUserEnabled
	}
	s.appendAudit(ctx, actorID, action, "user", id, nil)
	s.publish(action, "user", id)
	s.logger.Info("user disabled state changed", "actor_id", actorID, "user_id", id, "disabled", disabled)
	return nil
}

// DeleteUser removes an account and everything it owns. The cascade is
// ordered content-first (posts, then the account row, then key release) so
// a crash mid-cascade leaves orphaned-but-harmless state rather than
// content referencing a missing author.
func (s Service) DeleteUser(ctx context.Context, actorID, id string) error {
	if actorID == id {
		return ErrSelfAction
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	deletedPosts, err := s.posts.DeletePostsByAuthor(ctx, id)
	if err != nil {
		return err
	}
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return err
	}
	releasedKeys, err := s.keys.ReleaseKeysByUser(ctx, id)
	if err != nil {
		return err
	}
	s.invalidateUser(user)
	if s.postCache != nil {
		s.postCache.Clear()
	}

	s.appendAudit(ctx, actorID, domain.AuditUserDeleted, "user", id, map[string]any{
		"deleted_posts": deletedPosts,
		"released_keys": releasedKeys,
		"username":      user.Username,
	})
	s.publish(domain.AuditUserDeleted, "user", id)
	s.logger.Info("user deleted",
		"actor_id", actorID,
		"user_id", id,
		"deleted_posts", deletedPosts,
		"released_keys", releasedKeys,
	)
	return nil
}

// Resolve actions accepted by ResolveFlag.
const (
	ResolveDismiss = "dismiss"
	ResolveDelete  = "delete"
)

// ResolveFlag closes a moderation flag. The delete action additionally
// removes the flagged post and its cache entries.
func (s Service) ResolveFlag(ctx context.Context, actorID, flagID, action string) (*domain.Flag, error) {
	var status string
	switch action {
	case ResolveDismiss:
		status = domain.FlagStatusDismissed
	case ResolveDelete:
		status = domain.FlagStatusDeleted
	default:
		return nil, ErrInvalidAction
	}
	flag, err := s.flags.ResolveFlag(ctx, flagID, status, actorID)
	if err != nil {
		return nil, err
	}
	auditAction := domain.AuditFlagDismissed
	if action == ResolveDelete {
		auditAction = domain.AuditFlagPostDeleted
		if err := s.posts.DeletePost(ctx, flag.PostID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if s.postCache != nil {
			s.postCache.Delete(cache.PostKey(flag.PostID))
			s.postCache.Delete(cache.PostListKey())
		}
	}
	s.appendAudit(ctx, actorID, auditAction, "flag", flagID, map[string]any{
		"post_id": flag.PostID,
		"action":  action,
	})
	s.publish(auditAction, "flag", flagID)
	s.logger.Info("flag resolved", "actor_id", actorID, "flag_id", flagID, "action", action)
	return flag, nil
}

// ListUsers returns accounts newest first for the admin user table.
func (s Service) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	return s.users.ListUsers(ctx, limit, offset)
}

// ListOpenFlags returns the moderation queue.
func (s Service) ListOpenFlags(ctx context.Context, limit int) ([]domain.Flag, error) {
	return s.flags.ListOpenFlags(ctx, limit)
}

// ListAudits returns the audit trail newest first.
func (s Service) ListAudits(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error) {
	return s.audits.ListAudits(ctx, limit, offset)
}

func (s Service) invalidateUser(user *domain.User) {
	if s.userCache == nil || user == nil {
		return
	}
	s.userCache.Delete(cache.UserIDKey(user.ID))
	s.userCache.Delete(cache.UserUsernameKey(user.Username))
	s.userCache.Delete(cache.UserEmailKey(user.Email))
}

func (s Service) appendAudit(ctx context.Context, actorID, action, targetType, targetID string, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil || details == nil {
		payload = []byte("{}")
	}
	entry := &domain.AuditEntry{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.audits.AppendAudit(ctx, entry); err != nil {
		// Audit failures are logged, not surfaced: the admin action itself
		// already committed.
		s.logger.Error("audit append failed", "action", action, "target_id", targetID, "error", err)
	}
}

func (s Service) publish(eventType, targetType, targetID string) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(Event{
		Type:       eventType,
		TargetType: targetType,
		TargetID:   targetID,
		At:         time.Now().UTC(),
	})
	if err != nil {
		return
	}
	s.hub.Broadcast(EventTopic, payload)
}

func (s Service) passcodeTTL() time.Duration {
	if s.cfg.PasscodeTTL > 0 {
		return s.cfg.PasscodeTTL
	}
	return 5 * 24 * time.Hour
}

// randomKeyValue builds a key value from an alphabet without lookalike
// characters, formatted in two groups for readability.
func randomKeyValue(length int) (string, error) {
	if length < 8 {
		length = 12
	}
	if length%2 != 0 {
		length++
	}
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key value: %w", err)
	}
	for i := 0; i < length; i++ {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	value := string(buf)
	return fmt.Sprintf("%s-%s", value[:length/2], value[length/2:]), nil
}
