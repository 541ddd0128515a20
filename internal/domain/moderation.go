package domain

import (
	"encoding/json"
	"time"
)

// Flag statuses.
const (
	FlagStatusOpen      = "open"
	FlagStatusDismissed = "dismissed"
	FlagStatusDeleted   = "deleted"
)

// Flag is a user report against a post awaiting moderation.
type Flag struct {
	ID         string
	PostID     string
	ReporterID string
	Reason     string
	Status     string
	CreatedAt  time.Time
	ResolvedAt *time.Time
	ResolvedBy *string
}

// Audit action kinds recorded for admin mutations.
const (
	AuditKeysGenerated   = "keys_generated"
	AuditKeyDeactivated  = "key_deactivated"
	AuditUserDisabled    = "user_disabled"
	AuditUserEnabled     = "user_enabled"
	AuditUserDeleted     = "user_deleted"
	AuditFlagDismissed   = "flag_dismissed"
	AuditFlagPostDeleted = "flag_post_deleted"
)

// AuditEntry is an append-only record of one administrative action.
// Entries are never edited or deleted.
type AuditEntry struct {
	ID         string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Details    json.RawMessage
	CreatedAt  time.Time
}
