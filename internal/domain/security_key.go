package domain

import "time"

// Key tiers mirror the role granted to the consuming account.
const (
	KeyTierAdmin = "admin"
	KeyTierUser  = "user"
)

// SecurityKey is a one-time registration token. A key transitions from
// unused to used exactly once; deactivation is a separate terminal state
// distinct from consumption.
type SecurityKey struct {
	ID        string
	Value     string
	Tier      string
	Used      bool
	UsedBy    *string
	UsedAt    *time.Time
	Active    bool
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Expired reports whether the key's validity window has passed. Expiry is
// derived at read time; an expired key stays active until deactivated.
func (k *SecurityKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Consumable reports whether the key can still gate a registration.
func (k *SecurityKey) Consumable(now time.Time) bool {
	return k.Active && !k.Used && !k.Expired(now)
}
