package domain

import "time"

// Role grants a privilege level to an account.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User represents a platform account.
type User struct {
	ID           string
	Email        string
	Username     string
	DisplayName  string
	Role         string
	Disabled     bool
	PasswordHash []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the account holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
