// Package auth is the local account store behind the security chain. It
// verifies username/password pairs, reloads principals for remember-me,
// keeps browser sessions in Redis and serves the login, logout and
// registration endpoints.
package auth

import (
	"strings"
	"time"

	"github.com/keyxmakerx/sentinel/internal/security"
)

// DefaultRole is granted to every self-registered account.
const DefaultRole = "ROLE_USER"

// User represents a registered account. Database scanning and JSON
// marshaling use this struct directly.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	PasswordHash string     `json:"-"` // Never expose in JSON responses.
	Roles        []string   `json:"roles"`
	Enabled      bool       `json:"enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Principal converts the account into the identity the chain carries.
func (u *User) Principal() *security.Principal {
	return &security.Principal{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Roles:       append([]string(nil), u.Roles...),
	}
}

// joinRoles and splitRoles convert between Roles and the comma-separated
// roles column.
func joinRoles(roles []string) string {
	return strings.Join(roles, ",")
}

func splitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest holds the data submitted to POST /register.
type RegisterRequest struct {
	Username    string `json:"username" form:"username"`
	Email       string `json:"email" form:"email"`
	DisplayName string `json:"display_name" form:"display_name"`
	Password    string `json:"password" form:"password"`
	Confirm     string `json:"confirm" form:"confirm"`
}

// --- Service Input DTOs (passed from handler to service) ---

// RegisterInput is the validated input for creating a new user.
type RegisterInput struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
}

// --- Session ---

// Session represents an authenticated browser session stored in Redis.
// The session token is the key, and this struct is the value (JSON-encoded).
type Session struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles"`
	CreatedAt   time.Time `json:"created_at"`
}

// Principal converts the session back into the identity it was created for.
func (s *Session) Principal() *security.Principal {
	return &security.Principal{
		ID:          s.UserID,
		Username:    s.Username,
		DisplayName: s.DisplayName,
		Roles:       s.Roles,
	}
}
