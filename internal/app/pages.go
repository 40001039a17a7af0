package app

import "github.com/keyxmakerx/sentinel/internal/security"

// displayName prefers the principal's display name over the login name.
func displayName(p *security.Principal) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}
