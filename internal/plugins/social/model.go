// Package social delegates login to external identity providers. A provider
// turns a callback request into a verified Identity; the identity is mapped
// to a local account through the userconnection table and the resulting
// principal completes the login exactly like a password login would.
package social

import "time"

// Identity is a provider-verified external account.
type Identity struct {
	ProviderID     string
	ProviderUserID string
	DisplayName    string
}

// Connection binds an external identity to a local username.
type Connection struct {
	Username       string    `json:"username"`
	ProviderID     string    `json:"provider_id"`
	ProviderUserID string    `json:"provider_user_id"`
	DisplayName    string    `json:"display_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IdentityClaims are the id_token claims a provider asserts. The subject
// is the provider-side user id.
type IdentityClaims struct {
	Name string `json:"name,omitempty"`
}
