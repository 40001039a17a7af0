// Package captcha implements the image challenge ("validate code") that
// guards the login form. A challenge is issued with its image, bound to the
// browser through a key cookie, and consumed by the first answer submitted
// for it, right or wrong.
package captcha

import "time"

// ChallengeRecord is the stored answer of one issued challenge.
type ChallengeRecord struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the challenge had lapsed at now.
func (r ChallengeRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
