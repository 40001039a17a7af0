package security

import "context"

// CredentialStore verifies username/secret pairs and reloads principals.
type CredentialStore interface {
	// Verify checks the secret for username. Unknown users and wrong
	// secrets both fail with an InvalidCredentials AuthError; any other
	// error is an infrastructure failure.
	Verify(ctx context.Context, username, secret string) (*Principal, error)

	// LoadPrincipal returns the current principal for username without a
	// secret. Unknown users yield an error for which apperror.IsNotFound
	// is true.
	LoadPrincipal(ctx context.Context, username string) (*Principal, error)
}

// SessionStrategy binds a principal to the browser between requests.
type SessionStrategy interface {
	// Load returns the principal of the request's session, or nil when
	// there is no valid session.
	Load(ex *Exchange) (*Principal, error)

	// Establish starts a session for p and writes its cookie.
	Establish(ex *Exchange, p *Principal) error
}

// RememberMeServices is the remember-me coordinator as seen by the chain.
type RememberMeServices interface {
	// AutoLogin validates the remember-me artifact on the request. It
	// returns (nil, nil) when no artifact is present and an *AuthError
	// when the artifact is rejected.
	AutoLogin(ex *Exchange) (*Principal, error)

	// LoginSuccess issues a token if the login form asked for one.
	LoginSuccess(ex *Exchange, p *Principal) error

	// LoginFail clears any remember-me cookie after a failed login.
	LoginFail(ex *Exchange)
}
