package social

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keyxmakerx/sentinel/internal/config"
	"github.com/keyxmakerx/sentinel/internal/sanitize"
)

// AssertionParameter is the request field carrying the provider's id_token.
const AssertionParameter = "id_token"

// ErrNoAssertion is returned when the callback carries no id_token.
var ErrNoAssertion = errors.New("no identity assertion in request")

// Provider verifies a provider callback and returns the asserted identity.
type Provider interface {
	ID() string
	Authenticate(r *http.Request) (*Identity, error)
}

// providerClaims is the id_token claim set.
type providerClaims struct {
	jwt.RegisteredClaims
	IdentityClaims
}

// JWTAssertionProvider accepts HS256 id_tokens signed with a secret shared
// with the identity provider.
type JWTAssertionProvider struct {
	id     string
	issuer string
	secret []byte

	// nowFunc is swapped in tests to move the clock.
	nowFunc func() time.Time
}

// NewJWTAssertionProvider creates a provider from its configuration.
func NewJWTAssertionProvider(props config.SocialProviderProperties) *JWTAssertionProvider {
	return &JWTAssertionProvider{
		id:      props.ID,
		issuer:  props.Issuer,
		secret:  []byte(props.Secret),
		nowFunc: time.Now,
	}
}

// ID implements Provider.
func (p *JWTAssertionProvider) ID() string { return p.id }

// Authenticate implements Provider. The token must be HS256, unexpired,
// carry a subject and, when an issuer is configured, come from it.
func (p *JWTAssertionProvider) Authenticate(r *http.Request) (*Identity, error) {
	raw := assertion(r)
	if raw == "" {
		return nil, ErrNoAssertion
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowFunc),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := &providerClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verifying %s id_token: %w", p.id, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%s id_token has no subject", p.id)
	}

	return &Identity{
		ProviderID:     p.id,
		ProviderUserID: claims.Subject,
		DisplayName:    sanitize.Limit(sanitize.Text(claims.Name), 255),
	}, nil
}

// assertion reads the id_token from the form, the query or a bearer header.
func assertion(r *http.Request) string {
	if v := r.FormValue(AssertionParameter); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// ProvidersFromConfig builds the configured providers keyed by id.
func ProvidersFromConfig(props config.SocialProperties) map[string]Provider {
	providers := make(map[string]Provider, len(props.Providers))
	for _, pp := range props.Providers {
		providers[pp.ID] = NewJWTAssertionProvider(pp)
	}
	return providers
}
