package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoginResponseType decides how login outcomes are reported to the browser.
type LoginResponseType string

const (
	// LoginResponseJSON answers login outcomes with a JSON body (AJAX forms).
	LoginResponseJSON LoginResponseType = "JSON"

	// LoginResponseRedirect answers login outcomes with a 303 redirect.
	LoginResponseRedirect LoginResponseType = "REDIRECT"
)

// SecurityProperties groups every setting the security chain reads. The
// YAML layout mirrors the environment-free deployment file:
//
//	browser:
//	  loginPage: /login.html
//	  rememberMeSeconds: 3600
//	code:
//	  image:
//	    length: 4
//	social:
//	  providers:
//	    - id: acme
//	      secret: ...
type SecurityProperties struct {
	Browser BrowserProperties      `yaml:"browser"`
	Code    ValidateCodeProperties `yaml:"code"`
	Social  SocialProperties       `yaml:"social"`
}

// BrowserProperties configures form login, remember-me and exemptions.
type BrowserProperties struct {
	// LoginPage is the path of the HTML login form.
	LoginPage string `yaml:"loginPage"`

	// LoginProcessingURL receives the credential form POST.
	LoginProcessingURL string `yaml:"loginProcessingUrl"`

	// LoginRequireURL is where unauthenticated navigations are sent. It
	// decides between redirecting to the login page and answering 401.
	LoginRequireURL string `yaml:"loginRequireUrl"`

	// LogoutURL ends the session and revokes remember-me tokens.
	LogoutURL string `yaml:"logoutUrl"`

	// SuccessURL is the redirect target after a REDIRECT-style login.
	SuccessURL string `yaml:"successUrl"`

	// LoginType selects JSON or REDIRECT login responses.
	LoginType LoginResponseType `yaml:"loginType"`

	// RememberMeSeconds is the remember-me token validity window.
	RememberMeSeconds int `yaml:"rememberMeSeconds"`

	// RememberMeParameter is the form field that requests remember-me.
	RememberMeParameter string `yaml:"rememberMeParameter"`

	// RememberMeCookie is the cookie carrying the series:token artifact.
	RememberMeCookie string `yaml:"rememberMeCookie"`

	// ExemptPaths are extra Ant-style patterns that bypass authentication.
	ExemptPaths []string `yaml:"exemptPaths"`
}

// RememberMeValidity returns RememberMeSeconds as a duration.
func (b BrowserProperties) RememberMeValidity() time.Duration {
	return time.Duration(b.RememberMeSeconds) * time.Second
}

// ValidateCodeProperties groups the pre-auth challenge settings.
type ValidateCodeProperties struct {
	Image ImageCodeProperties `yaml:"image"`
}

// ImageCodeProperties configures the image CAPTCHA.
type ImageCodeProperties struct {
	// Length is the number of digits in a generated code.
	Length int `yaml:"length"`

	// Width and Height are the rendered image dimensions in pixels.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// ExpireIn is the challenge lifetime in seconds.
	ExpireIn int `yaml:"expireIn"`

	// URLs are the Ant-style patterns whose POSTs must carry a valid answer.
	URLs []string `yaml:"urls"`

	// IssueURL serves a fresh challenge image.
	IssueURL string `yaml:"issueUrl"`

	// Parameter is the form field carrying the user's answer.
	Parameter string `yaml:"parameter"`

	// KeyCookie names the cookie that binds a browser to its challenge.
	KeyCookie string `yaml:"keyCookie"`
}

// Expiry returns ExpireIn as a duration.
func (p ImageCodeProperties) Expiry() time.Duration {
	return time.Duration(p.ExpireIn) * time.Second
}

// SocialProperties configures the social-login delegate.
type SocialProperties struct {
	// ProcessingURL is the prefix claimed by the delegate; the provider id
	// is the next path segment (e.g. /auth/acme).
	ProcessingURL string `yaml:"filterProcessesUrl"`

	// Providers lists the enabled identity providers.
	Providers []SocialProviderProperties `yaml:"providers"`
}

// SocialProviderProperties describes one identity provider whose HS256
// id_token assertions are accepted.
type SocialProviderProperties struct {
	ID     string `yaml:"id"`
	Issuer string `yaml:"issuer"`
	Secret string `yaml:"secret"`
}

// DefaultSecurityProperties returns the built-in defaults.
func DefaultSecurityProperties() SecurityProperties {
	return SecurityProperties{
		Browser: BrowserProperties{
			LoginPage:           "/login.html",
			LoginProcessingURL:  "/authentication/form",
			LoginRequireURL:     "/authentication/require",
			LogoutURL:           "/logout",
			SuccessURL:          "/",
			LoginType:           LoginResponseJSON,
			RememberMeSeconds:   3600,
			RememberMeParameter: "remember-me",
			RememberMeCookie:    "remember-me",
			ExemptPaths:         []string{"/healthz", "/metrics", "/static/**", "/register"},
		},
		Code: ValidateCodeProperties{
			Image: ImageCodeProperties{
				Length:    4,
				Width:     67,
				Height:    23,
				ExpireIn:  60,
				URLs:      []string{"/authentication/form"},
				IssueURL:  "/verifycode/image",
				Parameter: "imageCode",
				KeyCookie: "verify_key",
			},
		},
		Social: SocialProperties{
			ProcessingURL: "/auth",
		},
	}
}

// MergeFile overlays the YAML file at path onto p. Keys absent from the
// file keep their current values.
func (p *SecurityProperties) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading security config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return fmt.Errorf("parsing security config %s: %w", path, err)
	}
	p.Browser.LoginType = LoginResponseType(strings.ToUpper(string(p.Browser.LoginType)))
	return nil
}

// Validate rejects settings the chain cannot operate with.
func (p *SecurityProperties) Validate() error {
	b := p.Browser
	for name, path := range map[string]string{
		"browser.loginPage":          b.LoginPage,
		"browser.loginProcessingUrl": b.LoginProcessingURL,
		"browser.loginRequireUrl":    b.LoginRequireURL,
		"browser.logoutUrl":          b.LogoutURL,
		"code.image.issueUrl":        p.Code.Image.IssueURL,
		"social.filterProcessesUrl":  p.Social.ProcessingURL,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must be an absolute path (got %q)", name, path)
		}
	}
	if b.LoginType != LoginResponseJSON && b.LoginType != LoginResponseRedirect {
		return fmt.Errorf("browser.loginType must be JSON or REDIRECT (got %q)", b.LoginType)
	}
	if b.RememberMeSeconds <= 0 {
		return fmt.Errorf("browser.rememberMeSeconds must be positive")
	}
	if b.RememberMeParameter == "" || b.RememberMeCookie == "" {
		return fmt.Errorf("browser remember-me parameter and cookie names are required")
	}

	img := p.Code.Image
	if img.Length < 1 || img.Length > 10 {
		return fmt.Errorf("code.image.length must be between 1 and 10")
	}
	if img.ExpireIn <= 0 {
		return fmt.Errorf("code.image.expireIn must be positive")
	}
	if img.Width < 8*img.Length || img.Height < 16 {
		return fmt.Errorf("code.image is too small for %d glyphs", img.Length)
	}

	seen := make(map[string]bool)
	for _, prov := range p.Social.Providers {
		if prov.ID == "" || prov.Secret == "" {
			return fmt.Errorf("social providers need an id and a secret")
		}
		if seen[prov.ID] {
			return fmt.Errorf("duplicate social provider %q", prov.ID)
		}
		seen[prov.ID] = true
	}
	return nil
}

// ExemptPatterns returns every pattern that bypasses authentication: the
// login page, the login-require endpoint and the challenge image are always
// included, followed by the configured extras.
func (p SecurityProperties) ExemptPatterns() []string {
	patterns := []string{
		p.Browser.LoginRequireURL,
		p.Browser.LoginPage,
		p.Code.Image.IssueURL,
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(patterns)+len(p.Browser.ExemptPaths))
	for _, pat := range append(patterns, p.Browser.ExemptPaths...) {
		if pat == "" || seen[pat] {
			continue
		}
		seen[pat] = true
		out = append(out, pat)
	}
	return out
}
