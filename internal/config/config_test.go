package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StoreSQL, cfg.Stores.Token)
	assert.Equal(t, StoreRedis, cfg.Stores.Challenge)
	assert.False(t, cfg.CSRFEnabled)

	b := cfg.Security.Browser
	assert.Equal(t, "/login.html", b.LoginPage)
	assert.Equal(t, "/authentication/form", b.LoginProcessingURL)
	assert.Equal(t, 3600, b.RememberMeSeconds)
	assert.Equal(t, time.Hour, b.RememberMeValidity())
	assert.Equal(t, LoginResponseJSON, b.LoginType)

	img := cfg.Security.Code.Image
	assert.Equal(t, 4, img.Length)
	assert.Equal(t, time.Minute, img.Expiry())
	assert.Equal(t, "imageCode", img.Parameter)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOGIN_PAGE", "/signin.html")
	t.Setenv("REMEMBER_ME_SECONDS", "7200")
	t.Setenv("LOGIN_TYPE", "redirect")
	t.Setenv("TOKEN_STORE", "REDIS")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/signin.html", cfg.Security.Browser.LoginPage)
	assert.Equal(t, 7200, cfg.Security.Browser.RememberMeSeconds)
	assert.Equal(t, LoginResponseRedirect, cfg.Security.Browser.LoginType)
	assert.Equal(t, StoreRedis, cfg.Stores.Token)
}

func TestLoad_RejectsUnknownStore(t *testing.T) {
	t.Setenv("TOKEN_STORE", "etcd")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_MemoryStoresRejectedInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("TOKEN_STORE", "memory")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_SecurityFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "security.yaml")
	yml := `
browser:
  loginPage: /custom-login.html
  rememberMeSeconds: 600
  loginType: redirect
  exemptPaths:
    - /public/**
code:
  image:
    length: 6
    width: 120
social:
  providers:
    - id: acme
      issuer: https://id.acme.test
      secret: acme-secret
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("SECURITY_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	b := cfg.Security.Browser
	assert.Equal(t, "/custom-login.html", b.LoginPage)
	assert.Equal(t, 600, b.RememberMeSeconds)
	assert.Equal(t, LoginResponseRedirect, b.LoginType)
	// Untouched keys keep their defaults.
	assert.Equal(t, "/authentication/form", b.LoginProcessingURL)
	assert.Equal(t, 6, cfg.Security.Code.Image.Length)
	assert.Equal(t, 60, cfg.Security.Code.Image.ExpireIn)
	require.Len(t, cfg.Security.Social.Providers, 1)
	assert.Equal(t, "acme", cfg.Security.Social.Providers[0].ID)

	assert.Equal(t, []string{
		"/authentication/require",
		"/custom-login.html",
		"/verifycode/image",
		"/public/**",
	}, cfg.Security.ExemptPatterns())
}

func TestSecurityProperties_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *SecurityProperties)
	}{
		{"relative login page", func(p *SecurityProperties) { p.Browser.LoginPage = "login.html" }},
		{"bad login type", func(p *SecurityProperties) { p.Browser.LoginType = "XML" }},
		{"zero remember-me", func(p *SecurityProperties) { p.Browser.RememberMeSeconds = 0 }},
		{"zero code length", func(p *SecurityProperties) { p.Code.Image.Length = 0 }},
		{"image too narrow", func(p *SecurityProperties) { p.Code.Image.Width = 10 }},
		{"provider without secret", func(p *SecurityProperties) {
			p.Social.Providers = []SocialProviderProperties{{ID: "acme"}}
		}},
		{"duplicate provider", func(p *SecurityProperties) {
			p.Social.Providers = []SocialProviderProperties{
				{ID: "acme", Secret: "a"}, {ID: "acme", Secret: "b"},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultSecurityProperties()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}

	p := DefaultSecurityProperties()
	assert.NoError(t, p.Validate())
}

func TestDSN_EnsuresPort(t *testing.T) {
	d := DatabaseConfig{Host: "mariadb", User: "u", Password: "p@ss", Name: "db"}
	assert.Contains(t, d.DSN(), "tcp(mariadb:3306)/db")

	d.dsnOverride = "u:p@tcp(other:3307)/x"
	assert.Equal(t, "u:p@tcp(other:3307)/x", d.DSN())
}

func TestLoad_TrustedProxies(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.TrustedProxies, "10.0.0.0/8")

	t.Setenv("TRUSTED_PROXIES", " 10.1.0.0/16 ,, 192.0.2.0/24")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1.0.0/16", "192.0.2.0/24"}, cfg.TrustedProxies)
}

func TestLoad_SMTP(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "starttls", cfg.SMTP.Encryption)

	t.Setenv("SMTP_ENCRYPTION", "carrier-pigeon")
	_, err = Load()
	assert.Error(t, err)
}
