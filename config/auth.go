package config

import (
	"fmt"
	"strings"
)

// AuthMode represents the authentication provider mode for the application.
type AuthMode string

const (
	// AuthModeGoTrue talks to a GoTrue-style token API (password grant).
	AuthModeGoTrue AuthMode = "gotrue"
	// AuthModeMock uses an in-process scriptable provider (development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "gotrue", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: gotrue, mock)", v)
	}
}

// GoTrueConfig contains configuration for the GoTrue-style auth provider.
type GoTrueConfig struct {
	// URL is the base URL of the auth API (e.g. "https://auth.example.com").
	URL string `env:"URL" envDefault:""`

	// AnonKey is the public API key sent with every request.
	AnonKey string `env:"ANON_KEY" envDefault:""`

	// JWTSecret verifies HS256 access tokens locally. Leave empty to verify
	// RS256 tokens against the provider JWKS instead.
	JWTSecret string `env:"JWT_SECRET" envDefault:""`

	// JWKSURL is the JWKS endpoint for RS256 verification. Defaults to the
	// well-known path under URL when empty.
	JWKSURL string `env:"JWKS_URL" envDefault:""`

	// ResetRedirectURL is the deep link placed in password recovery emails.
	ResetRedirectURL string `env:"RESET_REDIRECT_URL" envDefault:""`
}

// Placeholder reports whether the provider was left at placeholder values:
// the deploy never set real credentials. Fetches against a placeholder client
// classify as ENV_MISSING rather than a network failure.
func (g GoTrueConfig) Placeholder() bool {
	if g.URL == "" || g.AnonKey == "" {
		return true
	}
	lower := strings.ToLower(g.URL + " " + g.AnonKey)
	return strings.Contains(lower, "placeholder") || strings.Contains(lower, "your-project")
}

// DevAuthConfig controls the mock provider identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID string `env:"USER_ID" envDefault:"dev-user"`
	Email  string `env:"EMAIL"   envDefault:"dev@estoqueflow.local"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which authentication provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"gotrue"`

	GoTrue GoTrueConfig  `envPrefix:"AUTH_"`
	Dev    DevAuthConfig `envPrefix:"DEV_AUTH_"`
}
