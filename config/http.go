package config

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the application (e.g., "https://erp.example.com").
	// Used for generating absolute URLs such as the password-reset deep link.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// CookieDomain is the domain for session cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// LoginPath, PendingPath and DeniedPath are where the route guard sends
	// unauthenticated, unapproved and under-privileged users.
	LoginPath   string `env:"APP_LOGIN_PATH"   envDefault:"/login"`
	PendingPath string `env:"APP_PENDING_PATH" envDefault:"/pending"`
	DeniedPath  string `env:"APP_DENIED_PATH"  envDefault:"/acesso-negado"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	// Refuse to scope session cookies to a public suffix (e.g. "com.br"):
	// browsers reject such cookies and the session silently never sticks.
	if h.CookieDomain != "" {
		domain := strings.TrimPrefix(h.CookieDomain, ".")
		if suffix, _ := publicsuffix.PublicSuffix(domain); suffix == domain {
			h.CookieDomain = ""
		}
	}

	if h.LoginPath == "" {
		h.LoginPath = "/login"
	}
	if h.PendingPath == "" {
		h.PendingPath = "/pending"
	}
	if h.DeniedPath == "" {
		h.DeniedPath = "/acesso-negado"
	}
}
