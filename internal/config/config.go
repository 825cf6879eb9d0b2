package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the learnhub services.
type Config struct {
	Environment    string
	HTTPPort       int
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	FrontendURL    string

	Organization ProviderSettings
	Personal     ProviderSettings

	RedirectURL           string
	PostLogoutRedirectURL string
	UserInfoURL           string

	InteractiveLoginTimeout time.Duration

	ContentAPIURL       string
	ContentSiteHostname string
	ContentSitePath     string
	ContentAPIRPS       float64
	ContentAPITimeout   time.Duration

	TokenStore      string
	DatabaseURL     string
	RedisURL        string
	SessionCacheTTL time.Duration
	DurableCacheTTL time.Duration
}

// ProviderSettings holds the per-identity-provider values read from the environment.
type ProviderSettings struct {
	ClientID      string
	ClientSecret  string
	Authority     string
	Scopes        []string
	CacheLocation string
	AuthParams    map[string]string
	MultiTenant   bool
}

const (
	defaultOrgScopes      = "openid,profile,offline_access,User.Read,Sites.ReadWrite.All"
	defaultPersonalScopes = "openid,profile,offline_access"
	defaultUserInfoURL    = "https://graph.microsoft.com/v1.0/me"
	defaultContentAPIURL  = "https://graph.microsoft.com/v1.0"
)

// Load reads configuration from environment variables with sensible defaults for local development.
func Load() (Config, error) {
	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/learnhub_database_url")
	if err != nil {
		return Config{}, err
	}

	redisURL, err := getEnvOrFile("REDIS_URL", "/run/secrets/learnhub_redis_url")
	if err != nil {
		return Config{}, err
	}

	orgSecret, err := getEnvOrFile("ORG_CLIENT_SECRET", "")
	if err != nil {
		return Config{}, err
	}

	personalSecret, err := getEnvOrFile("PERSONAL_CLIENT_SECRET", "")
	if err != nil {
		return Config{}, err
	}

	tenantID := getEnv("ORG_TENANT_ID", "organizations")

	cfg := Config{
		Environment:    getEnv("APP_ENV", "development"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),
		FrontendURL:    strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		Organization: ProviderSettings{
			ClientID:      strings.TrimSpace(os.Getenv("ORG_CLIENT_ID")),
			ClientSecret:  strings.TrimSpace(orgSecret),
			Authority:     getEnv("ORG_AUTHORITY", "https://login.microsoftonline.com/"+tenantID+"/v2.0"),
			Scopes:        parseCSV(getEnv("ORG_SCOPES", defaultOrgScopes)),
			CacheLocation: strings.ToLower(getEnv("ORG_CACHE_LOCATION", "session")),
			AuthParams:    map[string]string{"domain_hint": "organizations"},
			MultiTenant:   isMultiTenant(tenantID),
		},
		Personal: ProviderSettings{
			ClientID:      strings.TrimSpace(os.Getenv("PERSONAL_CLIENT_ID")),
			ClientSecret:  strings.TrimSpace(personalSecret),
			Authority:     strings.TrimSpace(os.Getenv("PERSONAL_AUTHORITY")),
			Scopes:        parseCSV(getEnv("PERSONAL_SCOPES", defaultPersonalScopes)),
			CacheLocation: strings.ToLower(getEnv("PERSONAL_CACHE_LOCATION", "durable")),
			AuthParams:    map[string]string{"prompt": "select_account"},
		},
		RedirectURL:           getEnv("REDIRECT_URI", "http://localhost:8080/api/auth/callback"),
		PostLogoutRedirectURL: getEnv("POST_LOGOUT_REDIRECT_URI", "http://localhost:3000"),
		UserInfoURL:           getEnv("USERINFO_URL", defaultUserInfoURL),
		ContentAPIURL:         strings.TrimRight(getEnv("CONTENT_API_URL", defaultContentAPIURL), "/"),
		ContentSiteHostname:   getEnv("CONTENT_SITE_HOSTNAME", "contoso.sharepoint.com"),
		ContentSitePath:       getEnv("CONTENT_SITE_PATH", "/sites/LearningPlatform"),
		TokenStore:            strings.ToLower(getEnv("TOKEN_STORE", "memory")),
		DatabaseURL:           databaseURL,
		RedisURL:              redisURL,
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	rpsValue := getEnv("CONTENT_API_RPS", "10")
	rps, err := strconv.ParseFloat(rpsValue, 64)
	if err != nil || rps <= 0 {
		return Config{}, fmt.Errorf("invalid CONTENT_API_RPS %q", rpsValue)
	}
	cfg.ContentAPIRPS = rps

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"CONTENT_API_TIMEOUT", "15s", &cfg.ContentAPITimeout},
		{"INTERACTIVE_LOGIN_TIMEOUT", "5m", &cfg.InteractiveLoginTimeout},
		{"SESSION_CACHE_TTL", "12h", &cfg.SessionCacheTTL},
		{"DURABLE_CACHE_TTL", "2160h", &cfg.DurableCacheTTL},
	}
	for _, d := range durations {
		value := getEnv(d.key, d.fallback)
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s %q", d.key, value)
		}
		*d.dst = parsed
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.TokenStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("TOKEN_STORE is postgres but DATABASE_URL is not set")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("TOKEN_STORE is redis but REDIS_URL is not set")
		}
	default:
		return fmt.Errorf("unsupported TOKEN_STORE %q", c.TokenStore)
	}

	for name, p := range map[string]ProviderSettings{"ORG": c.Organization, "PERSONAL": c.Personal} {
		if p.CacheLocation != "session" && p.CacheLocation != "durable" {
			return fmt.Errorf("%s_CACHE_LOCATION must be session or durable, got %q", name, p.CacheLocation)
		}
	}

	if c.IsDevelopment() {
		return nil
	}

	if c.Organization.ClientID == "" {
		return fmt.Errorf("ORG_CLIENT_ID is required when APP_ENV is %s", c.Environment)
	}
	if c.Personal.ClientID == "" {
		return fmt.Errorf("PERSONAL_CLIENT_ID is required when APP_ENV is %s", c.Environment)
	}
	if c.Personal.Authority == "" {
		return fmt.Errorf("PERSONAL_AUTHORITY is required when APP_ENV is %s", c.Environment)
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("wildcard ALLOWED_ORIGINS are not permitted when APP_ENV is %s", c.Environment)
		}
	}
	return nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsDevelopment reports whether the process runs with development defaults.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// UsesDurableCache returns true if either provider persists tokens beyond the process lifetime.
func (c Config) UsesDurableCache() bool {
	return c.Organization.CacheLocation == "durable" || c.Personal.CacheLocation == "durable"
}

func isMultiTenant(tenantID string) bool {
	switch strings.ToLower(tenantID) {
	case "organizations", "common", "consumers":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
