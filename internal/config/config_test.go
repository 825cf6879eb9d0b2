package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setProductionEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "production")
	t.Setenv("TOKEN_STORE", "memory")
	t.Setenv("PORT", "8080")
	t.Setenv("ORG_CLIENT_ID", "org-client")
	t.Setenv("PERSONAL_CLIENT_ID", "personal-client")
	t.Setenv("PERSONAL_AUTHORITY", "https://login.example.com/consumers/v2.0")
	t.Setenv("ALLOWED_ORIGINS", "https://learn.example.com")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
}

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("TOKEN_STORE", "")
	t.Setenv("PORT", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("ORG_TENANT_ID", "contoso-tenant")
	t.Setenv("ORG_AUTHORITY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected development environment, got %q", cfg.Environment)
	}
	if cfg.HTTPAddress() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.HTTPAddress())
	}
	if cfg.TokenStore != "memory" {
		t.Fatalf("expected memory token store, got %q", cfg.TokenStore)
	}
	if cfg.Organization.Authority != "https://login.microsoftonline.com/contoso-tenant/v2.0" {
		t.Fatalf("unexpected org authority %q", cfg.Organization.Authority)
	}
	if cfg.Organization.CacheLocation != "session" || cfg.Personal.CacheLocation != "durable" {
		t.Fatalf("unexpected cache locations %q/%q", cfg.Organization.CacheLocation, cfg.Personal.CacheLocation)
	}
	if !cfg.UsesDurableCache() {
		t.Fatal("expected durable cache to be in use")
	}
	if cfg.InteractiveLoginTimeout != 5*time.Minute {
		t.Fatalf("unexpected interactive timeout %v", cfg.InteractiveLoginTimeout)
	}
	if len(cfg.Organization.Scopes) != 5 || cfg.Organization.Scopes[0] != "openid" {
		t.Fatalf("unexpected org scopes %v", cfg.Organization.Scopes)
	}
}

func TestLoadRejectsUnknownTokenStore(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TOKEN_STORE", "etcd")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for unsupported token store")
	}
	if !strings.Contains(err.Error(), "unsupported TOKEN_STORE") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRequiresDatabaseURLForPostgresStore(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TOKEN_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_URL_FILE", filepath.Join(t.TempDir(), "missing"))

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL is not set") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadReadsRedisURLFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redis_url")
	if err := os.WriteFile(path, []byte("redis://cache:6379/0\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	t.Setenv("APP_ENV", "development")
	t.Setenv("TOKEN_STORE", "redis")
	t.Setenv("REDIS_URL", "")
	t.Setenv("REDIS_URL_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.RedisURL != "redis://cache:6379/0" {
		t.Fatalf("unexpected redis url %q", cfg.RedisURL)
	}
}

func TestLoadRejectsEmptySecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	t.Setenv("APP_ENV", "development")
	t.Setenv("ORG_CLIENT_SECRET", "")
	t.Setenv("ORG_CLIENT_SECRET_FILE", path)

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for empty secret file")
	}
	if !strings.Contains(err.Error(), "is empty") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsInvalidCacheLocation(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TOKEN_STORE", "memory")
	t.Setenv("PERSONAL_CACHE_LOCATION", "cookie")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid cache location")
	}
	if !strings.Contains(err.Error(), "PERSONAL_CACHE_LOCATION") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsInvalidDurations(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TOKEN_STORE", "memory")
	t.Setenv("CONTENT_API_TIMEOUT", "soon")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid timeout")
	}
	if !strings.Contains(err.Error(), "CONTENT_API_TIMEOUT") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRequiresClientIDsOutsideDevelopment(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("ORG_CLIENT_ID", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ORG_CLIENT_ID missing")
	}
	if !strings.Contains(err.Error(), "ORG_CLIENT_ID is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsWildcardOriginsOutsideDevelopment(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "https://learn.example.com,*")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ALLOWED_ORIGINS contains wildcard")
	}
	if !strings.Contains(err.Error(), "wildcard ALLOWED_ORIGINS") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadProductionConfiguration(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("CONTENT_API_RPS", "2.5")
	t.Setenv("FRONTEND_URL", "https://learn.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.ContentAPIRPS != 2.5 {
		t.Fatalf("unexpected rps %v", cfg.ContentAPIRPS)
	}
	if cfg.FrontendURL != "https://learn.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.FrontendURL)
	}
	if cfg.Personal.AuthParams["prompt"] != "select_account" {
		t.Fatalf("unexpected personal auth params %v", cfg.Personal.AuthParams)
	}
}
