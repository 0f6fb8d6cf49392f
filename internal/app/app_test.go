package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"campushub/portalgate/internal/config"
	"campushub/portalgate/internal/portal"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		HTTP:              config.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second, ShutdownTimeout: time.Second},
		Log:               config.LogConfig{Env: "dev", Level: "error"},
		DocstoreStateFile: filepath.Join(dir, "documents.json"),
		Storage:           config.StorageConfig{Driver: "file", StateFile: filepath.Join(dir, "client_storage.json")},
		Auth: config.AuthConfig{
			TokenSecret:       "test-secret",
			TokenIssuer:       "portalgate-test",
			TokenTTL:          time.Hour,
			ResetTokenTTL:     time.Hour,
			AccountStateFile:  filepath.Join(dir, "accounts.json"),
			AdminStrategy:     "profile-role",
			BootstrapEmail:    "root@campus.edu",
			BootstrapPassword: "secret1",
		},
		Guard:         config.GuardConfig{CheckTimeout: 2 * time.Second, LoginPath: "/login", LandingPath: "/dashboard"},
		ClientIdleTTL: time.Minute,
		AuditLogFile:  filepath.Join(dir, "audit.log"),
	}
}

func TestNewWiresBootstrapAdmin(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Close()
	h := a.Handler()

	body, _ := json.Marshal(map[string]string{"email": "root@campus.edu", "password": "secret1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected bootstrap admin login to succeed, got %d: %s", rr.Code, rr.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == portal.ClientCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("expected client cookie")
	}

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected admin page for bootstrap admin, got %d %q", rr.Code, rr.Header().Get("Location"))
	}
}

func TestNewIsIdempotentForBootstrap(t *testing.T) {
	cfg := testConfig(t)
	first, err := New(cfg)
	if err != nil {
		t.Fatalf("first New() error: %v", err)
	}
	first.Close()

	second, err := New(cfg)
	if err != nil {
		t.Fatalf("second New() error: %v", err)
	}
	second.Close()
}

func TestNewRejectsPostgresStorageWithoutDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = "postgres"
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected postgres storage without database url to fail")
	}
}
