package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadEnvFileIgnoresMissingFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("loadEnvFile() error: %v", err)
	}
	if err := loadEnvFile(""); err != nil {
		t.Fatalf("loadEnvFile(\"\") error: %v", err)
	}
}

func TestLoadEnvFileKeepsExistingVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "PORTALGATE_TEST_FROM_FILE=file\nPORTALGATE_TEST_PRESET=file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("PORTALGATE_TEST_PRESET", "env")
	t.Cleanup(func() { _ = os.Unsetenv("PORTALGATE_TEST_FROM_FILE") })

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile() error: %v", err)
	}
	if got := os.Getenv("PORTALGATE_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("PORTALGATE_TEST_PRESET"); got != "env" {
		t.Fatalf("expected environment to win, got %q", got)
	}
}

func TestWaitDBRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TEST_POSTGRES_DSN", "")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--env-file", "", "waitdb"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "DSN is required") {
		t.Fatalf("expected missing DSN error, got %v", err)
	}
}

func TestWaitDBRejectsNonPositiveTimeout(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--env-file", "", "waitdb", "--dsn", "postgres://localhost/none", "--timeout", "0s"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid timeout") {
		t.Fatalf("expected invalid timeout error, got %v", err)
	}
}
