package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrateCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:"+filepath.Join(dir, "vendi.db"))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"migrate", "--env-file", filepath.Join(dir, "missing.env")})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out.String(), "schema up to date (sqlite)") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestMigrateRejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_DRIVER", "oracle")

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"migrate", "--env-file", filepath.Join(dir, "missing.env")})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
