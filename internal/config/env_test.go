package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvSetsVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nFAB_TEST_KEY=value\nexport FAB_TEST_EXPORTED='quoted'\nbroken line\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("FAB_TEST_KEY", "")
	os.Unsetenv("FAB_TEST_KEY")
	t.Setenv("FAB_TEST_EXPORTED", "")
	os.Unsetenv("FAB_TEST_EXPORTED")

	if err := LoadEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("FAB_TEST_KEY"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
	if got := os.Getenv("FAB_TEST_EXPORTED"); got != "quoted" {
		t.Fatalf("expected quoted, got %q", got)
	}
}

func TestLoadEnvDoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FAB_TEST_EXISTING=file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("FAB_TEST_EXISTING", "process")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("FAB_TEST_EXISTING"); got != "process" {
		t.Fatalf("expected process value preserved, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file should be ignored, got %v", err)
	}
}
