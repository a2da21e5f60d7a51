package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetHome_FromEnv(t *testing.T) {
	home := filepath.Join(t.TempDir(), "custom")
	t.Setenv(HomeEnv, home)

	got, err := GetHome()
	if err != nil {
		t.Fatalf("GetHome() error = %v", err)
	}
	if got != home {
		t.Errorf("GetHome() = %q, want %q", got, home)
	}
	if info, err := os.Stat(home); err != nil || !info.IsDir() {
		t.Errorf("home directory was not created: %v", err)
	}
}

func TestGetHome_DefaultsToWorkingDirectory(t *testing.T) {
	t.Setenv(HomeEnv, "")
	dir := t.TempDir()
	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWd) })

	got, err := GetHome()
	if err != nil {
		t.Fatalf("GetHome() error = %v", err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(dir, ".taskpilot"))
	if gotReal, _ := filepath.EvalSymlinks(got); gotReal != want {
		t.Errorf("GetHome() = %q, want %q", got, want)
	}
}

func TestLoadFromHome_ResolvesRelativePaths(t *testing.T) {
	home := t.TempDir()
	content := "store:\n  db_path: data/tasks.db\nvalidation:\n  rules_file: /etc/rules.yaml\n"
	if err := os.WriteFile(ConfigPath(home), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromHome(home)
	if err != nil {
		t.Fatalf("LoadFromHome() error = %v", err)
	}
	if want := filepath.Join(home, "data", "tasks.db"); cfg.Store.DBPath != want {
		t.Errorf("DBPath = %q, want %q", cfg.Store.DBPath, want)
	}
	if want := filepath.Join(home, "fallback"); cfg.Fallback.DataDir != want {
		t.Errorf("DataDir = %q, want %q", cfg.Fallback.DataDir, want)
	}
	if cfg.Validation.RulesFile != "/etc/rules.yaml" {
		t.Errorf("absolute RulesFile changed: %q", cfg.Validation.RulesFile)
	}
	if cfg.Validation.PatternsFile != "" {
		t.Errorf("empty PatternsFile changed: %q", cfg.Validation.PatternsFile)
	}
}

func TestResolvePaths_KeepsMemoryDatabase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.DBPath = ":memory:"
	cfg.ResolvePaths("/home/x")
	if cfg.Store.DBPath != ":memory:" {
		t.Errorf("DBPath = %q, want :memory:", cfg.Store.DBPath)
	}
}
