package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cfg := s.Snapshot()
	if cfg.Version != CurrentVersion {
		t.Errorf("version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.ExecutorProfile != "claude-code" {
		t.Errorf("executor_profile = %q, want claude-code", cfg.ExecutorProfile)
	}
	if cfg.AutopilotEnabled {
		t.Error("autopilot should default to disabled")
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist after first load: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Update(func(c *Config) {
		c.AutopilotEnabled = true
		c.MaxConcurrentAgents = 7
		c.ReviewAttentionExecutorProfile = "claude-code"
		c.GitBranchPrefix = "auto"
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cfg := reloaded.Snapshot()
	if !cfg.AutopilotEnabled {
		t.Error("autopilot_enabled lost in round trip")
	}
	if cfg.MaxConcurrentAgents != 7 {
		t.Errorf("max_concurrent_agents = %d, want 7", cfg.MaxConcurrentAgents)
	}
	if cfg.ReviewAttentionExecutorProfile != "claude-code" {
		t.Error("review_attention_executor_profile lost in round trip")
	}
	if cfg.GitBranchPrefix != "auto" {
		t.Errorf("git_branch_prefix = %q, want auto", cfg.GitBranchPrefix)
	}
}

func TestLoadMigratesOldVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	old := `{"version": 0, "autopilot_enabled": true}`
	if err := os.WriteFile(path, []byte(old), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := s.Snapshot()
	if cfg.Version != CurrentVersion {
		t.Errorf("version = %d, want %d after migration", cfg.Version, CurrentVersion)
	}
	if !cfg.AutopilotEnabled {
		t.Error("existing fields must survive migration")
	}
	if cfg.ExecutorProfile == "" {
		t.Error("migration should backfill the executor profile")
	}
}

func TestServiceWithoutFile(t *testing.T) {
	s := NewService(Config{AutopilotEnabled: true})
	if !s.Snapshot().AutopilotEnabled {
		t.Error("snapshot should reflect the provided config")
	}
	if err := s.Update(func(c *Config) { c.MaxConcurrentAgents = 2 }); err != nil {
		t.Errorf("update without a file should succeed: %v", err)
	}
	if s.Snapshot().MaxConcurrentAgents != 2 {
		t.Error("update not applied")
	}
}
