// Package config handles the versioned JSON configuration document for
// Helmsman. The document is read through viper, kept in an RWMutex-guarded
// snapshot, and hot-reloaded when the file changes on disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// CurrentVersion is the version written by this build. Older documents
// are migrated forward on load.
const CurrentVersion = 2

// Config holds every option the engine reads.
type Config struct {
	// Version is the monotonically increasing document version.
	Version int `mapstructure:"version" json:"version"`
	// AutopilotEnabled gates auto-merge and dependent auto-enqueue.
	AutopilotEnabled bool `mapstructure:"autopilot_enabled" json:"autopilot_enabled"`
	// MaxConcurrentAgents bounds the queue drain; 0 means unlimited.
	MaxConcurrentAgents uint32 `mapstructure:"max_concurrent_agents" json:"max_concurrent_agents"`
	// ExecutorProfile is the default profile for new workspaces.
	ExecutorProfile string `mapstructure:"executor_profile" json:"executor_profile"`
	// ReviewAttentionExecutorProfile enables the review-attention pass
	// when non-empty.
	ReviewAttentionExecutorProfile string `mapstructure:"review_attention_executor_profile" json:"review_attention_executor_profile,omitempty"`
	// CommitMessageAutoGenerateEnabled gates the commit-message agent.
	CommitMessageAutoGenerateEnabled bool `mapstructure:"commit_message_auto_generate_enabled" json:"commit_message_auto_generate_enabled"`
	// CommitMessagePrompt overrides the commit-message agent prompt.
	CommitMessagePrompt string `mapstructure:"commit_message_prompt" json:"commit_message_prompt,omitempty"`
	// CommitMessageExecutorProfile selects the commit-message model.
	CommitMessageExecutorProfile string `mapstructure:"commit_message_executor_profile" json:"commit_message_executor_profile,omitempty"`
	// GitBranchPrefix prefixes generated workspace branches. May be empty.
	GitBranchPrefix string `mapstructure:"git_branch_prefix" json:"git_branch_prefix"`
}

// Default returns the configuration written on first start.
func Default() Config {
	return Config{
		Version:             CurrentVersion,
		AutopilotEnabled:    false,
		MaxConcurrentAgents: 4,
		ExecutorProfile:     "claude-code",
		GitBranchPrefix:     "helm",
	}
}

// Service owns the live configuration snapshot.
type Service struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

// NewService returns a service holding the given configuration without a
// backing file. Used by tests and ephemeral setups.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// Load reads the config file at path, creating it with defaults when it
// does not exist, and migrating old versions forward.
func Load(path string) (*Service, error) {
	s := &Service{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.cfg = Default()
		if err := s.Save(); err != nil {
			return nil, err
		}
		return s, nil
	}

	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if migrated := migrate(&cfg); migrated {
		s.cfg = cfg
		if err := s.Save(); err != nil {
			return nil, err
		}
		return s, nil
	}

	s.cfg = cfg
	return s, nil
}

// read parses the JSON document through viper.
func read(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// migrate brings an older document up to the current version.
// Returns true when the document changed.
func migrate(cfg *Config) bool {
	if cfg.Version >= CurrentVersion {
		return false
	}

	if cfg.Version < 1 {
		// Pre-versioned documents had no executor profile field.
		if cfg.ExecutorProfile == "" {
			cfg.ExecutorProfile = Default().ExecutorProfile
		}
	}
	if cfg.Version < 2 {
		if cfg.GitBranchPrefix == "" {
			cfg.GitBranchPrefix = Default().GitBranchPrefix
		}
	}

	cfg.Version = CurrentVersion
	return true
}

// Snapshot returns a copy of the current configuration.
func (s *Service) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies fn to the configuration and persists the result when a
// backing file is configured.
func (s *Service) Update(fn func(*Config)) error {
	s.mu.Lock()
	fn(&s.cfg)
	s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	return s.Save()
}

// Save writes the configuration atomically (write temp file, rename).
func (s *Service) Save() error {
	s.mu.RLock()
	cfg := s.cfg
	path := s.path
	s.mu.RUnlock()

	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// reload re-reads the backing file into the snapshot.
func (s *Service) reload() error {
	if s.path == "" {
		return nil
	}
	cfg, err := read(s.path)
	if err != nil {
		return err
	}
	migrate(&cfg)

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}
