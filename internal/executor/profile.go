// Package executor launches coding-agent processes and exposes their
// output as normalized message streams. The orchestrator is its only
// caller.
package executor

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile identifies an executor configuration, serialized as
// "executor" or "executor:variant".
type Profile struct {
	// Executor is the base agent, e.g. "claude-code".
	Executor string
	// Variant selects an optional configuration variant.
	Variant string
}

// ParseProfile parses the serialized profile form.
func ParseProfile(s string) Profile {
	executor, variant, _ := strings.Cut(strings.TrimSpace(s), ":")
	return Profile{Executor: executor, Variant: variant}
}

// String returns the serialized profile form.
func (p Profile) String() string {
	if p.Variant == "" {
		return p.Executor
	}
	return p.Executor + ":" + p.Variant
}

// Command describes how to launch an executor.
type Command struct {
	// Program is the binary to run.
	Program string `yaml:"program"`
	// Args are the base arguments, before the prompt.
	Args []string `yaml:"args"`
	// Env is extra environment, KEY=VALUE.
	Env []string `yaml:"env"`
}

// Catalog maps executor names to launch commands. Users may override or
// extend it with a YAML file.
type Catalog struct {
	Executors map[string]Command `yaml:"executors"`
}

// DefaultCatalog returns the built-in launch commands.
func DefaultCatalog() Catalog {
	return Catalog{
		Executors: map[string]Command{
			"claude-code": {
				Program: "claude",
				Args: []string{
					"--output-format", "stream-json",
					"--print",
					"--verbose",
				},
			},
		},
	}
}

// LoadCatalog reads a catalog file, merging it over the defaults. A
// missing file yields the defaults.
func LoadCatalog(path string) (Catalog, error) {
	catalog := DefaultCatalog()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return catalog, nil
	}
	if err != nil {
		return Catalog{}, fmt.Errorf("read executor catalog: %w", err)
	}

	var overrides Catalog
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Catalog{}, fmt.Errorf("parse executor catalog: %w", err)
	}
	for name, cmd := range overrides.Executors {
		catalog.Executors[name] = cmd
	}
	return catalog, nil
}

// CommandFor resolves the launch command for a profile.
func (c Catalog) CommandFor(p Profile) (Command, bool) {
	cmd, ok := c.Executors[p.Executor]
	return cmd, ok
}
