package registry

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
)

// overrideFile is the shape of an optional roster override file: a list
// of partial entries keyed by worker name. A field left zero in the file
// leaves the built-in value alone.
type overrideFile struct {
	Workers []struct {
		Name        Worker     `yaml:"name"`
		Description string     `yaml:"description,omitempty"`
		LLMSummary  string     `yaml:"llm_summary,omitempty"`
		Optional    *bool      `yaml:"optional,omitempty"`
		DefaultTier ModelClass `yaml:"default_tier,omitempty"`
		Tools       []string   `yaml:"tools,omitempty"`
	} `yaml:"workers"`
}

// LoadYAML applies worker overrides from a YAML file on top of the
// built-in entries registered by builtins.go. Every named worker must
// already be registered — this narrows descriptions, LLM summaries, tool
// lists, and default tiers for deployment-specific tuning, it does not
// introduce new workers (that still requires touching the Worker enum
// and the event projector's agent-id formatting).
func LoadYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registry: reading override file: %w", err)
	}
	var file overrideFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("registry: parsing override file: %w", err)
	}
	for _, w := range file.Workers {
		entry, ok := Get(w.Name)
		if !ok {
			return fmt.Errorf("registry: override file names unknown worker %q", w.Name)
		}
		if w.Description != "" {
			entry.Description = w.Description
		}
		if w.LLMSummary != "" {
			entry.LLMSummary = w.LLMSummary
		}
		if w.Optional != nil {
			entry.Optional = *w.Optional
		}
		if w.DefaultTier != "" {
			entry.DefaultTier = w.DefaultTier
		}
		if len(w.Tools) > 0 {
			entry.Tools = w.Tools
		}
		if err := Register(entry); err != nil {
			return fmt.Errorf("registry: applying override for %q: %w", w.Name, err)
		}
	}
	return nil
}
