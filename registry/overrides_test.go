package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLNarrowsExistingEntry(t *testing.T) {
	original, ok := Get(Researcher)
	if !ok {
		t.Fatalf("researcher entry missing before override")
	}
	defer MustRegister(original)

	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	contents := "workers:\n  - name: researcher\n    llm_summary: \"internal-only literature review\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing override file: %v", err)
	}

	if err := LoadYAML(path); err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}

	updated, ok := Get(Researcher)
	if !ok {
		t.Fatalf("researcher entry missing after override")
	}
	if updated.LLMSummary != "internal-only literature review" {
		t.Fatalf("llm summary not overridden: %q", updated.LLMSummary)
	}
	if updated.Description != original.Description {
		t.Fatalf("description should be untouched when omitted from the override file")
	}
}

func TestLoadYAMLRejectsUnknownWorker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	contents := "workers:\n  - name: time-traveler\n    llm_summary: \"nope\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing override file: %v", err)
	}

	if err := LoadYAML(path); err == nil {
		t.Fatalf("expected error for an unknown worker name")
	}
}
