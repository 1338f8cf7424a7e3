package tools

import (
	"strings"
	"testing"
)

func TestBuiltinsRegistered(t *testing.T) {
	names := ToolNames()
	if len(names) == 0 {
		t.Fatalf("expected registered tools")
	}
	found := false
	for _, n := range names {
		if n == "web_search" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected web_search built-in tool")
	}

	bundles := BundleNames()
	found = false
	for _, b := range bundles {
		if b == "researcher" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected researcher bundle")
	}
}

func TestBuildSelection_BundleAndWildcard(t *testing.T) {
	tools, err := BuildSelection([]string{"@researcher"})
	if err != nil {
		t.Fatalf("BuildSelection failed: %v", err)
	}
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools from researcher bundle, got %d", len(tools))
	}

	all, err := BuildSelection([]string{"*"})
	if err != nil {
		t.Fatalf("BuildSelection all failed: %v", err)
	}
	if len(all) < 6 {
		t.Fatalf("expected at least 6 tools, got %d", len(all))
	}
}

func TestBuildSelection_UnknownBundle(t *testing.T) {
	_, err := BuildSelection([]string{"@nope"})
	if err == nil || !strings.Contains(err.Error(), "unknown tool bundle") {
		t.Fatalf("expected unknown bundle error, got %v", err)
	}
}

func TestBuildSelection_UnknownTool(t *testing.T) {
	_, err := BuildSelection([]string{"nonexistent_tool"})
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("expected unknown tool error, got %v", err)
	}
}
