package factory

import (
	"context"
	"testing"
)

func TestFromEnv_BasicOpenAI(t *testing.T) {
	t.Setenv("BASIC_PROVIDER", "openai")
	t.Setenv("BASIC_API_KEY", "test-openai-key")
	t.Setenv("BASIC_MODEL", "gpt-4o-mini")
	t.Setenv("REASONING_PROVIDER", "")
	t.Setenv("VL_PROVIDER", "")

	a, err := FromEnv(context.Background())
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if a == nil {
		t.Fatalf("expected non-nil adapter")
	}
}

func TestFromEnv_NoCredentialsErrors(t *testing.T) {
	for _, prefix := range []string{"BASIC", "REASONING", "VL"} {
		t.Setenv(prefix+"_PROVIDER", "openai")
		t.Setenv(prefix+"_API_KEY", "")
	}
	if _, err := FromEnv(context.Background()); err == nil {
		t.Fatalf("expected error when no class has credentials")
	}
}

func TestFromEnv_Ollama(t *testing.T) {
	t.Setenv("BASIC_PROVIDER", "ollama")
	t.Setenv("BASIC_MODEL", "llama3.1:8b")
	t.Setenv("BASIC_BASE_URL", "http://127.0.0.1:11434")
	t.Setenv("REASONING_PROVIDER", "")
	t.Setenv("VL_PROVIDER", "")

	if _, err := FromEnv(context.Background()); err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
}

func TestFromEnv_AzureOpenAIMissingEndpointErrors(t *testing.T) {
	t.Setenv("BASIC_PROVIDER", "azureopenai")
	t.Setenv("BASIC_API_KEY", "test-azure-key")
	t.Setenv("BASIC_ENDPOINT", "")
	t.Setenv("REASONING_PROVIDER", "")
	t.Setenv("VL_PROVIDER", "")

	if _, err := FromEnv(context.Background()); err == nil {
		t.Fatalf("expected error for missing azure endpoint")
	}
}
