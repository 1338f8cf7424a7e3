// Package factory builds an llm.Adapter from environment configuration,
// resolving one provider per model class. It keeps the teacher's
// per-vendor construction logic (providers/openai, providers/anthropic,
// providers/gemini, providers/ollama, providers/azureopenai) but switches
// the selection axis from a single global AGENT_PROVIDER to the three
// independent classes spec.md §4.3/§6 require: basic, reasoning, vision.
package factory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/deepmedical/core/llm"
	"github.com/deepmedical/core/registry"
	anthropicprov "github.com/deepmedical/core/providers/anthropic"
	azureopenaiprov "github.com/deepmedical/core/providers/azureopenai"
	geminiprov "github.com/deepmedical/core/providers/gemini"
	ollamaprov "github.com/deepmedical/core/providers/ollama"
	openaiprov "github.com/deepmedical/core/providers/openai"
)

// classConfig is the per-class env prefix from spec.md §6.
var classConfig = map[registry.ModelClass]string{
	registry.ClassBasic:     "BASIC",
	registry.ClassReasoning: "REASONING",
	registry.ClassVision:    "VL",
}

// FromEnv builds an Adapter with whichever classes have credentials
// configured. A class with no {PREFIX}_API_KEY set (and no vendor that
// needs none, i.e. ollama) is left unconfigured; the Adapter falls back
// to the basic provider for those at call time. At least one class must
// resolve or FromEnv errors.
func FromEnv(ctx context.Context) (*llm.Adapter, error) {
	providers := map[registry.ModelClass]llm.Provider{}
	var lastErr error
	for class, prefix := range classConfig {
		p, err := providerForClass(ctx, prefix)
		if err != nil {
			lastErr = err
			continue
		}
		if p != nil {
			providers[class] = p
		}
	}
	if len(providers) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("no LLM provider configured for any model class: %w", lastErr)
		}
		return nil, fmt.Errorf("no LLM provider configured for any model class")
	}
	return llm.NewAdapter(providers), nil
}

func providerForClass(ctx context.Context, prefix string) (llm.Provider, error) {
	vendor := strings.ToLower(getenv(prefix+"_PROVIDER", defaultVendor(prefix)))
	apiKey := strings.TrimSpace(os.Getenv(prefix + "_API_KEY"))
	model := strings.TrimSpace(os.Getenv(prefix + "_MODEL"))
	baseURL := strings.TrimSpace(os.Getenv(prefix + "_BASE_URL"))

	switch vendor {
	case "", "unset":
		return nil, nil
	case "openai":
		if apiKey == "" {
			return nil, nil
		}
		if model == "" {
			model = "gpt-4o-mini"
		}
		opts := []openaiprov.Option{openaiprov.WithModel(model)}
		if baseURL != "" {
			opts = append(opts, openaiprov.WithBaseURL(baseURL))
		}
		return openaiprov.New(apiKey, opts...)

	case "gemini":
		if apiKey == "" {
			return nil, nil
		}
		if model == "" {
			model = "gemini-2.5-flash"
		}
		return geminiprov.New(ctx, apiKey, geminiprov.WithModel(model))

	case "anthropic":
		if apiKey == "" {
			return nil, nil
		}
		if model == "" {
			model = "claude-3-5-sonnet-latest"
		}
		opts := []anthropicprov.Option{anthropicprov.WithModel(model)}
		if baseURL != "" {
			opts = append(opts, anthropicprov.WithBaseURL(baseURL))
		}
		return anthropicprov.New(apiKey, opts...)

	case "ollama":
		if model == "" {
			model = "llama3.1:8b"
		}
		if baseURL == "" {
			baseURL = "http://127.0.0.1:11434"
		}
		return ollamaprov.New(
			ollamaprov.WithModel(model),
			ollamaprov.WithBaseURL(baseURL),
			ollamaprov.WithAPIKey(apiKey),
		)

	case "azureopenai":
		if apiKey == "" {
			return nil, nil
		}
		endpoint := strings.TrimSpace(os.Getenv(prefix + "_ENDPOINT"))
		deployment := strings.TrimSpace(os.Getenv(prefix + "_DEPLOYMENT"))
		if endpoint == "" || deployment == "" {
			return nil, fmt.Errorf("%s_ENDPOINT and %s_DEPLOYMENT are required for azureopenai", prefix, prefix)
		}
		if model == "" {
			model = deployment
		}
		apiVersion := getenv(prefix+"_API_VERSION", "2024-10-21")
		return azureopenaiprov.New(
			apiKey,
			azureopenaiprov.WithEndpoint(endpoint),
			azureopenaiprov.WithDeployment(deployment),
			azureopenaiprov.WithModel(model),
			azureopenaiprov.WithAPIVersion(apiVersion),
		)
	}
	return nil, fmt.Errorf("unsupported %s_PROVIDER %q", prefix, vendor)
}

// defaultVendor picks a sane default per class: the vision class defaults
// to gemini (the only wired vendor with native multimodal input here);
// everything else defaults to openai. Either default is overridable with
// {PREFIX}_PROVIDER, since spec.md §1 explicitly treats vendor choice as
// a non-goal.
func defaultVendor(prefix string) string {
	if prefix == "VL" {
		return "gemini"
	}
	return "openai"
}

func getenv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}
