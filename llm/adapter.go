// Package llm's Adapter gives the workflow engine one call shape across
// model classes and providers: invoke, stream, and invoke-structured with
// schema coercion. Individual vendor SDKs live under providers/.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/types"
)

// ErrSchemaViolation is returned by InvokeStructured after the retry is
// exhausted and the model still did not produce schema-conformant JSON.
var ErrSchemaViolation = errors.New("llm: structured output did not match schema after retry")

// Adapter routes a call to the provider configured for the requested
// model class. Any class may be left unconfigured; a reasoning or vision
// call with no provider of its own goes to the basic provider, and a call
// errors only when neither its class nor basic is configured.
type Adapter struct {
	providers map[registry.ModelClass]Provider
}

// NewAdapter builds an Adapter from a class-to-provider map. A class with
// a nil provider is treated as unconfigured rather than panicking at
// construction, so a deployment that only wants the basic tier works.
func NewAdapter(providers map[registry.ModelClass]Provider) *Adapter {
	a := &Adapter{providers: make(map[registry.ModelClass]Provider, len(providers))}
	for class, p := range providers {
		if p != nil {
			a.providers[class] = p
		}
	}
	return a
}

// SelectClass implements the selection policy of spec.md §4.3: reasoning
// when deep-thinking is requested, vision for the browser worker, basic
// otherwise.
func SelectClass(worker registry.Worker, deepThinking bool) registry.ModelClass {
	if worker == registry.Browser {
		return registry.ClassVision
	}
	if deepThinking {
		return registry.ClassReasoning
	}
	return registry.ClassBasic
}

// ProviderFor exposes the class-to-provider resolution (including the
// reasoning/vision-to-basic fallback) to callers that need the raw
// vendor Provider rather than a routed Invoke/Stream call — the
// Workflow Engine's react workers build one agent.Agent per worker
// around exactly this.
func (a *Adapter) ProviderFor(class registry.ModelClass) (Provider, error) {
	return a.providerFor(class)
}

func (a *Adapter) providerFor(class registry.ModelClass) (Provider, error) {
	p, ok := a.providers[class]
	if !ok || p == nil {
		// Reasoning/vision are optional tiers; fall back to basic rather
		// than failing a run outright when an operator hasn't configured
		// them.
		if class != registry.ClassBasic {
			if basic, ok := a.providers[registry.ClassBasic]; ok && basic != nil {
				return basic, nil
			}
		}
		return nil, fmt.Errorf("llm: no provider configured for model class %q", class)
	}
	return p, nil
}

// Invoke performs a single synchronous call.
func (a *Adapter) Invoke(ctx context.Context, class registry.ModelClass, req types.Request) (types.Response, error) {
	p, err := a.providerFor(class)
	if err != nil {
		return types.Response{}, err
	}
	return p.Generate(ctx, req)
}

// Stream produces deltas over fn. It never uses a provider's native
// streaming (the Gemini client reports Capabilities().Streaming == true
// and has a GenerateStream method, but Stream does not call it): Stream
// performs one Generate call and then chunks the resulting text into
// word-sized deltas — this keeps the caller-facing contract (a lazy
// finite sequence of content deltas) true for the Event Projector
// without wiring any vendor's real token stream. fn is called at least once; a false return stops
// early (context cancellation or client disconnect).
func (a *Adapter) Stream(ctx context.Context, class registry.ModelClass, req types.Request, fn func(types.StreamChunk) bool) (types.Response, error) {
	resp, err := a.Invoke(ctx, class, req)
	if err != nil {
		return resp, err
	}
	words := strings.Fields(resp.Message.Content)
	if len(words) == 0 {
		fn(types.StreamChunk{Done: true})
		return resp, nil
	}
	for i, w := range words {
		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		default:
		}
		chunk := types.StreamChunk{Text: w + " "}
		if i == len(words)-1 {
			chunk.Done = true
		}
		if !fn(chunk) {
			return resp, nil
		}
	}
	return resp, nil
}

// InvokeStructured demands JSON conforming to schema. It validates the
// raw reply with the adapter's schema-coerce helper; on violation it
// retries the call exactly once (appending a corrective user message)
// before surfacing ErrSchemaViolation, matching spec.md §4.3/§7's
// single-retry-then-fail rule for supervisor/planner structured output.
func (a *Adapter) InvokeStructured(ctx context.Context, class registry.ModelClass, req types.Request, schema map[string]any, out any) error {
	req.ResponseSchema = schema
	resp, err := a.Invoke(ctx, class, req)
	if err != nil {
		return err
	}
	if err := CoerceJSON(resp.Message.Content, schema, out); err == nil {
		return nil
	}

	retryReq := req
	retryReq.Messages = append(append([]types.Message{}, req.Messages...), types.Message{
		Role:    types.RoleUser,
		Content: "Your previous reply was not valid JSON matching the required schema. Reply again with ONLY the JSON object, no commentary.",
	})
	resp, err = a.Invoke(ctx, class, retryReq)
	if err != nil {
		return err
	}
	if err := CoerceJSON(resp.Message.Content, schema, out); err != nil {
		return ErrSchemaViolation
	}
	return nil
}

// CoerceJSON extracts the first JSON object found in raw, validates it
// against schema, and unmarshals it into out. Kept as a narrowly scoped
// adapter-boundary helper per spec.md §9's "JSON-repair fallback" note —
// it is never used in a hot path, only at the structured-invocation
// boundary.
func CoerceJSON(raw string, schema map[string]any, out any) error {
	candidate := extractJSONObject(raw)
	if candidate == "" {
		return fmt.Errorf("llm: no JSON object found in reply")
	}
	if err := validateAgainstSchema(candidate, schema); err != nil {
		return err
	}
	return json.Unmarshal([]byte(candidate), out)
}

func extractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}
