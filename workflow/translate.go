package workflow

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/deepmedical/core/llm"
	"github.com/deepmedical/core/prompt"
	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/types"
)

var stripNonLatin = runes.Remove(runes.NotIn(unicode.Latin))

// looksNonEnglish is a script-level heuristic, not a language classifier:
// it flags a turn as non-English when more than a third of its letters
// fall outside the Latin script. A run of Latin-script text that isn't
// actually English still passes, and that's an acceptable miss — the
// coordinator's only use of this signal is deciding whether a
// translation pass is worth the extra LLM call at all.
func looksNonEnglish(text string) bool {
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 4 {
		return false
	}
	latinOnly, _, err := transform.String(stripNonLatin, text)
	if err != nil {
		return false
	}
	latinLetters := 0
	for _, r := range latinOnly {
		if unicode.IsLetter(r) {
			latinLetters++
		}
	}
	return float64(letters-latinLetters)/float64(letters) > 0.34
}

// translateToEnglish runs a single, tool-free LLM call against the
// translator worker's prompt template to render text into English
// before the coordinator reasons about it. It is deliberately not a
// graph hop through workflow.ReactNode: this pass never needs tools, so
// a direct adapter call avoids the cost of spinning up an agent.Agent
// and an extra supervisor round-trip for a translation the coordinator
// needs before it can even decide whether to hand off.
func translateToEnglish(ctx context.Context, adapter *llm.Adapter, text string) (string, error) {
	system, _, err := prompt.Bind(prompt.BindInput{
		Worker: string(registry.Translator),
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "Translate the following user message to English. Reply with only the translated text.\n\n" + text},
		},
	})
	if err != nil {
		return "", err
	}
	resp, err := adapter.Invoke(ctx, registry.ClassBasic, types.Request{
		SystemPrompt: system,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: text},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}
