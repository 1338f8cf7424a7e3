package prompt

import (
	"fmt"
	"time"

	"github.com/mbleigh/raymond"
	strftime "github.com/ncruces/go-strftime"
)

// Render expands a Handlebars-style template against vars. Workers'
// system prompts use block helpers ({{#if deep_thinking}}...{{/if}}) that
// the teacher's original regex substitution (a bare {{token}} replace)
// could not express, so binding now goes through raymond instead.
func Render(template string, vars map[string]any) (string, error) {
	out, err := raymond.Render(template, vars)
	if err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return out, nil
}

// CurrentTime formats now using a strftime directive so templates lifted
// from the original Python prompts (which use strftime syntax, not Go's
// reference-time layout) need no reformatting.
func CurrentTime(now time.Time, layout string) string {
	if layout == "" {
		layout = "%A, %B %d, %Y %H:%M:%S %Z"
	}
	return strftime.Format(layout, now)
}
