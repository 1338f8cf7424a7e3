package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/deepmedical/core/browser"
)

type browserDriveArgs struct {
	Action   string `json:"action"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	FullPage bool   `json:"full_page,omitempty"`
}

// BrowserDriveResult reports the outcome of a single browser_drive action.
type BrowserDriveResult struct {
	Action       string `json:"action"`
	CurrentURL   string `json:"currentUrl,omitempty"`
	Text         string `json:"text,omitempty"`
	ScreenshotB64 string `json:"screenshotBase64,omitempty"`
	Error        string `json:"error,omitempty"`
}

var (
	browserPoolOnce sync.Once
	browserPool     *browser.Pool
	browserPoolErr  error
)

func sharedBrowserPool() (*browser.Pool, error) {
	browserPoolOnce.Do(func() {
		cfg := browser.ConfigFromEnv(os.Getenv)
		browserPool, browserPoolErr = browser.NewPool(cfg)
	})
	return browserPool, browserPoolErr
}

func NewBrowserDrive() Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"navigate", "click", "type", "extract_text", "screenshot"},
				"description": "The browser action to perform in this step.",
			},
			"url": map[string]any{
				"type":        "string",
				"description": "URL to navigate to. Required for the navigate action.",
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector for click/type/extract_text. Omit extract_text's selector to read the whole page.",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Text to type. Required for the type action.",
			},
			"full_page": map[string]any{
				"type":        "boolean",
				"description": "Capture the full scrollable page instead of just the viewport. Only applies to screenshot.",
			},
		},
		"required": []string{"action"},
	}

	return NewFuncTool(
		"browser_drive",
		"Drive a headless browser session one step at a time: navigate, click, type, extract page text, or screenshot.",
		schema,
		func(ctx context.Context, args json.RawMessage) (any, error) {
			var in browserDriveArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid browser_drive args: %w", err)
			}
			return runBrowserDrive(ctx, in)
		},
	)
}

func runBrowserDrive(ctx context.Context, in browserDriveArgs) (*BrowserDriveResult, error) {
	pool, err := sharedBrowserPool()
	if err != nil {
		return nil, fmt.Errorf("browser_drive: %w", err)
	}

	inst, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("browser_drive: acquire session: %w", err)
	}
	defer pool.Release(inst)

	result := &BrowserDriveResult{Action: in.Action}

	switch in.Action {
	case "navigate":
		if in.URL == "" {
			return nil, fmt.Errorf("url is required for navigate")
		}
		if err := inst.Navigate(in.URL); err != nil {
			result.Error = err.Error()
		}
	case "click":
		if in.Selector == "" {
			return nil, fmt.Errorf("selector is required for click")
		}
		if err := inst.Click(in.Selector); err != nil {
			result.Error = err.Error()
		}
	case "type":
		if in.Selector == "" || in.Text == "" {
			return nil, fmt.Errorf("selector and text are required for type")
		}
		if err := inst.Type(in.Selector, in.Text); err != nil {
			result.Error = err.Error()
		}
	case "extract_text":
		text, err := inst.ExtractText(in.Selector)
		if err != nil {
			result.Error = err.Error()
		}
		result.Text = text
	case "screenshot":
		b64, err := inst.Screenshot(in.FullPage)
		if err != nil {
			result.Error = err.Error()
		}
		result.ScreenshotB64 = b64
	default:
		return nil, fmt.Errorf("unknown browser_drive action %q", in.Action)
	}

	result.CurrentURL = inst.CurrentURL()
	return result, nil
}
