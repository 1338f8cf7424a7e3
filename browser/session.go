package browser

import (
	"encoding/base64"
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// Navigate loads url in the instance's page.
func (inst *Instance) Navigate(url string) error {
	_, err := inst.Page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Click clicks the first element matching selector.
func (inst *Instance) Click(selector string) error {
	if err := inst.Page.Click(selector); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Type fills text into the first element matching selector.
func (inst *Instance) Type(selector, text string) error {
	if err := inst.Page.Fill(selector, text); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

// ExtractText returns the text content of selector, or the whole body when empty.
func (inst *Instance) ExtractText(selector string) (string, error) {
	if selector == "" {
		selector = "body"
	}
	text, err := inst.Page.TextContent(selector)
	if err != nil {
		return "", fmt.Errorf("extract text from %s: %w", selector, err)
	}
	return text, nil
}

// Screenshot captures the current page as a base64-encoded PNG.
func (inst *Instance) Screenshot(fullPage bool) (string, error) {
	shot, err := inst.Page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	return base64.StdEncoding.EncodeToString(shot), nil
}

// CurrentURL returns the page's current URL; browser_drive copies it into
// each action's tool result.
func (inst *Instance) CurrentURL() string {
	return inst.Page.URL()
}
