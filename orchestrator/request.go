package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// chatRequest is the body of POST /api/chat/stream.
type chatRequest struct {
	Messages             []chatMessage `json:"messages"`
	Debug                bool          `json:"debug,omitempty"`
	DeepThinkingMode     bool          `json:"deep_thinking_mode,omitempty"`
	SearchBeforePlanning bool          `json:"search_before_planning,omitempty"`
	TeamMembers          *[]string     `json:"team_members,omitempty"`
	SessionID            *string       `json:"session_id,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// lastUserText extracts the plain-text content of the request's final
// message, which must be the user's new turn. Image parts are noted but
// otherwise dropped here — per spec, a non-vision worker simply ignores
// them rather than failing the run.
func lastUserText(req chatRequest) (string, bool, error) {
	if len(req.Messages) == 0 {
		return "", false, fmt.Errorf("messages must not be empty")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return "", false, fmt.Errorf("the last message must have role %q", "user")
	}
	text, hasImage := flattenContent(last.Content)
	text = strings.TrimSpace(text)
	if text == "" && !hasImage {
		return "", false, fmt.Errorf("the last message has no content")
	}
	return text, hasImage, nil
}

func flattenContent(content any) (string, bool) {
	switch v := content.(type) {
	case string:
		return v, false
	case []any:
		var b strings.Builder
		hasImage := false
		for _, raw := range v {
			partRaw, err := json.Marshal(raw)
			if err != nil {
				continue
			}
			var part contentPart
			if err := json.Unmarshal(partRaw, &part); err != nil {
				continue
			}
			switch part.Type {
			case "text":
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(part.Text)
			case "image":
				hasImage = true
			}
		}
		return b.String(), hasImage
	default:
		return "", false
	}
}
