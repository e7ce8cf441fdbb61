package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrMalformedReply means the model's reply held no parseable JSON object.
var ErrMalformedReply = errors.New("malformed model reply")

// cleanMarkdownWrapper strips ```json fences some models add around JSON.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// extractJSON returns the first JSON object in content.
func extractJSON(content string) (json.RawMessage, error) {
	content = cleanMarkdownWrapper(content)
	if json.Valid([]byte(content)) && strings.HasPrefix(content, "{") {
		return json.RawMessage(content), nil
	}

	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return nil, ErrMalformedReply
	}

	candidate := content[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, ErrMalformedReply
	}
	return json.RawMessage(candidate), nil
}
