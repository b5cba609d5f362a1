package docgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yoyaba/gtmdocs/pkg/models"
)

// ErrUnparsableOutput means the provider output held no usable JSON object.
var ErrUnparsableOutput = errors.New("research output is not parsable JSON")

// ParseResearchResult extracts the section map from raw provider output. The
// model is instructed to return bare JSON but frequently wraps it in prose or
// a fenced code block, so parsing falls back to the outermost object literal.
// Non-string section values are re-serialized so nothing is silently dropped.
func ParseResearchResult(output string) (models.ResearchResult, error) {
	candidates := []string{strings.TrimSpace(output)}
	if fenced := extractFenced(output); fenced != "" {
		candidates = append(candidates, fenced)
	}
	if embedded := extractObject(output); embedded != "" {
		candidates = append(candidates, embedded)
	}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
			continue
		}
		return coerceSections(raw), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnparsableOutput, truncate(output, 120))
}

func coerceSections(raw map[string]json.RawMessage) models.ResearchResult {
	result := make(models.ResearchResult, len(raw))
	for key, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			result[key] = s
			continue
		}
		result[key] = string(value)
	}
	return result
}

// extractFenced returns the content of the first ``` fence, tolerating an
// optional language tag.
func extractFenced(output string) string {
	_, rest, found := strings.Cut(output, "```")
	if !found {
		return ""
	}
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "json" || firstLine == "" {
			rest = rest[nl+1:]
		}
	}
	content, _, found := strings.Cut(rest, "```")
	if !found {
		return ""
	}
	return strings.TrimSpace(content)
}

// extractObject returns the slice from the first '{' to the last '}'.
func extractObject(output string) string {
	start := strings.IndexByte(output, '{')
	end := strings.LastIndexByte(output, '}')
	if start < 0 || end <= start {
		return ""
	}
	return output[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
