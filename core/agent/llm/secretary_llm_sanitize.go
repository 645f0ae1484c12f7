package llm

import (
	"errors"
	"strings"

	"github.com/goccy/go-json"

	"secretary_server/core/domain"
	"secretary_server/pkg/apperr"
)

const fence = "```"

// ParseFailureMarker is stored in the sentinel result's error field.
const ParseFailureMarker = "LLM output not valid JSON"

var errNoObject = errors.New("no JSON object in model output")

// StripCodeFence removes a markdown code fence wrapped around model output.
//
// Single-line fences drop a leading ```json or ``` and the trailing ```.
// Multi-line fences keep everything between the first and last line, so
// interior lines that look like fences survive. When the outer lines are
// not both fences, every fence-looking line is dropped instead.
func StripCodeFence(raw string) string {
	text := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))
	if !strings.HasPrefix(text, fence) || !strings.HasSuffix(text, fence) {
		return text
	}

	if !strings.Contains(text, "\n") {
		for _, marker := range []string{fence + "json", fence} {
			if !strings.HasPrefix(text, marker) {
				continue
			}
			if len(text) >= len(marker)+len(fence) {
				text = text[len(marker) : len(text)-len(fence)]
			} else {
				text = ""
			}
			break
		}
		return strings.TrimSpace(text)
	}

	lines := strings.Split(text, "\n")
	last := len(lines) - 1
	if len(lines) > 2 && strings.HasPrefix(lines[0], fence) && strings.HasPrefix(lines[last], fence) {
		return strings.Join(lines[1:last], "\n")
	}

	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), fence) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// decodeObject strictly parses a JSON object.
func decodeObject(text string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, apperr.ExtractionParseError(err)
	}
	if m == nil {
		return nil, apperr.ExtractionParseError(errNoObject)
	}
	return m, nil
}

// ParseClassification applies the sanitation protocol to raw classification
// output. It never fails: unparseable text yields the unknown_format sentinel.
func ParseClassification(raw string) *domain.ClassificationResult {
	m, err := decodeObject(StripCodeFence(raw))
	if err != nil {
		return domain.UnknownFormat(ParseFailureMarker)
	}
	return domain.ClassificationFromMap(m)
}

// ExtractFirstJSONObject returns the first balanced {...} span of text.
// Braces inside JSON strings are ignored.
func ExtractFirstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseLegalMetadata finds the first JSON object in raw and coerces it.
// Failures are EXTRACTION_PARSE errors.
func ParseLegalMetadata(raw string) (*domain.LegalMetadata, error) {
	span, ok := ExtractFirstJSONObject(raw)
	if !ok {
		return nil, apperr.ExtractionParseError(errNoObject)
	}
	m, err := decodeObject(span)
	if err != nil {
		return nil, err
	}
	return domain.LegalMetadataFromMap(m), nil
}

// truncateBody cuts s to maxLen runes and appends an ellipsis when it did.
func truncateBody(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// truncateText cuts s to maxLen runes without a marker.
func truncateText(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
