package caption

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/54b3r/astrorag-go/internal/langpolicy"
)

// ErrNoJSON is returned when the model reply contains no parseable JSON object.
var ErrNoJSON = errors.New("caption: model output is not JSON")

// jsonObject matches from the first '{' to the last '}' across lines.
var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// parseOutput extracts the first-to-last brace span of text, decodes it and
// normalises the fields: strings are trimmed and checked against the
// language policy; scalars inside lists are formatted as text.
func parseOutput(text string) (*Result, error) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return nil, ErrNoJSON
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}

	caption, err := langpolicy.Enforce(strings.TrimSpace(str(obj["caption"])))
	if err != nil {
		return nil, fmt.Errorf("caption: caption: %w", err)
	}
	entities, err := langpolicy.EnforceAll(strList(obj["entities"]))
	if err != nil {
		return nil, fmt.Errorf("caption: entities: %w", err)
	}
	bullets, err := langpolicy.EnforceAll(strList(obj["bullets"]))
	if err != nil {
		return nil, fmt.Errorf("caption: bullets: %w", err)
	}
	return &Result{Caption: caption, Entities: entities, Bullets: bullets}, nil
}

// str formats a decoded JSON value as text. A missing value is "".
func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// strList converts a decoded JSON array into trimmed strings. Anything other
// than an array yields nil.
func strList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, x := range arr {
		out = append(out, strings.TrimSpace(str(x)))
	}
	return out
}
