// Package ai is the generative-text boundary used for ad-hoc natural-language
// filtering of decrypted records. Responses are requested as JSON and
// validated against a caller-supplied schema; malformed output is an error,
// never repaired.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Generator produces a text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerateStructured asks gen for JSON conforming to schema and validates
// the answer, failing closed. Models still occasionally fence their output,
// so a fence stripper runs before parsing; any parse or schema failure is
// terminal.
func GenerateStructured(ctx context.Context, gen Generator, prompt string, schema map[string]any) ([]byte, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	full := fmt.Sprintf("%s\n\nRespond with JSON only, no prose, conforming to this JSON Schema:\n%s", prompt, schemaJSON)

	raw, err := gen.Generate(ctx, full)
	if err != nil {
		return nil, err
	}
	cleaned := []byte(stripFences(raw))
	if !json.Valid(cleaned) {
		return nil, fmt.Errorf("model returned invalid JSON")
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewBytesLoader(cleaned))
	if err != nil {
		return nil, fmt.Errorf("validate model output: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("model output violates schema: %s", strings.Join(msgs, "; "))
	}
	return cleaned, nil
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// drop the language tag line
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
