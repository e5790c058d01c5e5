package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGen struct {
	answer string
	err    error
	prompt string
}

func (f *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.answer, f.err
}

func travelerSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"_id":        map[string]any{"type": "string"},
				"event_name": map[string]any{"type": "string"},
			},
			"required": []any{"_id"},
		},
	}
}

func TestGenerateStructured(t *testing.T) {
	gen := &fakeGen{answer: `[{"_id":"r1","event_name":"Hackathon"}]`}

	out, err := GenerateStructured(context.Background(), gen, "find travelers", travelerSchema())
	require.NoError(t, err)
	require.JSONEq(t, `[{"_id":"r1","event_name":"Hackathon"}]`, string(out))

	// the schema rides along in the prompt
	require.Contains(t, gen.prompt, "find travelers")
	require.Contains(t, gen.prompt, `"required":["_id"]`)
}

func TestGenerateStructuredStripsFences(t *testing.T) {
	gen := &fakeGen{answer: "```json\n[{\"_id\":\"r1\"}]\n```"}

	out, err := GenerateStructured(context.Background(), gen, "p", travelerSchema())
	require.NoError(t, err)
	require.JSONEq(t, `[{"_id":"r1"}]`, string(out))
}

func TestGenerateStructuredInvalidJSON(t *testing.T) {
	gen := &fakeGen{answer: "Sure! Here are the travelers you asked for."}

	_, err := GenerateStructured(context.Background(), gen, "p", travelerSchema())
	require.Error(t, err)
}

func TestGenerateStructuredSchemaViolation(t *testing.T) {
	// valid JSON but missing the required _id
	gen := &fakeGen{answer: `[{"event_name":"Hackathon"}]`}

	_, err := GenerateStructured(context.Background(), gen, "p", travelerSchema())
	require.Error(t, err)
	require.Contains(t, err.Error(), "schema")
}

func TestGenerateStructuredPropagatesError(t *testing.T) {
	wantErr := errors.New("upstream down")
	gen := &fakeGen{err: wantErr}

	_, err := GenerateStructured(context.Background(), gen, "p", travelerSchema())
	require.ErrorIs(t, err, wantErr)
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"[1]":                     "[1]",
		"```json\n[1]\n```":       "[1]",
		"```\n[1]\n```":           "[1]",
		"  ```json\n[1,2]\n```  ": "[1,2]",
		"no fences, just text":    "no fences, just text",
	}
	for in, want := range cases {
		require.Equal(t, want, stripFences(in), "input %q", in)
	}
}
