package vaulttest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkarech/skyvault/internal/model"
)

func countQuery() model.Query {
	return model.Query{
		ID: "q1",
		Variables: map[string]model.QueryVariable{
			"event": {Path: "$.pipeline[0].$match.event_name"},
		},
		Pipeline: []map[string]any{
			{"$match": map[string]any{"event_name": ""}},
			{"$count": "travelers"},
		},
	}
}

func TestBindVariables(t *testing.T) {
	q := countQuery()
	pipeline, err := bindVariables(q, map[string]any{"event": "Hackathon"})
	require.NoError(t, err)

	match := pipeline[0]["$match"].(map[string]any)
	require.Equal(t, "Hackathon", match["event_name"])

	// the query's own pipeline stays untouched
	orig := q.Pipeline[0]["$match"].(map[string]any)
	require.Equal(t, "", orig["event_name"])
}

func TestBindVariablesMissingValue(t *testing.T) {
	_, err := bindVariables(countQuery(), nil)
	require.Error(t, err)
}

func TestBindVariablesBadPath(t *testing.T) {
	q := countQuery()
	for _, path := range []string{
		"event_name",
		"$.pipeline[9].$match.event_name",
		"$.pipeline[0]",
		"$.pipeline[0].$count.x",
	} {
		q.Variables = map[string]model.QueryVariable{"event": {Path: path}}
		_, err := bindVariables(q, map[string]any{"event": "x"})
		require.Error(t, err, path)
	}
}

func TestRunPipeline(t *testing.T) {
	input := []model.Record{
		{"event_name": "Hackathon"},
		{"event_name": "Hackathon"},
		{"event_name": "Concert"},
	}

	out, err := runPipeline([]map[string]any{
		{"$match": map[string]any{"event_name": "Hackathon"}},
	}, input)
	require.NoError(t, err)
	require.Len(t, out, 2)

	out, err = runPipeline([]map[string]any{
		{"$match": map[string]any{"event_name": "Hackathon"}},
		{"$count": "travelers"},
	}, input)
	require.NoError(t, err)
	require.Equal(t, []model.Record{{"travelers": 2}}, out)

	out, err = runPipeline([]map[string]any{
		{"$match": map[string]any{"event_name": "Nothing"}},
	}, input)
	require.NoError(t, err)
	require.Empty(t, out)

	_, err = runPipeline([]map[string]any{{"$unwind": "x"}}, input)
	require.Error(t, err)
}
