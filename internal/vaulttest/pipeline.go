package vaulttest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mkarech/skyvault/internal/model"
)

var errMissingID = errors.New("record is missing _id")

// bindVariables resolves a query's named variables into a fresh copy of its
// pipeline. Paths have the shape "$.pipeline[<idx>].<key>...".
func bindVariables(q model.Query, values map[string]any) ([]map[string]any, error) {
	pipeline, err := clonePipeline(q.Pipeline)
	if err != nil {
		return nil, err
	}
	for name, spec := range q.Variables {
		value, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("missing variable %q", name)
		}
		if err := setPath(pipeline, spec.Path, value); err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
	}
	return pipeline, nil
}

func clonePipeline(pipeline []map[string]any) ([]map[string]any, error) {
	raw, err := json.Marshal(pipeline)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func setPath(pipeline []map[string]any, path string, value any) error {
	rest, ok := strings.CutPrefix(path, "$.pipeline[")
	if !ok {
		return fmt.Errorf("unsupported path %q", path)
	}
	idxStr, rest, ok := strings.Cut(rest, "]")
	if !ok {
		return fmt.Errorf("unsupported path %q", path)
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 || idx >= len(pipeline) {
		return fmt.Errorf("stage index out of range in %q", path)
	}
	keys := strings.Split(strings.TrimPrefix(rest, "."), ".")
	if len(keys) == 0 || keys[0] == "" {
		return fmt.Errorf("unsupported path %q", path)
	}

	cur := pipeline[idx]
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return fmt.Errorf("path %q does not resolve to an object", path)
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
	return nil
}

// runPipeline evaluates the supported aggregation stages ($match by
// plaintext equality, $count) over the caller-visible records.
func runPipeline(pipeline []map[string]any, input []model.Record) ([]model.Record, error) {
	rows := input
	for i, stage := range pipeline {
		switch {
		case stage["$match"] != nil:
			cond, ok := stage["$match"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("stage %d: $match needs an object", i)
			}
			var kept []model.Record
			for _, rec := range rows {
				if matchesFilter(rec, cond) {
					kept = append(kept, rec)
				}
			}
			rows = kept
		case stage["$count"] != nil:
			name, ok := stage["$count"].(string)
			if !ok {
				return nil, fmt.Errorf("stage %d: $count needs a field name", i)
			}
			rows = []model.Record{{name: len(rows)}}
		default:
			return nil, fmt.Errorf("stage %d: unsupported stage", i)
		}
	}
	if rows == nil {
		rows = []model.Record{}
	}
	return rows, nil
}

func schemaErrors(result *gojsonschema.Result) error {
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema validation: %s", strings.Join(msgs, "; "))
}
