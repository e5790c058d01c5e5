package vault

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mkarech/skyvault/internal/model"
)

// shareShape is the at-rest schema of a secret-shared field: clients send
// {"%allot": v}, the stored form on each node is {"%share": s}.
func shareShape() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"%share": map[string]any{"type": "string"},
		},
		"required": []any{"%share"},
	}
}

// TravelerCollection is the single versioned traveler schema. Earlier
// revisions of the system drifted between incompatible shapes; everything
// now targets this one. Event name and display name stay plaintext so
// queries and aggregation can touch them; travel details are secret-shared.
func TravelerCollection(id string) model.Collection {
	return model.Collection{
		ID:   id,
		Type: model.CollectionOwned,
		Name: "Traveler Profiles v1",
		Schema: map[string]any{
			"$schema":     "http://json-schema.org/draft-07/schema#",
			"type":        "array",
			"uniqueItems": true,
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"_id":               map[string]any{"type": "string", "format": "uuid"},
					"name":              map[string]any{"type": "string"},
					"event_name":        map[string]any{"type": "string"},
					"travel_date":       shareShape(),
					"departure_airport": shareShape(),
					"destination":       shareShape(),
					"gate_number":       shareShape(),
					"additional_note":   shareShape(),
				},
				"required": []any{"_id", "event_name"},
			},
		},
	}
}

// ValidateCollectionSchema checks a collection definition locally before it
// is sent anywhere: id, name and type must be set and the item schema must
// compile as JSON Schema.
func ValidateCollectionSchema(col model.Collection) error {
	if col.ID == "" {
		return errors.New("collection id required")
	}
	if col.Name == "" {
		return errors.New("collection name required")
	}
	if col.Type != model.CollectionOwned && col.Type != model.CollectionStandard {
		return fmt.Errorf("unknown collection type %q", col.Type)
	}
	if col.Schema == nil {
		return errors.New("collection schema required")
	}
	if _, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewGoLoader(col.Schema)); err != nil {
		return fmt.Errorf("compile collection schema: %w", err)
	}
	return nil
}
