// Package model defines domain entities shared by the vault clients and services.
package model

import "time"

// ACL grants a single grantee DID an independent permission triple on one document.
type ACL struct {
	Grantee string `json:"grantee"`
	Read    bool   `json:"read"`
	Write   bool   `json:"write"`
	Execute bool   `json:"execute"`
}

// Record is a single document payload. Fields wrapped as {"%allot": v} are
// secret-shared by the client before transmission; at rest each node holds
// {"%share": s} in their place.
type Record map[string]any

// ID returns the record's _id field, if present.
func (r Record) ID() string {
	id, _ := r["_id"].(string)
	return id
}

// DataReference identifies one owned document.
type DataReference struct {
	Collection string `json:"collection"`
	Document   string `json:"document"`
}

// CollectionType distinguishes user-owned collections from builder-owned ones.
type CollectionType string

const (
	CollectionOwned    CollectionType = "owned"
	CollectionStandard CollectionType = "standard"
)

// Collection is a schema-typed container provisioned once by a builder.
type Collection struct {
	ID     string         `json:"_id"`
	Type   CollectionType `json:"type"`
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

// Profile is a builder's registration record at the storage network.
type Profile struct {
	DID  string `json:"did"`
	Name string `json:"name"`
}

// Node identifies one storage node of the cluster.
type Node struct {
	URL string `json:"url"`
	DID string `json:"did"`
}

// Query is a named, parameterized aggregation registered against a collection.
type Query struct {
	ID         string                   `json:"_id"`
	Name       string                   `json:"name"`
	Collection string                   `json:"collection"`
	Variables  map[string]QueryVariable `json:"variables"`
	Pipeline   []map[string]any         `json:"pipeline"`
}

// QueryVariable binds a named runtime value into the pipeline via a JSONPath.
type QueryVariable struct {
	Description string `json:"description"`
	Path        string `json:"path"`
}

// SessionState is the persisted part of a bootstrapped session: the root
// capability and one invocation token per storage node, keyed by node DID.
type SessionState struct {
	DID        string            `json:"did"`
	RootToken  string            `json:"rootToken"`
	NodeTokens map[string]string `json:"nodeTokens"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Traveler is the application-level view of one decrypted travel record.
type Traveler struct {
	ID               string `json:"_id"`
	Name             string `json:"name,omitempty"`
	EventName        string `json:"event_name"`
	TravelDate       string `json:"travel_date,omitempty"`
	DepartureAirport string `json:"departure_airport,omitempty"`
	Destination      string `json:"destination,omitempty"`
	GateNumber       string `json:"gate_number,omitempty"`
	AdditionalNote   string `json:"additional_note,omitempty"`
}

// Event aggregates travelers that share an event name.
type Event struct {
	EventName         string   `json:"event_name"`
	TravelDates       []string `json:"travel_dates"`
	DepartureAirports []string `json:"departure_airports"`
	Travelers         int      `json:"travelers"`
}
