// Package vault implements the client side of the vault network protocol:
// builder and user clients over the node HTTP API, with client-side secret
// sharing, per-node invocation tokens and majority-quorum fan-out.
package vault

import (
	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/model"
)

// Node API paths. The reference node in internal/vaulttest serves the same
// surface the production cluster exposes.
const (
	PathAbout      = "/v1/about"
	PathRegister   = "/v1/register"
	PathProfile    = "/v1/profile"
	PathCollection = "/v1/collections"
	PathDataCreate = "/v1/data/create"
	PathDataRead   = "/v1/data/read"
	PathDataFind   = "/v1/data/find"
	PathDataUpdate = "/v1/data/update"
	PathDataDelete = "/v1/data/delete"
	PathDataRefs   = "/v1/data/references"
	PathACLGrant   = "/v1/data/acl/grant"
	PathACLRevoke  = "/v1/data/acl/revoke"
	PathQueries    = "/v1/queries"
	PathQueriesRun = "/v1/queries/run"
)

// Auth service paths.
const (
	PathAuthAbout        = "/v1/about"
	PathAuthSubscription = "/v1/subscriptions/"
	PathAuthToken        = "/v1/token"
)

// Stable error codes carried in the error envelope of failed calls.
const (
	CodeNoSubscription  = "NoSubscriptionError"
	CodeInvalidToken    = "InvalidTokenError"
	CodeProfileNotFound = "ProfileNotFoundError"
	CodeDuplicateEntry  = "DuplicateEntryError"
	CodeAccessDenied    = "AccessDeniedError"
	CodeNotOwner        = "NotOwnerError"
	CodeNotFound        = "NotFoundError"
)

// ErrorBody is the JSON envelope of any failed node or auth-service call.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CodeToErr maps a wire error code onto the sentinel taxonomy.
func CodeToErr(code string) error {
	switch code {
	case CodeNoSubscription:
		return errs.ErrNoSubscription
	case CodeInvalidToken:
		return errs.ErrInvalidToken
	case CodeProfileNotFound:
		return errs.ErrProfileNotFound
	case CodeDuplicateEntry:
		return errs.ErrDuplicateEntry
	case CodeAccessDenied:
		return errs.ErrAccessDenied
	case CodeNotOwner:
		return errs.ErrNotOwner
	case CodeNotFound:
		return errs.ErrNotFound
	default:
		return errs.ErrRemoteCall
	}
}

// AboutResponse identifies a node or the auth service.
type AboutResponse struct {
	DID string `json:"did"`
}

// RegisterRequest registers a builder profile.
type RegisterRequest struct {
	DID  string `json:"did"`
	Name string `json:"name"`
}

// ProfileResponse wraps a profile read.
type ProfileResponse struct {
	Data model.Profile `json:"data"`
}

// CreateDataRequest writes owned records into a collection. Data carries this
// node's share variants; the ACL names the secondary grantee.
type CreateDataRequest struct {
	Collection string         `json:"collection"`
	Owner      string         `json:"owner"`
	ACL        *model.ACL     `json:"acl,omitempty"`
	Data       []model.Record `json:"data"`
}

// CreateDataResponse acknowledges created document ids on one node.
type CreateDataResponse struct {
	Created []string `json:"created"`
}

// ReadDataRequest addresses one document.
type ReadDataRequest struct {
	Collection string `json:"collection"`
	Document   string `json:"document"`
}

// ReadDataResponse returns this node's variant of the document.
type ReadDataResponse struct {
	Data model.Record `json:"data"`
}

// FindDataRequest filters a collection by plaintext field equality.
type FindDataRequest struct {
	Collection string         `json:"collection"`
	Filter     map[string]any `json:"filter,omitempty"`
}

// FindDataResponse returns this node's variants of the matched documents.
type FindDataResponse struct {
	Data []model.Record `json:"data"`
}

// UpdateDataRequest replaces the payload of one document. Update carries
// this node's share variant of the new payload.
type UpdateDataRequest struct {
	Collection string       `json:"collection"`
	Document   string       `json:"document"`
	Update     model.Record `json:"update"`
}

// DeleteDataRequest removes one document.
type DeleteDataRequest struct {
	Collection string `json:"collection"`
	Document   string `json:"document"`
}

// ReferencesResponse lists the calling identity's owned documents.
type ReferencesResponse struct {
	Data []model.DataReference `json:"data"`
}

// GrantRequest adds or updates a grantee's permission triple on a document.
type GrantRequest struct {
	Collection string    `json:"collection"`
	Document   string    `json:"document"`
	ACL        model.ACL `json:"acl"`
}

// RevokeRequest removes a grantee from a document's ACL.
type RevokeRequest struct {
	Collection string `json:"collection"`
	Document   string `json:"document"`
	Grantee    string `json:"grantee"`
}

// RunQueryRequest executes a registered query with variable bindings.
type RunQueryRequest struct {
	ID        string         `json:"_id"`
	Variables map[string]any `json:"variables,omitempty"`
}

// RunQueryResponse returns the pipeline output rows.
type RunQueryResponse struct {
	Data []model.Record `json:"data"`
}

// SubscriptionResponse reports whether a DID holds an active plan.
type SubscriptionResponse struct {
	Subscribed bool `json:"subscribed"`
}

// TokenRequest asks the auth service for a root token.
type TokenRequest struct {
	DID string `json:"did"`
}

// TokenResponse carries the issued root token.
type TokenResponse struct {
	Token string `json:"token"`
}
