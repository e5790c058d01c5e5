package vaulttest

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/xeipuuv/gojsonschema"

	"github.com/mkarech/skyvault/internal/identity"
	"github.com/mkarech/skyvault/internal/model"
	"github.com/mkarech/skyvault/internal/nuc"
	"github.com/mkarech/skyvault/internal/vault"
)

// node-local operation paths checked against the caller's granted command.
const (
	opRegister = "/vault/register"
	opProfile  = "/vault/profile"
)

type document struct {
	owner string
	acl   map[string]model.ACL
	data  model.Record
}

// Node is one in-memory storage node. It validates capability chains,
// enforces ownership and ACLs, and stores its local share variants.
type Node struct {
	kp        *identity.Keypair
	validator *nuc.Validator

	mu          sync.Mutex
	profiles    map[string]model.Profile
	collections map[string]model.Collection
	itemSchemas map[string]*gojsonschema.Schema
	docs        map[string]map[string]*document
	queries     map[string]model.Query

	e *echo.Echo
}

// NewNode creates a node trusting authorityDID as chain anchor.
func NewNode(authorityDID string) (*Node, error) {
	kp, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	n := &Node{
		kp: kp,
		validator: &nuc.Validator{
			RootIssuers:     []string{authorityDID},
			AllowSelfIssued: true,
		},
		profiles:    map[string]model.Profile{},
		collections: map[string]model.Collection{},
		itemSchemas: map[string]*gojsonschema.Schema{},
		docs:        map[string]map[string]*document{},
		queries:     map[string]model.Query{},
	}
	n.routes()
	return n, nil
}

// DID returns the node identifier; invocation tokens must be addressed to it.
func (n *Node) DID() string { return n.kp.DID() }

// Handler exposes the node API for httptest servers.
func (n *Node) Handler() http.Handler { return n.e }

func (n *Node) routes() {
	n.e = echo.New()
	n.e.HideBanner = true
	n.e.GET(vault.PathAbout, func(c echo.Context) error {
		return c.JSON(http.StatusOK, vault.AboutResponse{DID: n.kp.DID()})
	})
	n.e.POST(vault.PathRegister, n.handleRegister)
	n.e.GET(vault.PathProfile, n.handleProfile)
	n.e.POST(vault.PathCollection, n.handleCreateCollection)
	n.e.GET(vault.PathCollection+"/:id", n.handleGetCollection)
	n.e.POST(vault.PathDataCreate, n.handleDataCreate)
	n.e.POST(vault.PathDataRead, n.handleDataRead)
	n.e.POST(vault.PathDataFind, n.handleDataFind)
	n.e.POST(vault.PathDataUpdate, n.handleDataUpdate)
	n.e.POST(vault.PathDataDelete, n.handleDataDelete)
	n.e.GET(vault.PathDataRefs, n.handleDataRefs)
	n.e.POST(vault.PathACLGrant, n.handleGrant)
	n.e.POST(vault.PathACLRevoke, n.handleRevoke)
	n.e.POST(vault.PathQueries, n.handleCreateQuery)
	n.e.POST(vault.PathQueriesRun, n.handleRunQuery)
}

// caller authenticates the request: the bearer token must be a valid chain
// addressed to this node whose command covers op. Returns the leaf token;
// its issuer is the calling identity.
func (n *Node) caller(c echo.Context, op string) (*nuc.Token, error) {
	header := c.Request().Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized)
	}
	tok, err := n.validator.ParseInvocation(raw, n.kp.DID(), op)
	if err != nil {
		return nil, unauthorized(c, err.Error())
	}
	return tok, nil
}

// delegated additionally rejects self-issued chains: the operation acts on
// behalf of a builder capability and must anchor at the authority.
func (n *Node) delegated(c echo.Context, op string) (*nuc.Token, error) {
	tok, err := n.caller(c, op)
	if err != nil {
		return nil, err
	}
	if tok.SelfIssued() {
		return nil, unauthorized(c, "operation requires an authority-rooted capability")
	}
	return tok, nil
}

func (n *Node) handleRegister(c echo.Context) error {
	tok, err := n.delegated(c, opRegister)
	if err != nil {
		return err
	}
	var req vault.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if req.DID != tok.Claims.Issuer {
		return c.JSON(http.StatusForbidden, vault.ErrorBody{
			Error: vault.CodeAccessDenied, Message: "cannot register a profile for another DID",
		})
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.profiles[req.DID]; exists {
		return c.JSON(http.StatusConflict, vault.ErrorBody{Error: vault.CodeDuplicateEntry, Message: "profile exists"})
	}
	n.profiles[req.DID] = model.Profile{DID: req.DID, Name: req.Name}
	return c.JSON(http.StatusCreated, map[string]any{})
}

func (n *Node) handleProfile(c echo.Context) error {
	tok, err := n.delegated(c, opProfile)
	if err != nil {
		return err
	}
	n.mu.Lock()
	profile, ok := n.profiles[tok.Claims.Issuer]
	n.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, vault.ErrorBody{Error: vault.CodeProfileNotFound, Message: "no profile for " + tok.Claims.Issuer})
	}
	return c.JSON(http.StatusOK, vault.ProfileResponse{Data: profile})
}

func (n *Node) handleCreateCollection(c echo.Context) error {
	if _, err := n.delegated(c, nuc.CmdCollectionsCreate); err != nil {
		return err
	}
	var col model.Collection
	if err := c.Bind(&col); err != nil {
		return badRequest(c, err)
	}
	if err := vault.ValidateCollectionSchema(col); err != nil {
		return badRequest(c, err)
	}
	items, _ := col.Schema["items"].(map[string]any)
	itemSchema, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewGoLoader(items))
	if err != nil {
		return badRequest(c, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.collections[col.ID]; exists {
		return c.JSON(http.StatusConflict, vault.ErrorBody{Error: vault.CodeDuplicateEntry, Message: "collection exists"})
	}
	n.collections[col.ID] = col
	n.itemSchemas[col.ID] = itemSchema
	n.docs[col.ID] = map[string]*document{}
	return c.JSON(http.StatusCreated, map[string]any{})
}

func (n *Node) handleGetCollection(c echo.Context) error {
	if _, err := n.delegated(c, nuc.CmdDataFind); err != nil {
		return err
	}
	n.mu.Lock()
	col, ok := n.collections[c.Param("id")]
	n.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, vault.ErrorBody{Error: vault.CodeNotFound, Message: "no such collection"})
	}
	return c.JSON(http.StatusOK, col)
}

func (n *Node) handleDataCreate(c echo.Context) error {
	tok, err := n.delegated(c, nuc.CmdDataCreate)
	if err != nil {
		return err
	}
	var req vault.CreateDataRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if req.Owner != tok.Claims.Issuer {
		return c.JSON(http.StatusForbidden, vault.ErrorBody{
			Error: vault.CodeNotOwner, Message: "owner must be the calling identity",
		})
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	docs, ok := n.docs[req.Collection]
	if !ok {
		return c.JSON(http.StatusNotFound, vault.ErrorBody{Error: vault.CodeNotFound, Message: "no such collection"})
	}
	itemSchema := n.itemSchemas[req.Collection]

	var created []string
	for _, rec := range req.Data {
		id := rec.ID()
		if id == "" {
			return badRequest(c, errMissingID)
		}
		if _, exists := docs[id]; exists {
			return c.JSON(http.StatusConflict, vault.ErrorBody{Error: vault.CodeDuplicateEntry, Message: "document " + id + " exists"})
		}
		if itemSchema != nil {
			result, err := itemSchema.Validate(gojsonschema.NewGoLoader(rec))
			if err != nil {
				return badRequest(c, err)
			}
			if !result.Valid() {
				return badRequest(c, schemaErrors(result))
			}
		}
		acl := map[string]model.ACL{}
		if req.ACL != nil {
			acl[req.ACL.Grantee] = *req.ACL
		}
		docs[id] = &document{owner: req.Owner, acl: acl, data: rec}
		created = append(created, id)
	}
	return c.JSON(http.StatusCreated, vault.CreateDataResponse{Created: created})
}

func (n *Node) handleDataRead(c echo.Context) error {
	tok, err := n.caller(c, nuc.CmdDataRead)
	if err != nil {
		return err
	}
	var req vault.ReadDataRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	doc, httpErr := n.lookup(c, req.Collection, req.Document)
	if doc == nil {
		return httpErr
	}
	caller := tok.Claims.Issuer
	if doc.owner != caller && !doc.acl[caller].Read {
		return c.JSON(http.StatusForbidden, vault.ErrorBody{Error: vault.CodeAccessDenied, Message: "no read grant"})
	}
	return c.JSON(http.StatusOK, vault.ReadDataResponse{Data: doc.data})
}

func (n *Node) handleDataFind(c echo.Context) error {
	tok, err := n.caller(c, nuc.CmdDataFind)
	if err != nil {
		return err
	}
	var req vault.FindDataRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	docs, ok := n.docs[req.Collection]
	if !ok {
		return c.JSON(http.StatusNotFound, vault.ErrorBody{Error: vault.CodeNotFound, Message: "no such collection"})
	}
	caller := tok.Claims.Issuer
	var out []model.Record
	for _, id := range sortedIDs(docs) {
		doc := docs[id]
		if doc.owner != caller && !doc.acl[caller].Read {
			continue
		}
		if matchesFilter(doc.data, req.Filter) {
			out = append(out, doc.data)
		}
	}
	return c.JSON(http.StatusOK, vault.FindDataResponse{Data: out})
}

func (n *Node) handleDataUpdate(c echo.Context) error {
	tok, err := n.caller(c, nuc.CmdDataCreate)
	if err != nil {
		return err
	}
	var req vault.UpdateDataRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	doc, httpErr := n.lookup(c, req.Collection, req.Document)
	if doc == nil {
		return httpErr
	}
	caller := tok.Claims.Issuer
	if doc.owner != caller && !doc.acl[caller].Write {
		return c.JSON(http.StatusForbidden, vault.ErrorBody{Error: vault.CodeNotOwner, Message: "no write grant"})
	}
	for k, v := range req.Update {
		if k == "_id" {
			continue
		}
		doc.data[k] = v
	}
	return c.JSON(http.StatusOK, map[string]any{})
}

func (n *Node) handleDataDelete(c echo.Context) error {
	tok, err := n.caller(c, nuc.CmdDataDelete)
	if err != nil {
		return err
	}
	var req vault.DeleteDataRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	doc, httpErr := n.lookup(c, req.Collection, req.Document)
	if doc == nil {
		return httpErr
	}
	if doc.owner != tok.Claims.Issuer {
		return c.JSON(http.StatusForbidden, vault.ErrorBody{Error: vault.CodeNotOwner, Message: "only the owner may delete"})
	}
	delete(n.docs[req.Collection], req.Document)
	return c.JSON(http.StatusOK, map[string]any{})
}

func (n *Node) handleDataRefs(c echo.Context) error {
	tok, err := n.caller(c, nuc.CmdDataRead)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	caller := tok.Claims.Issuer
	refs := []model.DataReference{}
	for colID, docs := range n.docs {
		for _, id := range sortedIDs(docs) {
			if docs[id].owner == caller {
				refs = append(refs, model.DataReference{Collection: colID, Document: id})
			}
		}
	}
	return c.JSON(http.StatusOK, vault.ReferencesResponse{Data: refs})
}

func (n *Node) handleGrant(c echo.Context) error {
	tok, err := n.caller(c, nuc.CmdDataRead)
	if err != nil {
		return err
	}
	var req vault.GrantRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	doc, httpErr := n.lookup(c, req.Collection, req.Document)
	if doc == nil {
		return httpErr
	}
	if doc.owner != tok.Claims.Issuer {
		return c.JSON(http.StatusForbidden, vault.ErrorBody{Error: vault.CodeNotOwner, Message: "only the owner may grant"})
	}
	// Upsert keyed by grantee: repeating a grant leaves one entry.
	doc.acl[req.ACL.Grantee] = req.ACL
	return c.JSON(http.StatusOK, map[string]any{})
}

func (n *Node) handleRevoke(c echo.Context) error {
	tok, err := n.caller(c, nuc.CmdDataRead)
	if err != nil {
		return err
	}
	var req vault.RevokeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	doc, httpErr := n.lookup(c, req.Collection, req.Document)
	if doc == nil {
		return httpErr
	}
	if doc.owner != tok.Claims.Issuer {
		return c.JSON(http.StatusForbidden, vault.ErrorBody{Error: vault.CodeNotOwner, Message: "only the owner may revoke"})
	}
	// Revoking an absent grant is a no-op.
	delete(doc.acl, req.Grantee)
	return c.JSON(http.StatusOK, map[string]any{})
}

func (n *Node) handleCreateQuery(c echo.Context) error {
	if _, err := n.delegated(c, nuc.CmdQueries); err != nil {
		return err
	}
	var q model.Query
	if err := c.Bind(&q); err != nil {
		return badRequest(c, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.collections[q.Collection]; !ok {
		return c.JSON(http.StatusNotFound, vault.ErrorBody{Error: vault.CodeNotFound, Message: "no such collection"})
	}
	if _, exists := n.queries[q.ID]; exists {
		return c.JSON(http.StatusConflict, vault.ErrorBody{Error: vault.CodeDuplicateEntry, Message: "query exists"})
	}
	n.queries[q.ID] = q
	return c.JSON(http.StatusCreated, map[string]any{})
}

func (n *Node) handleRunQuery(c echo.Context) error {
	tok, err := n.caller(c, nuc.CmdQueries)
	if err != nil {
		return err
	}
	var req vault.RunQueryRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	q, ok := n.queries[req.ID]
	if !ok {
		return c.JSON(http.StatusNotFound, vault.ErrorBody{Error: vault.CodeNotFound, Message: "no such query"})
	}
	pipeline, err := bindVariables(q, req.Variables)
	if err != nil {
		return badRequest(c, err)
	}

	caller := tok.Claims.Issuer
	var input []model.Record
	for _, id := range sortedIDs(n.docs[q.Collection]) {
		doc := n.docs[q.Collection][id]
		if doc.owner == caller || doc.acl[caller].Execute {
			input = append(input, doc.data)
		}
	}
	out, err := runPipeline(pipeline, input)
	if err != nil {
		return badRequest(c, err)
	}
	return c.JSON(http.StatusOK, vault.RunQueryResponse{Data: out})
}

// lookup must be called with the mutex held. On miss it writes the 404 and
// returns a nil document with the response error.
func (n *Node) lookup(c echo.Context, collection, id string) (*document, error) {
	docs, ok := n.docs[collection]
	if !ok {
		return nil, c.JSON(http.StatusNotFound, vault.ErrorBody{Error: vault.CodeNotFound, Message: "no such collection"})
	}
	doc, ok := docs[id]
	if !ok {
		return nil, c.JSON(http.StatusNotFound, vault.ErrorBody{Error: vault.CodeNotFound, Message: "no such document"})
	}
	return doc, nil
}

func sortedIDs(docs map[string]*document) []string {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func matchesFilter(rec model.Record, filter map[string]any) bool {
	for k, want := range filter {
		if rec[k] != want {
			return false
		}
	}
	return true
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, vault.ErrorBody{Error: "BadRequestError", Message: err.Error()})
}

// errUnauthorized signals that the 401 envelope has already been written.
// echo skips its error handler once a response is committed, so handlers can
// return it as-is after an authentication failure.
var errUnauthorized = errors.New("unauthorized")

func unauthorized(c echo.Context, msg string) error {
	if err := c.JSON(http.StatusUnauthorized, vault.ErrorBody{Error: vault.CodeInvalidToken, Message: msg}); err != nil {
		return err
	}
	return errUnauthorized
}
