// Package vaulttest provides in-memory reference implementations of the
// vault network's auth service and storage node. They enforce the real
// protocol rules (capability chains, ACLs, ownership, schemas) over
// in-memory state, backing package tests and local development. Not a
// production store.
package vaulttest

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mkarech/skyvault/internal/identity"
	"github.com/mkarech/skyvault/internal/nuc"
	"github.com/mkarech/skyvault/internal/vault"
)

// AuthService issues root capabilities to subscribed builder DIDs.
type AuthService struct {
	kp      *identity.Keypair
	rootTTL time.Duration

	mu         sync.Mutex
	subscribed map[string]bool
	subChecks  int

	e *echo.Echo
}

// NewAuthService creates an authority with a fresh keypair.
func NewAuthService() (*AuthService, error) {
	kp, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	a := &AuthService{
		kp:         kp,
		rootTTL:    time.Hour,
		subscribed: map[string]bool{},
	}
	a.e = echo.New()
	a.e.HideBanner = true
	a.e.GET(vault.PathAuthAbout, a.handleAbout)
	a.e.GET(vault.PathAuthSubscription+":did", a.handleSubscription)
	a.e.POST(vault.PathAuthToken, a.handleToken)
	return a, nil
}

// DID returns the authority identifier; chains must anchor here.
func (a *AuthService) DID() string { return a.kp.DID() }

// Handler exposes the HTTP surface for httptest servers.
func (a *AuthService) Handler() http.Handler { return a.e }

// Subscribe marks a builder DID as holding an active plan.
func (a *AuthService) Subscribe(did string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribed[did] = true
}

// SubscriptionChecks reports how many subscription lookups were served.
// The session resume path must not add to this count.
func (a *AuthService) SubscriptionChecks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subChecks
}

func (a *AuthService) handleAbout(c echo.Context) error {
	return c.JSON(http.StatusOK, vault.AboutResponse{DID: a.kp.DID()})
}

func (a *AuthService) handleSubscription(c echo.Context) error {
	a.mu.Lock()
	a.subChecks++
	subscribed := a.subscribed[c.Param("did")]
	a.mu.Unlock()
	return c.JSON(http.StatusOK, vault.SubscriptionResponse{Subscribed: subscribed})
}

func (a *AuthService) handleToken(c echo.Context) error {
	var req vault.TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, vault.ErrorBody{Error: "BadRequestError", Message: err.Error()})
	}
	a.mu.Lock()
	subscribed := a.subscribed[req.DID]
	a.mu.Unlock()
	if !subscribed {
		return c.JSON(http.StatusForbidden, vault.ErrorBody{
			Error: vault.CodeNoSubscription, Message: "no active plan for " + req.DID,
		})
	}
	tok, err := nuc.Issue(a.kp.Private(), a.kp.DID(), req.DID, nuc.CmdRoot, a.rootTTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, vault.ErrorBody{Error: "InternalError", Message: err.Error()})
	}
	return c.JSON(http.StatusOK, vault.TokenResponse{Token: tok})
}
