package vaulttest

import (
	"net/http/httptest"
)

// Cluster bundles an auth service and N storage nodes behind httptest
// servers, ready for clients to dial.
type Cluster struct {
	Auth        *AuthService
	Nodes       []*Node
	authServer  *httptest.Server
	nodeServers []*httptest.Server
}

// NewCluster starts an authority and n nodes that trust it.
func NewCluster(n int) (*Cluster, error) {
	auth, err := NewAuthService()
	if err != nil {
		return nil, err
	}
	c := &Cluster{
		Auth:       auth,
		authServer: httptest.NewServer(auth.Handler()),
	}
	for i := 0; i < n; i++ {
		node, err := NewNode(auth.DID())
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Nodes = append(c.Nodes, node)
		c.nodeServers = append(c.nodeServers, httptest.NewServer(node.Handler()))
	}
	return c, nil
}

// AuthURL is the auth service endpoint.
func (c *Cluster) AuthURL() string { return c.authServer.URL }

// NodeURLs lists the node endpoints in cluster order.
func (c *Cluster) NodeURLs() []string {
	urls := make([]string, len(c.nodeServers))
	for i, s := range c.nodeServers {
		urls[i] = s.URL
	}
	return urls
}

// Close shuts every server down.
func (c *Cluster) Close() {
	if c.authServer != nil {
		c.authServer.Close()
	}
	for _, s := range c.nodeServers {
		s.Close()
	}
}
