package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mkarech/skyvault/internal/errs"
)

const (
	defaultCallTimeout = 10 * time.Second
	maxCallRetries     = 3
)

// nodeClient speaks JSON-over-HTTP to a single endpoint (storage node or
// auth service). Every call carries its own timeout and bounded
// exponential-backoff retry on transient failures.
type nodeClient struct {
	base    string
	did     string
	hc      *http.Client
	timeout time.Duration
}

func newNodeClient(base string, hc *http.Client) *nodeClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &nodeClient{base: base, hc: hc, timeout: defaultCallTimeout}
}

// about resolves and caches the endpoint's DID.
func (c *nodeClient) about(ctx context.Context) (string, error) {
	if c.did != "" {
		return c.did, nil
	}
	var out AboutResponse
	if err := c.call(ctx, http.MethodGet, PathAbout, "", nil, &out); err != nil {
		return "", err
	}
	c.did = out.DID
	return c.did, nil
}

func (c *nodeClient) get(ctx context.Context, path, token string, out any) error {
	return c.call(ctx, http.MethodGet, path, token, nil, out)
}

func (c *nodeClient) post(ctx context.Context, path, token string, in, out any) error {
	return c.call(ctx, http.MethodPost, path, token, in, out)
}

func (c *nodeClient) call(ctx context.Context, method, path, token string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}

	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(callCtx, method, c.base+path, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrRemoteCall, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("%w: decode response: %v", errs.ErrRemoteCall, err))
			}
			return nil
		}

		var eb ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		mapped := fmt.Errorf("%w: %s %s: %s", CodeToErr(eb.Error), method, path, eb.Message)
		if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable {
			return mapped
		}
		return backoff.Permanent(mapped)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxCallRetries), ctx)
	return backoff.Retry(op, bo)
}
