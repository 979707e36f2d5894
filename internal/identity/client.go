package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultRequestTimeout = 5 * time.Second

// Client resolves identities against the identity service's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a resolver client for the given base URL.
// A nil httpClient gets a default with a 5s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

type resolveRequest struct {
	PrimaryID string `json:"primary_id"`
}

// Resolve calls POST /api/v1/identities and returns the current identifier
// pair. Any non-200 response is an error; the caller decides whether and how
// to retry.
func (c *Client) Resolve(ctx context.Context, primaryID string) (Identity, error) {
	body, err := json.Marshal(resolveRequest{PrimaryID: primaryID})
	if err != nil {
		return Identity{}, fmt.Errorf("identity: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/identities", bytes.NewReader(body))
	if err != nil {
		return Identity{}, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: resolve %q: %w", primaryID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return Identity{}, fmt.Errorf("identity: resolve %q: unexpected status %d", primaryID, resp.StatusCode)
	}

	var ident Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return Identity{}, fmt.Errorf("identity: decode response: %w", err)
	}
	if ident.PrimaryID == "" {
		return Identity{}, fmt.Errorf("identity: resolve %q: response missing primary_id", primaryID)
	}
	return ident, nil
}
