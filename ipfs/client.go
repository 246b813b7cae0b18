// Package ipfs talks to a storage-network node over the HTTP RPC API.
//
// Each Client binds one node's endpoint. Workloads that touch several nodes
// construct one Client per node and pass it explicitly; there is no
// process-wide current node.
package ipfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds every network call; fetch, add and pin are all
// per-item operations that must fail fast rather than stall a run.
const DefaultTimeout = 30 * time.Second

var ErrUnreachable = errors.New("storage network unreachable")

type Client struct {
	rest *resty.Client
	url  string
}

// NewClient binds a client to an API base URL, e.g. "http://127.0.0.1:5001".
func NewClient(apiURL string) *Client {
	rest := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(DefaultTimeout)
	return &Client{rest: rest, url: apiURL}
}

// NewClientFromPath resolves the endpoint from a node repo directory by
// reading its api file, the node's published multiaddr.
func NewClientFromPath(repoPath string) (*Client, error) {
	raw, err := os.ReadFile(filepath.Join(repoPath, "api"))
	if err != nil {
		return nil, fmt.Errorf("read api file in %s: %w", repoPath, err)
	}
	apiURL, err := multiaddrToURL(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, err
	}
	return NewClient(apiURL), nil
}

// URL returns the bound API base URL.
func (c *Client) URL() string {
	return c.url
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Cat fetches content by CID.
func (c *Client) Cat(ctx context.Context, cid string) (string, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("arg", cid).
		Post("/api/v0/cat")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("cat %s: %s", cid, strings.TrimSpace(resp.String()))
	}
	return resp.String(), nil
}

// Add submits content and returns the network's canonical CID for it.
func (c *Client) Add(ctx context.Context, content string) (string, error) {
	return c.add(ctx, content, false)
}

// OnlyHash derives the canonical CID without storing the content on the
// node. The cache builder uses this: the CIDs are needed, the copies are not.
func (c *Client) OnlyHash(ctx context.Context, content string) (string, error) {
	return c.add(ctx, content, true)
}

func (c *Client) add(ctx context.Context, content string, onlyHash bool) (string, error) {
	result := addResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("pin", "false").
		SetQueryParam("only-hash", fmt.Sprintf("%t", onlyHash)).
		SetQueryParam("quiet", "true").
		SetMultipartField("file", "token", "application/octet-stream", strings.NewReader(content)).
		SetResult(&result).
		Post("/api/v0/add")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("add: %s", strings.TrimSpace(resp.String()))
	}
	if result.Hash == "" {
		return "", fmt.Errorf("add: empty hash in response")
	}
	return result.Hash, nil
}

// Pin instructs the node to retain the content durably.
func (c *Client) Pin(ctx context.Context, cid string) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("arg", cid).
		Post("/api/v0/pin/add")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("pin %s: %s", cid, strings.TrimSpace(resp.String()))
	}
	return nil
}

// IsPinned reports whether the node already pins the CID.
func (c *Client) IsPinned(ctx context.Context, cid string) (bool, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("arg", cid).
		Post("/api/v0/pin/ls")
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.IsError() {
		// The RPC reports "not pinned" as an error body rather than an
		// empty result.
		if strings.Contains(resp.String(), "not pinned") {
			return false, nil
		}
		return false, fmt.Errorf("pin ls %s: %s", cid, strings.TrimSpace(resp.String()))
	}
	return true, nil
}

// multiaddrToURL converts the /ip4/H/tcp/P (or /dns4/H/tcp/P) address shape
// nodes publish in their api file into an HTTP base URL.
func multiaddrToURL(addr string) (string, error) {
	parts := strings.Split(strings.TrimPrefix(addr, "/"), "/")
	if len(parts) < 4 || parts[2] != "tcp" {
		return "", fmt.Errorf("unsupported api multiaddr %q", addr)
	}
	switch parts[0] {
	case "ip4", "ip6", "dns4", "dns6", "dns":
		host := parts[1]
		if parts[0] == "ip6" {
			host = "[" + host + "]"
		}
		return fmt.Sprintf("http://%s:%s", host, parts[3]), nil
	default:
		return "", fmt.Errorf("unsupported api multiaddr %q", addr)
	}
}
