package puppetdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	inverrors "github.com/rcourtman/puppetdb-inventory/internal/errors"
	"github.com/rcourtman/puppetdb-inventory/pkg/tlsutil"
	"github.com/rs/zerolog/log"
)

const maxErrorBody = 4096

type Client struct {
	baseURL    string
	apiVersion int
	token      string
	httpClient *http.Client
}

type ClientConfig struct {
	Host       string
	Port       int
	Protocol   string // "http" or "https"
	APIVersion int    // 3 or 4
	Token      string // PE RBAC token
	VerifySSL  bool
	CAFile     string
	CertFile   string
	KeyFile    string
	Timeout    time.Duration
}

// Node is one entry of the nodes endpoint. PuppetDB v3 reports the node name
// as "name", v4 as "certname".
type Node struct {
	Certname    string     `json:"certname"`
	Name        string     `json:"name,omitempty"`
	Deactivated *string    `json:"deactivated,omitempty"`
	Expired     *string    `json:"expired,omitempty"`
	Environment string     `json:"catalog_environment,omitempty"`
	FactsAt     *time.Time `json:"facts_timestamp,omitempty"`
}

// ID returns the node's certname regardless of API version.
func (n Node) ID() string {
	if n.Certname != "" {
		return n.Certname
	}
	return n.Name
}

type Fact struct {
	Certname    string          `json:"certname"`
	Name        string          `json:"name"`
	Value       json.RawMessage `json:"value"`
	Environment string          `json:"environment,omitempty"`
}

type Resource struct {
	Certname string   `json:"certname"`
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Tags     []string `json:"tags"`
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "http"
	}
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 4
	}
	if cfg.APIVersion != 3 && cfg.APIVersion != 4 {
		return nil, fmt.Errorf("unsupported PuppetDB API version %d", cfg.APIVersion)
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
		if cfg.Protocol == "https" {
			cfg.Port = 8081
		}
	}

	if cfg.Protocol == "http" && cfg.Token != "" {
		log.Warn().Str("host", cfg.Host).Msg("Sending PuppetDB token over HTTP - consider enabling HTTPS")
	}

	httpClient, err := tlsutil.CreateHTTPClient(tlsutil.Options{
		VerifySSL: cfg.VerifySSL,
		CAFile:    cfg.CAFile,
		CertFile:  cfg.CertFile,
		KeyFile:   cfg.KeyFile,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, inverrors.WrapConfigError("create_client", err)
	}

	base := url.URL{
		Scheme: cfg.Protocol,
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}

	return &Client{
		baseURL:    base.String(),
		apiVersion: cfg.APIVersion,
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the scheme://host:port the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) endpoint(parts ...string) string {
	prefix := "/pdb/query/v4"
	if c.apiVersion == 3 {
		prefix = "/v3"
	}
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return prefix + "/" + strings.Join(escaped, "/")
}

func (c *Client) getJSON(ctx context.Context, op, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return inverrors.NewInventoryError(inverrors.ErrorTypeAPI, op, err)
	}
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("X-Authentication", c.token)
	}

	log.Debug().Str("op", op).Str("url", req.URL.String()).Msg("Querying PuppetDB")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if inverrors.IsTimeout(err) {
			return inverrors.NewInventoryError(inverrors.ErrorTypeTimeout, op, err)
		}
		return inverrors.WrapConnectionError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return inverrors.WrapAuthError(op, apiErr, resp.StatusCode)
		}
		return inverrors.WrapAPIError(op, apiErr, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return inverrors.NewInventoryError(inverrors.ErrorTypeAPI, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// Nodes lists the active nodes known to PuppetDB.
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	var nodes []Node
	if err := c.getJSON(ctx, "list_nodes", c.endpoint("nodes"), nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// NodeFacts returns every fact reported by node.
func (c *Client) NodeFacts(ctx context.Context, node string) ([]Fact, error) {
	var facts []Fact
	if err := c.getJSON(ctx, "node_facts", c.endpoint("nodes", node, "facts"), nil, &facts); err != nil {
		return nil, withNode(err, node)
	}
	return facts, nil
}

// TaggedNodes returns the sorted, distinct certnames of nodes carrying a
// resource of resourceType tagged with tag.
func (c *Client) TaggedNodes(ctx context.Context, resourceType, tag string) ([]string, error) {
	query, err := json.Marshal([]string{"=", "tag", tag})
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("query", string(query))

	var resources []Resource
	if err := c.getJSON(ctx, "tagged_resources", c.endpoint("resources", resourceType), params, &resources); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(resources))
	nodes := make([]string, 0, len(resources))
	for _, r := range resources {
		if _, ok := seen[r.Certname]; ok || r.Certname == "" {
			continue
		}
		seen[r.Certname] = struct{}{}
		nodes = append(nodes, r.Certname)
	}
	sort.Strings(nodes)
	return nodes, nil
}

func withNode(err error, node string) error {
	var invErr *inverrors.InventoryError
	if errors.As(err, &invErr) {
		return invErr.WithNode(node)
	}
	return err
}
