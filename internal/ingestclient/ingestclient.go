// Package ingestclient is a JSON-over-HTTP client for the downstream
// ingest service: database/table registration, transaction lifecycle,
// chunk target location, and database publication.
package ingestclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/theory/jsonpath"
	"golang.org/x/time/rate"
)

// IngestError reports a non-success response from the ingest service.
type IngestError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingestclient: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to the ingest service's HTTP API.
type Client struct {
	baseURL    string
	authKey    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client (e.g. for custom
// timeouts or a transport in tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit bounds the rate of outbound requests to the ingest
// service, smoothing bursts from many concurrent coordinator sessions.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New creates a Client against baseURL (e.g. "http://localhost:25004")
// authenticating ingest-side operations with authKey.
func New(baseURL, authKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		authKey:    authKey,
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// do issues an HTTP request with a JSON body (nil for none) and decodes a
// JSON response into out (nil to discard the body). Any status outside
// 2xx becomes an *IngestError.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("ingestclient: %s: rate limiter: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ingestclient: %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return fmt.Errorf("ingestclient: %s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ingestclient: %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ingestclient: %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &IngestError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ingestclient: %s: decode response: %w", op, err)
	}
	return nil
}

// IsAlive checks ingest-service liveness via GET meta/version.
func (c *Client) IsAlive(ctx context.Context) (bool, error) {
	var resp struct {
		Success bool   `json:"success"`
		Version string `json:"version"`
	}
	if err := c.do(ctx, "meta/version", http.MethodGet, "meta/version", nil, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

// RegisterDatabase registers a database via its JSON configuration blob.
func (c *Client) RegisterDatabase(ctx context.Context, dbConfig json.RawMessage) error {
	return c.do(ctx, "register-database", http.MethodPost, "ingest/database", dbConfig, nil)
}

// RegisterTable registers a table schema via its JSON blob.
func (c *Client) RegisterTable(ctx context.Context, tableSchema json.RawMessage) error {
	return c.do(ctx, "register-table", http.MethodPost, "ingest/table", tableSchema, nil)
}

var transactionIDPath = mustParse("$.databases[*].transactions[0].id")

func mustParse(path string) *jsonpath.Path {
	p, err := jsonpath.Parse(path)
	if err != nil {
		panic("ingestclient: invalid jsonpath: " + err.Error())
	}
	return p
}

// BeginTransaction opens a new transaction on database db and returns its
// ingest-assigned id, extracted from the nested
// {databases:{<db>:{transactions:[{id}]}}} response shape via jsonpath
// since the database name is a variable map key.
func (c *Client) BeginTransaction(ctx context.Context, db string) (int, error) {
	reqBody := map[string]any{"database": db, "auth_key": c.authKey}
	var raw map[string]any
	if err := c.do(ctx, "begin-transaction", http.MethodPost, "ingest/trans", reqBody, &raw); err != nil {
		return 0, err
	}
	nodes := transactionIDPath.Select(raw)
	if len(nodes) == 0 {
		return 0, &IngestError{Op: "begin-transaction", StatusCode: 200, Body: "no transaction id in response"}
	}
	switch v := nodes[0].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, &IngestError{Op: "begin-transaction", StatusCode: 200, Body: fmt.Sprintf("unexpected id type %T", v)}
	}
}

// EndTransaction closes transaction id, committing unless abort is true.
func (c *Client) EndTransaction(ctx context.Context, db string, id int, abort bool) error {
	abortFlag := 0
	if abort {
		abortFlag = 1
	}
	path := fmt.Sprintf("ingest/trans/%d?abort=%d", id, abortFlag)
	reqBody := map[string]any{"database": db, "auth_key": c.authKey}
	return c.do(ctx, "end-transaction", http.MethodPut, path, reqBody, nil)
}

// ChunkLocation is the upload target returned by LocateChunk.
type ChunkLocation struct {
	Host string
	Port int
}

// LocateChunk asks the ingest service where to upload chunk's data within
// transactionID.
func (c *Client) LocateChunk(ctx context.Context, transactionID, chunk int) (ChunkLocation, error) {
	reqBody := map[string]any{"transaction_id": transactionID, "chunk": chunk, "auth_key": c.authKey}
	var resp struct {
		Location struct {
			Host string `json:"host"`
			Port int    `json:"port"`
		} `json:"location"`
	}
	if err := c.do(ctx, "locate-chunk", http.MethodPost, "ingest/chunk", reqBody, &resp); err != nil {
		return ChunkLocation{}, err
	}
	return ChunkLocation{Host: resp.Location.Host, Port: resp.Location.Port}, nil
}

// PublishDatabase finalizes db, making it queryable.
func (c *Client) PublishDatabase(ctx context.Context, db string) error {
	reqBody := map[string]any{"auth_key": c.authKey}
	return c.do(ctx, "publish-database", http.MethodPut, "ingest/database/"+db, reqBody, nil)
}
