package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	maxErrorBody   = 64 << 10
	maxPages       = 100
)

// Item is the envelope the content API wraps around every list record.
type Item struct {
	ID       string          `json:"id"`
	Created  time.Time       `json:"createdDateTime"`
	Modified time.Time       `json:"lastModifiedDateTime"`
	Fields   json.RawMessage `json:"fields"`
}

// DecodeFields unmarshals the item's fields into v.
func (i Item) DecodeFields(v any) error {
	if len(i.Fields) == 0 {
		return fmt.Errorf("item %s has no fields", i.ID)
	}
	if err := json.Unmarshal(i.Fields, v); err != nil {
		return fmt.Errorf("decode item %s fields: %w", i.ID, err)
	}
	return nil
}

type listPage struct {
	Value    []Item `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// Recorder receives one observation per content API round trip.
type Recorder interface {
	RecordContentRequest(method, list string, status int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordContentRequest(string, string, int, time.Duration) {}

// Client performs authenticated CRUD against a single content site.
// Failures are returned as-is; nothing is retried.
type Client struct {
	http     *http.Client
	baseURL  string
	hostname string
	sitePath string
	limiter  *rate.Limiter
	recorder Recorder
	logger   *slog.Logger

	tokenMu sync.RWMutex
	token   string

	siteMu sync.Mutex
	siteID string
}

// Option configures the Client during construction.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a Client for the site at hostname and sitePath.
func NewClient(client *http.Client, hostname, sitePath string, opts ...Option) *Client {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	c := &Client{
		http:     client,
		baseURL:  defaultBaseURL,
		hostname: hostname,
		sitePath: "/" + strings.Trim(sitePath, "/"),
		recorder: nopRecorder{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAccessToken replaces the bearer token used by subsequent calls.
func (c *Client) SetAccessToken(token string) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.token = token
}

func (c *Client) accessToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// ResolveContainerID resolves the configured site path to its id. A successful
// resolution is cached for the lifetime of the client.
func (c *Client) ResolveContainerID(ctx context.Context) (string, error) {
	c.siteMu.Lock()
	defer c.siteMu.Unlock()

	if c.siteID != "" {
		return c.siteID, nil
	}

	var site struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/sites/%s:%s", c.baseURL, c.hostname, c.sitePath)
	if err := c.do(ctx, http.MethodGet, "site", endpoint, nil, &site); err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return "", fmt.Errorf("%w: %s:%s", ErrContainerNotFound, c.hostname, c.sitePath)
		}
		return "", fmt.Errorf("resolve site %s:%s: %w", c.hostname, c.sitePath, err)
	}
	if site.ID == "" {
		return "", fmt.Errorf("%w: %s:%s", ErrContainerNotFound, c.hostname, c.sitePath)
	}

	c.siteID = site.ID
	return c.siteID, nil
}

func (c *Client) itemsURL(ctx context.Context, list string) (string, error) {
	siteID, err := c.ResolveContainerID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/sites/%s/lists/%s/items", c.baseURL, siteID, url.PathEscape(list)), nil
}

// List returns every item in list matching filter, following pagination links.
func (c *Client) List(ctx context.Context, list string, filter Filter) ([]Item, error) {
	endpoint, err := c.itemsURL(ctx, list)
	if err != nil {
		return nil, err
	}

	query := "expand=fields"
	if !filter.IsZero() {
		query += "&$filter=" + escapeQuery(filter.String())
	}
	next := endpoint + "?" + query

	var items []Item
	for page := 0; next != ""; page++ {
		if page == maxPages {
			return nil, fmt.Errorf("list %s: more than %d pages", list, maxPages)
		}
		var resp listPage
		if err := c.do(ctx, http.MethodGet, list, next, nil, &resp); err != nil {
			return nil, err
		}
		items = append(items, resp.Value...)
		next = resp.NextLink
	}

	c.logger.Debug("content list fetched", "list", list, "items", len(items))
	return items, nil
}

// Get returns a single item by id.
func (c *Client) Get(ctx context.Context, list, id string) (Item, error) {
	endpoint, err := c.itemsURL(ctx, list)
	if err != nil {
		return Item{}, err
	}

	var item Item
	if err := c.do(ctx, http.MethodGet, list, endpoint+"/"+url.PathEscape(id)+"?expand=fields", nil, &item); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Create adds a new item with fields to list.
func (c *Client) Create(ctx context.Context, list string, fields any) (Item, error) {
	endpoint, err := c.itemsURL(ctx, list)
	if err != nil {
		return Item{}, err
	}

	body := struct {
		Fields any `json:"fields"`
	}{Fields: fields}

	var item Item
	if err := c.do(ctx, http.MethodPost, list, endpoint, body, &item); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Update patches fields on an existing item.
func (c *Client) Update(ctx context.Context, list, id string, fields any) error {
	endpoint, err := c.itemsURL(ctx, list)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPatch, list, endpoint+"/"+url.PathEscape(id)+"/fields", fields, nil)
}

func (c *Client) do(ctx context.Context, method, list, endpoint string, body, out any) error {
	token := c.accessToken()
	if token == "" {
		return ErrNoAccessToken
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("content api rate limit: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", list, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create content request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("client-request-id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodGet && strings.Contains(endpoint, "$filter=") {
		req.Header.Set("Prefer", "HonorNonIndexedQueriesWarningMayFailRandomly")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.recorder.RecordContentRequest(method, list, 0, time.Since(start))
		return fmt.Errorf("call content api: %w", err)
	}
	defer resp.Body.Close()
	c.recorder.RecordContentRequest(method, list, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Method: method,
			Path:   req.URL.Path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(raw)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s response: %w", list, err)
	}
	return nil
}

func escapeQuery(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}
