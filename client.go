package shelfsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClientConfig configures the remote catalog client.
type ClientConfig struct {
	// BaseURL of the commerce API
	BaseURL string `yaml:"base_url"`

	// Timeout for a single HTTP request
	Timeout time.Duration `yaml:"timeout"`

	// PageLimit is the page size requested from the catalog listing
	PageLimit int `yaml:"page_limit"`

	// Retry controls transient-failure retries around each call
	Retry RetryConfig `yaml:"retry"`

	// CircuitThreshold is the consecutive-failure count that opens the
	// circuit breaker
	CircuitThreshold int `yaml:"circuit_threshold"`

	// CircuitCooldown is how long the breaker stays open before probing
	CircuitCooldown time.Duration `yaml:"circuit_cooldown"`
}

// DefaultClientConfig returns default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:          "https://connect.squareup.com",
		Timeout:          30 * time.Second,
		PageLimit:        100,
		Retry:            DefaultRetryConfig(),
		CircuitThreshold: 5,
		CircuitCooldown:  30 * time.Second,
	}
}

// PageFetcher fetches one page of catalog objects. An empty cursor starts
// from the beginning; an empty returned cursor means the listing is done.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor string) (*CatalogPage, error)
}

// CatalogClient talks to the remote catalog over HTTP. All calls carry a
// bearer token from the TokenSource and run through a retryer and a
// circuit breaker.
type CatalogClient struct {
	config  ClientConfig
	client  HTTPDoer
	tokens  TokenSource
	retryer *Retryer
	breaker *CircuitBreaker
}

// NewCatalogClient creates a catalog client. A nil httpClient uses a
// default http.Client with the configured timeout.
func NewCatalogClient(config ClientConfig, tokens TokenSource, httpClient HTTPDoer) *CatalogClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://connect.squareup.com"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.PageLimit <= 0 {
		config.PageLimit = 100
	}
	if config.CircuitThreshold <= 0 {
		config.CircuitThreshold = 5
	}
	if config.CircuitCooldown <= 0 {
		config.CircuitCooldown = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &CatalogClient{
		config:  config,
		client:  httpClient,
		tokens:  tokens,
		retryer: NewRetryer(config.Retry),
		breaker: NewCircuitBreaker(config.CircuitThreshold, config.CircuitCooldown),
	}
}

// listCatalogResponse mirrors the catalog list endpoint body.
type listCatalogResponse struct {
	Objects []CatalogObject `json:"objects"`
	Cursor  string          `json:"cursor"`
}

// upsertCatalogRequest mirrors the catalog upsert endpoint body.
type upsertCatalogRequest struct {
	IdempotencyKey string        `json:"idempotency_key"`
	Object         CatalogObject `json:"object"`
}

type upsertCatalogResponse struct {
	CatalogObject CatalogObject `json:"catalog_object"`
}

// FetchPage implements PageFetcher against the catalog list endpoint.
func (c *CatalogClient) FetchPage(ctx context.Context, cursor string) (*CatalogPage, error) {
	endpoint := c.config.BaseURL + "/v2/catalog/list"

	types := make([]string, len(AllCatalogObjectTypes))
	for i, t := range AllCatalogObjectTypes {
		types[i] = string(t)
	}
	query := url.Values{}
	query.Set("types", strings.Join(types, ","))
	query.Set("limit", strconv.Itoa(c.config.PageLimit))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var page *CatalogPage
	err := c.retryer.Do(ctx, func() error {
		return c.breaker.Execute(func() error {
			body, err := c.doRequest(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
			if err != nil {
				return err
			}
			var resp listCatalogResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return &DecodeError{Endpoint: endpoint, Cause: err}
			}
			page = &CatalogPage{Objects: resp.Objects, Cursor: resp.Cursor}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// UpsertObject writes one catalog object remotely. The idempotency key is
// generated per call so server-side retries stay safe; the object version
// carries the optimistic-concurrency check.
func (c *CatalogClient) UpsertObject(ctx context.Context, obj *CatalogObject) (*CatalogObject, error) {
	endpoint := c.config.BaseURL + "/v2/catalog/object"

	reqBody, err := json.Marshal(upsertCatalogRequest{
		IdempotencyKey: uuid.NewString(),
		Object:         *obj,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upsert request: %w", err)
	}

	var result *CatalogObject
	err = c.retryer.Do(ctx, func() error {
		return c.breaker.Execute(func() error {
			body, err := c.doRequest(ctx, http.MethodPost, endpoint, reqBody)
			if err != nil {
				return err
			}
			var resp upsertCatalogResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return &DecodeError{Endpoint: endpoint, Cause: err}
			}
			result = &resp.CatalogObject
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteObject removes one catalog object remotely.
func (c *CatalogClient) DeleteObject(ctx context.Context, id string) error {
	endpoint := c.config.BaseURL + "/v2/catalog/object/" + url.PathEscape(id)

	return c.retryer.Do(ctx, func() error {
		return c.breaker.Execute(func() error {
			_, err := c.doRequest(ctx, http.MethodDelete, endpoint, nil)
			return err
		})
	})
}

// doRequest performs one authenticated HTTP call and returns the response
// body. Non-2xx statuses map to *HTTPError.
func (c *CatalogClient) doRequest(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       truncateBody(respBody),
		}
	}
	return respBody, nil
}

func truncateBody(b []byte) string {
	const maxLen = 512
	if len(b) > maxLen {
		return string(b[:maxLen]) + "..."
	}
	return string(b)
}

// BreakerState exposes the circuit breaker state for observability.
func (c *CatalogClient) BreakerState() string {
	return c.breaker.State()
}
