package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/mosacloud/drive/internal/logging"
	"github.com/mosacloud/drive/internal/metrics"
	"github.com/mosacloud/drive/internal/retry"
)

// Lookup is the read side of the drive API used by the navigation
// service.
type Lookup interface {
	Item(ctx context.Context, id string) (*Item, error)
	Ancestors(ctx context.Context, id string) ([]Breadcrumb, error)
	CurrentUser(ctx context.Context) (*User, error)
}

// Client is an HTTP client for the drive API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
}

// Config holds client configuration.
type Config struct {
	BaseURL     string // e.g. http://localhost:8071/api/v1.0
	Timeout     time.Duration
	RetryConfig retry.Config
}

// NewClient creates a drive API client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
	}
}

// Item fetches a single item.
func (c *Client) Item(ctx context.Context, id string) (*Item, error) {
	var item Item
	if err := c.get(ctx, "item", "/items/"+url.PathEscape(id)+"/", &item); err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return &item, nil
}

// Ancestors fetches the root-to-leaf ancestor chain of an item, the item
// itself included.
func (c *Client) Ancestors(ctx context.Context, id string) ([]Breadcrumb, error) {
	var chain []Breadcrumb
	if err := c.get(ctx, "breadcrumb", "/items/"+url.PathEscape(id)+"/breadcrumb/", &chain); err != nil {
		return nil, fmt.Errorf("get breadcrumb %s: %w", id, err)
	}
	return chain, nil
}

// CurrentUser fetches the user the forwarded credentials belong to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	if CredentialsFrom(ctx).IsZero() {
		return nil, ErrUnauthenticated
	}
	var user User
	if err := c.get(ctx, "user", "/users/me/", &user); err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}
	return &user, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Ping checks that the drive API answers at all. Any HTTP response,
// including 401, counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/config/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("drive api returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, lookup, path string, out any) error {
	start := time.Now()
	creds := CredentialsFrom(ctx)

	err := retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if id := logging.GetRequestID(ctx); id != "" {
			req.Header.Set(logging.RequestIDHeader, id)
		}
		creds.apply(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			apiErr := readAPIError(resp)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return retry.Retryable(apiErr)
			}
			return apiErr
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", lookup, err)
		}
		return nil
	})

	metrics.RecordLookup(lookup, Outcome(err), time.Since(start))
	return err
}

func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &body) == nil {
		apiErr.Detail = body.Detail
	}
	return apiErr
}
