// Package graph lists OneDrive/SharePoint items through Microsoft Graph.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/adapter"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// MeDrive addresses the signed-in (delegated) user's drive.
const MeDrive = "me/drive"

var _ adapter.FileBrowser = (*Client)(nil)

// Client is a thin Graph drive client. It holds no token state: every call
// receives the bearer token to use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	drive      string
	limiter    *RateLimiter
	logger     glog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBaseURL overrides the Graph base URL (tests, national clouds).
func WithBaseURL(u string) Option {
	return func(cl *Client) { cl.baseURL = strings.TrimRight(u, "/") }
}

// WithRateLimiter shares a limiter between clients.
func WithRateLimiter(l *RateLimiter) Option {
	return func(cl *Client) { cl.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l glog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a client bound to the delegated user's drive.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		drive:      MeDrive,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(DefaultRateLimit)
	}
	if c.logger == nil {
		c.logger = glog.Nop()
	}
	return c
}

// ForUser returns a copy of the client bound to a specific user's drive, used with
// application-only tokens where "me" has no meaning.
func (c *Client) ForUser(userID string) *Client {
	cp := *c
	cp.drive = "users/" + url.PathEscape(userID) + "/drive"
	return &cp
}

// ListChildren lists the direct children of a folder. Only the first page is returned.
func (c *Client) ListChildren(ctx context.Context, accessToken, folderID string) ([]adapter.FileRecord, error) {
	var endpoint string
	if folderID == "" || folderID == adapter.RootFolderID {
		endpoint = c.drive + "/root/children"
	} else {
		endpoint = c.drive + "/items/" + url.PathEscape(folderID) + "/children"
	}

	var page itemCollection
	if err := c.get(ctx, accessToken, endpoint, &page); err != nil {
		return nil, fmt.Errorf("list children of %q: %w", folderID, err)
	}
	if page.NextLink != "" {
		c.logger.Debug("graph listing truncated to first page", "folder_id", folderID, "returned", len(page.Value))
	}
	return normalizeAll(page.Value), nil
}

// SearchFolders searches from the drive root and keeps folder entries only.
func (c *Client) SearchFolders(ctx context.Context, accessToken, query string) ([]adapter.FileRecord, error) {
	endpoint := c.drive + "/root/search(q='" + escapeSearch(query) + "')"

	var page itemCollection
	if err := c.get(ctx, accessToken, endpoint, &page); err != nil {
		return nil, fmt.Errorf("search folders %q: %w", query, err)
	}
	return adapter.OnlyFolders(normalizeAll(page.Value)), nil
}

// GetItem returns a single item.
func (c *Client) GetItem(ctx context.Context, accessToken, itemID string) (*adapter.FileRecord, error) {
	var endpoint string
	if itemID == "" || itemID == adapter.RootFolderID {
		endpoint = c.drive + "/root"
	} else {
		endpoint = c.drive + "/items/" + url.PathEscape(itemID)
	}

	var item driveItem
	if err := c.get(ctx, accessToken, endpoint, &item); err != nil {
		return nil, fmt.Errorf("get item %q: %w", itemID, err)
	}
	rec := normalize(item)
	return &rec, nil
}

func (c *Client) get(ctx context.Context, accessToken, endpoint string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", adapter.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", adapter.ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			c.limiter.Backoff(retryAfter)
		}
		perr := newProviderError(resp.StatusCode, body)
		c.logger.Warn("graph request failed", "endpoint", endpoint, "status", resp.StatusCode, "code", perr.Code)
		return perr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", adapter.ErrUpstream, err)
	}
	return nil
}

// escapeSearch quotes a search term for the OData search(q='...') function and
// escapes it for use in a URL path.
func escapeSearch(q string) string {
	q = strings.ReplaceAll(q, "'", "''")
	return url.PathEscape(q)
}
