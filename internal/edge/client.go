// Package edge is the HTTP client for the edge API: dependency
// resolution, build ids, the content hash set, application config and
// uploads. Every call carries the bearer token and is retried with
// exponential backoff on transient failures.
package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
)

// Config configures a Client.
type Config struct {
	APIURL      string
	Timeout     time.Duration
	MaxAttempts int
}

// Client talks to the edge API.
type Client struct {
	baseURL     *url.URL
	http        *http.Client
	tokens      ze.TokenSource
	clock       ze.Clock
	logger      ze.Logger
	maxAttempts int
}

var _ ze.EdgeAPI = (*Client)(nil)

// NewClient creates a Client for cfg.APIURL.
func NewClient(cfg Config, tokens ze.TokenSource, clock ze.Clock, logger ze.Logger) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("edge api_url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.APIURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing edge api_url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("edge api_url must be http or https, got %q", cfg.APIURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if clock == nil {
		clock = ze.RealClock{}
	}
	if logger == nil {
		logger = ze.NewNopLogger()
	}
	return &Client{
		baseURL:     base,
		http:        &http.Client{Timeout: cfg.Timeout},
		tokens:      tokens,
		clock:       clock,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// Resolve implements ze.EdgeAPI.
func (c *Client) Resolve(ctx context.Context, applicationUID, version, platform string) (*ze.ResolvedRemoteDependency, error) {
	var query url.Values
	if platform != "" {
		query = url.Values{"build_target": {platform}}
	}
	u := c.endpoint(query, "resolve", applicationUID, version)

	data, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, fmt.Errorf("resolving %s@%s: %w", applicationUID, version, err)
	}
	var dep ze.ResolvedRemoteDependency
	if err := decodeValue(data, &dep); err != nil {
		return nil, &ze.ProtocolError{URL: u, Reason: err.Error()}
	}
	return &dep, nil
}

// FetchHashSet implements ze.EdgeAPI.
func (c *Client) FetchHashSet(ctx context.Context, applicationUID string) (ze.HashSet, error) {
	u := c.endpoint(nil, "application", applicationUID, "hash-set")
	data, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetching hash set: %w", err)
	}
	var value struct {
		HashSet []string `json:"hash_set"`
	}
	if err := decodeValue(data, &value); err != nil {
		return nil, &ze.ProtocolError{URL: u, Reason: err.Error()}
	}
	return ze.NewHashSet(value.HashSet...), nil
}

// FetchBuildIDs implements ze.EdgeAPI. The server answers with a map
// from user uuid to build id; ids may be strings or numbers.
func (c *Client) FetchBuildIDs(ctx context.Context, applicationUID string) (map[string]string, error) {
	u := c.endpoint(nil, "application", applicationUID, "build-id")
	data, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetching build id: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ze.ProtocolError{URL: u, Reason: fmt.Sprintf("decoding build ids: %v", err)}
	}
	if len(raw) == 0 {
		return nil, &ze.ProtocolError{URL: u, Reason: "no build id issued"}
	}

	ids := make(map[string]string, len(raw))
	for user, v := range raw {
		switch id := v.(type) {
		case string:
			ids[user] = id
		case json.Number:
			ids[user] = id.String()
		default:
			return nil, &ze.ProtocolError{URL: u, Reason: fmt.Sprintf("build id for %q is %T", user, v)}
		}
	}
	return ids, nil
}

// FetchApplicationConfig implements ze.EdgeAPI.
func (c *Client) FetchApplicationConfig(ctx context.Context, applicationUID string) (*ze.ApplicationConfig, error) {
	u := c.endpoint(nil, "application", applicationUID, "config")
	data, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetching application config: %w", err)
	}
	var cfg ze.ApplicationConfig
	if err := decodeValue(data, &cfg); err != nil {
		return nil, &ze.ProtocolError{URL: u, Reason: err.Error()}
	}
	return &cfg, nil
}

// UploadAsset stores one asset under its content hash.
func (c *Client) UploadAsset(ctx context.Context, applicationUID string, asset *ze.AssetRecord) error {
	u := c.endpoint(url.Values{
		"application_uid": {applicationUID},
		"path":            {asset.Path},
		"size":            {strconv.FormatInt(asset.Size, 10)},
	}, "upload", "file", asset.Hash)
	if _, err := c.do(ctx, http.MethodPost, u, asset.Buffer, "application/octet-stream"); err != nil {
		return fmt.Errorf("uploading %s: %w", asset.Path, err)
	}
	return nil
}

// UploadBuildStats stores the bundler's build statistics.
func (c *Client) UploadBuildStats(ctx context.Context, applicationUID string, stats json.RawMessage) error {
	u := c.endpoint(url.Values{"application_uid": {applicationUID}}, "upload", "build-stats")
	if _, err := c.do(ctx, http.MethodPost, u, stats, "application/json"); err != nil {
		return fmt.Errorf("uploading build stats: %w", err)
	}
	return nil
}

// UploadSnapshot publishes snap and returns its version URL.
func (c *Client) UploadSnapshot(ctx context.Context, snap *ze.Snapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	u := c.endpoint(nil, "upload", "snapshot")
	data, err := c.do(ctx, http.MethodPost, u, body, "application/json")
	if err != nil {
		return "", fmt.Errorf("uploading snapshot: %w", err)
	}
	var value struct {
		VersionURL string `json:"version_url"`
	}
	if err := decodeValue(data, &value); err != nil {
		return "", &ze.ProtocolError{URL: u, Reason: err.Error()}
	}
	if value.VersionURL == "" {
		return "", &ze.ProtocolError{URL: u, Reason: "no version_url in response"}
	}
	return value.VersionURL, nil
}

// endpoint joins escaped path segments onto the base URL.
func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := *c.baseURL
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.RawPath = u.Path + "/" + strings.Join(escaped, "/")
	u.Path = u.Path + "/" + strings.Join(segments, "/")
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do performs one logical request with bounded retry and returns the
// response body. A 401 invalidates the cached token and is not retried.
func (c *Client) do(ctx context.Context, method, u string, body []byte, contentType string) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clock.After(backoff):
			}
		}

		data, err := c.attempt(ctx, method, u, token, body, contentType)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var terr *ze.TransportError
		if errors.As(err, &terr) && terr.Unauthorized() {
			c.tokens.Invalidate()
			return nil, err
		}
		if !isTransient(err) {
			return nil, err
		}

		c.logger.Warn("transient edge failure, retrying",
			"method", method,
			"url", u,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, u, token string, body []byte, contentType string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, &ze.TransportError{
			Status: resp.StatusCode,
			Method: method,
			URL:    u,
			Body:   errorBody(resp.Body),
		}
	}

	data, err := readResponse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return data, nil
}
