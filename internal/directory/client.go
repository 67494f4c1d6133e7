package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/text/unicode/norm"
)

// Default endpoints.
const (
	// DefaultDirectoryURL lists the SecureDrop instances of securedrop.org/directory.
	DefaultDirectoryURL = "https://securedrop.org/api/v1/directory/"

	// DefaultStatsURL lists per-language translation statistics of SecureDrop.
	DefaultStatsURL = "https://weblate.securedrop.org/api/projects/securedrop/languages/"
)

const (
	// DefaultMaxBodySize caps how much of a response body is read.
	DefaultMaxBodySize int64 = 8 << 20

	// DefaultMaxAttempts is how many times a fetch is tried before giving up.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the initial wait between attempts.
	DefaultRetryDelay = 2 * time.Second

	userAgent = "onionprobe"
)

// ErrResponseTooLarge is returned when a response body exceeds the size limit.
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// StatusError is returned when an API answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s from %s",
		e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Entry is one instance in the directory listing.
type Entry struct {
	Title           string `json:"title"`
	Slug            string `json:"slug"`
	OnionAddress    string `json:"onion_address"`
	OnionName       string `json:"onion_name"`
	LandingPageURL  string `json:"landing_page_url"`
	OrganizationURL string `json:"organization_url"`
}

// LanguageStats is the translation progress of one language.
type LanguageStats struct {
	Code              string  `json:"code"`
	Name              string  `json:"name"`
	Total             int     `json:"total"`
	Translated        int     `json:"translated"`
	TranslatedPercent float64 `json:"translated_percent"`
}

// Client fetches the directory listing and translation statistics.
// It is safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	directoryURL string
	statsURL     string
	maxBodySize  int64
	maxAttempts  uint
	retryDelay   time.Duration
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithDirectoryURL overrides the directory endpoint.
func WithDirectoryURL(url string) Option {
	return func(c *Client) {
		c.directoryURL = url
	}
}

// WithStatsURL overrides the translation statistics endpoint.
func WithStatsURL(url string) Option {
	return func(c *Client) {
		c.statsURL = url
	}
}

// WithMaxBodySize sets the response size limit in bytes.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		c.maxBodySize = n
	}
}

// WithRetry sets the number of attempts and the initial delay between them.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = attempts
		c.retryDelay = delay
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client that sends requests with httpClient, which is
// normally routed through Tor.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		httpClient:   httpClient,
		directoryURL: DefaultDirectoryURL,
		statsURL:     DefaultStatsURL,
		maxBodySize:  DefaultMaxBodySize,
		maxAttempts:  DefaultMaxAttempts,
		retryDelay:   DefaultRetryDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c
}

// ListEntries fetches the directory listing. Titles are trimmed and
// NFC-normalized.
func (c *Client) ListEntries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := c.getJSON(ctx, c.directoryURL, &entries); err != nil {
		return nil, fmt.Errorf("failed to fetch directory: %w", err)
	}

	for i := range entries {
		entries[i].Title = norm.NFC.String(strings.TrimSpace(entries[i].Title))
		entries[i].OnionAddress = strings.TrimSpace(entries[i].OnionAddress)
	}

	c.logger.Debug("fetched directory", "url", c.directoryURL, "entries", len(entries))
	return entries, nil
}

// TranslationStats fetches per-language translation statistics.
func (c *Client) TranslationStats(ctx context.Context) ([]LanguageStats, error) {
	var stats []LanguageStats
	if err := c.getJSON(ctx, c.statsURL, &stats); err != nil {
		return nil, fmt.Errorf("failed to fetch translation statistics: %w", err)
	}

	c.logger.Debug("fetched translation statistics", "url", c.statsURL, "languages", len(stats))
	return stats, nil
}

// getJSON GETs url and decodes the body into v. Network errors and
// temporary statuses are retried with exponential backoff.
func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.fetch(ctx, url)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(max(c.maxAttempts, 1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("fetch failed, retrying", "url", url, "error", err, "wait", wait)
		}),
	)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

// fetch performs one GET. Errors that retrying cannot fix are permanent.
func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{URL: url, StatusCode: resp.StatusCode}
		if statusErr.Temporary() {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > c.maxBodySize {
		return nil, backoff.Permanent(fmt.Errorf("%w: more than %d bytes from %s", ErrResponseTooLarge, c.maxBodySize, url))
	}

	return body, nil
}
