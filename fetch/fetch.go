// Package fetch retrieves Futaba thread snapshots and image bytes over
// HTTP. It carries no retry policy of its own — failures are reported
// with a reason code and the caller decides whether to retry.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"futawatch/thread"
)

// Reason classifies a fetch failure.
type Reason string

const (
	ReasonNetwork   Reason = "network"
	ReasonMalformed Reason = "malformed-response"
	ReasonNotFound  Reason = "not-found"
)

// Error is a reason-coded fetch failure.
type Error struct {
	Reason Reason
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch: %s: %s: %v", e.Reason, e.URL, e.Err)
	}
	return fmt.Sprintf("fetch: %s: %s", e.Reason, e.URL)
}

func (e *Error) Unwrap() error { return e.Err }

const (
	// maxSnapshotBytes caps a thread snapshot read.
	maxSnapshotBytes = 10 << 20
	// maxImageBytes caps an image download.
	maxImageBytes = 20 << 20

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// Client fetches snapshots and images for one board.
type Client struct {
	domain string
	board  string
	client *http.Client
	ua     string
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Client) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Client) { f.ua = ua }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Client) { f.logger = l }
}

// New creates a Client for a board, e.g. New("may.2chan.net", "b").
func New(domain, board string, opts ...Option) *Client {
	c := &Client{
		domain: domain,
		board:  board,
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     defaultUserAgent,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Thread fetches the full JSON snapshot of a thread. The returned bytes
// are verified to be well-formed JSON but otherwise unparsed.
func (c *Client) Thread(ctx context.Context, threadID string) ([]byte, error) {
	url := fmt.Sprintf("https://%s/%s/futaba.php?mode=json&res=%s", c.domain, c.board, threadID)

	body, err := c.get(ctx, url, maxSnapshotBytes)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &Error{Reason: ReasonMalformed, URL: url}
	}

	c.logger.Debug("fetch: snapshot fetched", "thread", threadID, "size", len(body))
	return body, nil
}

// Image downloads the bytes of one attached image.
func (c *Client) Image(ctx context.Context, ref thread.ImageRef) ([]byte, error) {
	url := "https://" + c.domain + ref.RemoteLocator

	body, err := c.get(ctx, url, maxImageBytes)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetch: image fetched", "post_id", ref.PostID, "name", ref.DisplayName, "size", len(body))
	return body, nil
}

// ThreadURL returns the canonical browser URL of a thread.
func (c *Client) ThreadURL(threadID string) string {
	return fmt.Sprintf("https://%s/%s/res/%s.htm", c.domain, c.board, threadID)
}

// ImageURL returns the absolute URL of an attached image.
func (c *Client) ImageURL(ref thread.ImageRef) string {
	return "https://" + c.domain + ref.RemoteLocator
}

func (c *Client) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Reason: ReasonNetwork, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json,*/*")
	req.Header.Set("Accept-Language", "ja,en-US;q=0.9,en;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Reason: ReasonNetwork, URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Reason: ReasonNotFound, URL: url}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{Reason: ReasonNetwork, URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &Error{Reason: ReasonNetwork, URL: url, Err: err}
	}
	return body, nil
}
