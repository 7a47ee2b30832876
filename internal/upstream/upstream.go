// Package upstream talks to the followers and posts services over HTTP.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	feedv1 "github.com/jdholdren/hornet/api/feed/v1"
	"github.com/jdholdren/hornet/internal/metrics"
)

// StatusError is returned when an upstream answers with anything but a 200.
type StatusError struct {
	Service string
	Code    int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code: %d", e.Service, e.Code)
}

type (
	// Client fetches following lists and posts.
	Client struct {
		followersURL string
		postsURL     string
		httpClient   *http.Client
		metrics      *metrics.Metrics
	}

	Config struct {
		FollowersURL string
		PostsURL     string
		// Bounds every single call, so a hung upstream turns into an error.
		Timeout time.Duration
		// Defaults to [http.DefaultTransport].
		Transport http.RoundTripper
	}
)

func New(cfg Config, m *metrics.Metrics) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		followersURL: strings.TrimRight(cfg.FollowersURL, "/"),
		postsURL:     strings.TrimRight(cfg.PostsURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		metrics: m,
	}
}

// Following lists the edges for everyone userID follows.
func (c *Client) Following(ctx context.Context, userID string) ([]feedv1.FollowEdge, error) {
	u := fmt.Sprintf("%s/followers/user/%s/following", c.followersURL, url.PathEscape(userID))

	var edges []feedv1.FollowEdge
	if err := c.getJSON(ctx, metrics.ServiceFollowers, u, &edges); err != nil {
		return nil, err
	}

	return edges, nil
}

// PostsByAuthor lists the posts written by authorID, in the order the posts
// service keeps them.
func (c *Client) PostsByAuthor(ctx context.Context, authorID string) ([]feedv1.Post, error) {
	u := fmt.Sprintf("%s/posts/author/%s", c.postsURL, url.PathEscape(authorID))

	var posts []feedv1.Post
	if err := c.getJSON(ctx, metrics.ServicePosts, u, &posts); err != nil {
		return nil, err
	}

	return posts, nil
}

func (c *Client) getJSON(ctx context.Context, service, u string, v any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveUpstream(service, time.Since(start), err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("error building %s request: %w", service, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error calling %s: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusError{Service: service, Code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("error decoding %s response: %w", service, err)
	}

	return nil
}
