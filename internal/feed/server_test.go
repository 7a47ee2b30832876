package feed

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feedv1 "github.com/jdholdren/hornet/api/feed/v1"
	"github.com/jdholdren/hornet/internal/logger"
	"github.com/jdholdren/hornet/internal/metrics"
	"github.com/jdholdren/hornet/internal/upstream"
)

// Stands in for the followers and posts services, answering with canned
// bodies per path.
type upstreamStub struct {
	t      *testing.T
	bodies map[string]string
	codes  map[string]int
	hits   atomic.Int64
}

func (s *upstreamStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)
	if code, ok := s.codes[r.URL.EscapedPath()]; ok {
		w.WriteHeader(code)
		return
	}
	body, ok := s.bodies[r.URL.EscapedPath()]
	if !ok {
		s.t.Errorf("unexpected upstream call: %s", r.URL.EscapedPath())
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

type testEnv struct {
	handler   http.Handler
	followers *upstreamStub
	posts     *upstreamStub
	registry  *prometheus.Registry
}

func newTestEnv(t *testing.T, strategy Strategy) *testEnv {
	t.Helper()

	env := &testEnv{
		followers: &upstreamStub{t: t, bodies: map[string]string{}, codes: map[string]int{}},
		posts:     &upstreamStub{t: t, bodies: map[string]string{}, codes: map[string]int{}},
		registry:  prometheus.NewRegistry(),
	}
	followersSrv := httptest.NewServer(env.followers)
	t.Cleanup(followersSrv.Close)
	postsSrv := httptest.NewServer(env.posts)
	t.Cleanup(postsSrv.Close)

	m := metrics.New(env.registry)
	client := upstream.New(upstream.Config{
		FollowersURL: followersSrv.URL,
		PostsURL:     postsSrv.URL,
		Timeout:      2 * time.Second,
	}, m)
	svc := NewService(ServiceParams{
		Config:    ServiceConfig{Concurrency: 4},
		Followers: client,
		Posts:     client,
		Strategy:  strategy,
		Metrics:   m,
	})
	env.handler = NewHandler(ServerConfig{RequestTimeout: 5 * time.Second}, svc, env.registry)

	return env
}

func (e *testEnv) get(t *testing.T, path, userID string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != "" {
		req.Header.Set(feedv1.UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	return w
}

func TestGetFeed_MissingUser(t *testing.T) {
	env := newTestEnv(t, Plain{})

	w := env.get(t, "/feed", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"X-User-ID header is required"}`, w.Body.String())
	assert.Zero(t, env.followers.hits.Load())
}

func TestGetFeed_FollowersDown(t *testing.T) {
	env := newTestEnv(t, Plain{})
	env.followers.codes["/followers/user/u1/following"] = http.StatusInternalServerError

	w := env.get(t, "/feed", "u1")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"Failed to fetch following list"}`, w.Body.String())
	assert.Zero(t, env.posts.hits.Load())
}

func TestGetFeed_Plain(t *testing.T) {
	env := newTestEnv(t, Plain{})
	env.followers.bodies["/followers/user/u1/following"] = `[{"id":10,"sender_id":"u1","receiver_id":"A"},{"id":11,"sender_id":"u1","receiver_id":"B"}]`
	env.posts.bodies["/posts/author/A"] = `[{"id":1,"parent_post_id":null},{"id":2,"parent_post_id":5}]`
	env.posts.bodies["/posts/author/B"] = `[{"id":3,"parent_post_id":null}]`

	w := env.get(t, "/feed", "u1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `[{"id":1,"parent_post_id":null},{"id":3,"parent_post_id":null}]`, w.Body.String())
}

func TestGetFeed_AuthorDown(t *testing.T) {
	env := newTestEnv(t, Plain{})
	env.followers.bodies["/followers/user/u1/following"] = `[{"receiver_id":"A"},{"receiver_id":"B"}]`
	env.posts.bodies["/posts/author/A"] = `[{"id":1,"author_id":"A","content":"hi"}]`
	env.posts.codes["/posts/author/B"] = http.StatusServiceUnavailable

	w := env.get(t, "/feed", "u1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":1,"author_id":"A","content":"hi"}]`, w.Body.String())
	assert.Equal(t, int64(2), env.posts.hits.Load())
}

func TestGetFeed_NobodyFollowed(t *testing.T) {
	env := newTestEnv(t, Plain{})
	env.followers.bodies["/followers/user/u1/following"] = `[]`

	w := env.get(t, "/feed", "u1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Zero(t, env.posts.hits.Load())
}

func TestGetFeed_EscapesIDs(t *testing.T) {
	env := newTestEnv(t, Plain{})
	env.followers.bodies["/followers/user/a%2Fb/following"] = `[{"receiver_id":"c d"}]`
	env.posts.bodies["/posts/author/c%20d"] = `[{"id":"p1"}]`

	w := env.get(t, "/feed", "a/b")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":"p1"}]`, w.Body.String())
}

func TestGetFeed_Ranked(t *testing.T) {
	now := time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, Ranked{Now: func() time.Time { return now }})
	env.followers.bodies["/followers/user/u1/following"] = `[{"receiver_id":"A"}]`
	env.posts.bodies["/posts/author/A"] = `[
		{"id":1,"replies_count":1,"shares_count":0,"created_at":"2024-04-01T00:00:00Z"},
		{"id":2,"replies_count":3,"shares_count":2,"created_at":"2024-05-10T12:00:00Z"}
	]`

	w := env.get(t, "/feed", "u1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"id":2,"replies_count":3,"shares_count":2,"created_at":"2024-05-10T12:00:00Z","score":19},
		{"id":1,"replies_count":1,"shares_count":0,"created_at":"2024-04-01T00:00:00Z","score":1}
	]`, w.Body.String())
}

func TestGetFeed_WrongMethod(t *testing.T) {
	env := newTestEnv(t, Plain{})

	req := httptest.NewRequest(http.MethodPost, "/feed", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, Plain{})

	w := env.get(t, "/healthz", "")
	assert.NotEmpty(t, w.Header().Get(logger.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(logger.RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(logger.RequestIDHeader))
}

func TestGetHealthz(t *testing.T) {
	env := newTestEnv(t, Plain{})

	w := env.get(t, "/healthz", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetMetrics(t *testing.T) {
	env := newTestEnv(t, Plain{})
	env.followers.bodies["/followers/user/u1/following"] = `[]`
	require.Equal(t, http.StatusOK, env.get(t, "/feed", "u1").Code)

	w := env.get(t, "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `feed_requests_total{outcome="ok",strategy="plain"} 1`)
	assert.Contains(t, w.Body.String(), `feed_upstream_requests_total{outcome="ok",service="followers"} 1`)
}
