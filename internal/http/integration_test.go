package httpapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/learnato/forum/internal/auth"
	"github.com/learnato/forum/internal/config"
	"github.com/learnato/forum/internal/model"
	"github.com/learnato/forum/internal/rate"
	"github.com/learnato/forum/internal/store/sqlite"

	"github.com/google/uuid"
)

type testClient struct {
	server *httptest.Server
	client *http.Client
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	return newTestClientWithConfig(t, config.Config{
		JWTSecret:  "test-secret",
		TokenTTL:   time.Hour,
		RateLimits: config.RateLimits{AuthPerMinute: 1000},
	})
}

func newTestClientWithConfig(t *testing.T, cfg config.Config) *testClient {
	t.Helper()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "test-secret"
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Hour
	}
	dsnName := strings.NewReplacer("/", "_").Replace(t.Name())
	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", dsnName))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	authSvc := auth.NewService(st, []byte(cfg.JWTSecret), cfg.TokenTTL)
	server := NewServer(st, authSvc, rate.NewMemory(), cfg)
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		_ = st.Close()
	})
	return &testClient{server: ts, client: ts.Client()}
}

func (c *testClient) postJSON(t *testing.T, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	payload, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, c.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	return resp
}

func (c *testClient) get(t *testing.T, path string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.server.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response, out *T) {
	t.Helper()
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("json decode: %v (body %s)", err, string(body))
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func sessionToken(t *testing.T, resp *http.Response) string {
	t.Helper()
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie && cookie.Value != "" {
			return cookie.Value
		}
	}
	t.Fatalf("no session cookie in response")
	return ""
}

func cookieHeader(token string) map[string]string {
	return map[string]string{"Cookie": sessionCookie + "=" + token}
}

// registerUser registers a user and returns it with its session token.
func registerUser(t *testing.T, tc *testClient, username, password string) (model.User, string) {
	t.Helper()
	resp := tc.postJSON(t, "/api/users/register", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s status %d: %s", username, resp.StatusCode, readBody(t, resp))
	}
	token := sessionToken(t, resp)
	var user model.User
	decodeJSON(t, resp, &user)
	return user, token
}

func createPost(t *testing.T, tc *testClient, token, title, content string) model.Post {
	t.Helper()
	resp := tc.postJSON(t, "/api/posts", map[string]string{
		"title":   title,
		"content": content,
	}, cookieHeader(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create post status %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var post model.Post
	decodeJSON(t, resp, &post)
	return post
}

func TestRegisterConflict(t *testing.T) {
	tc := newTestClient(t)

	registerUser(t, tc, "alice", "secret1")

	resp := tc.postJSON(t, "/api/users/register", map[string]string{
		"username": "alice",
		"password": "other12",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate username, got %d", resp.StatusCode)
	}
	var body struct {
		Message string `json:"message"`
	}
	decodeJSON(t, resp, &body)
	if body.Message == "" {
		t.Fatalf("expected message body")
	}
}

func TestRegisterValidation(t *testing.T) {
	tc := newTestClient(t)

	resp := tc.postJSON(t, "/api/users/register", map[string]string{
		"username": "al",
		"password": "short",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body struct {
		Errors []string `json:"errors"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Errors) != 2 {
		t.Fatalf("expected 2 validation errors, got %v", body.Errors)
	}
}

func TestLoginFailureShapeIdentical(t *testing.T) {
	tc := newTestClient(t)

	registerUser(t, tc, "alice", "secret1")

	wrongPassword := tc.postJSON(t, "/api/users/login", map[string]string{
		"username": "alice",
		"password": "wrong-password",
	}, nil)
	noSuchUser := tc.postJSON(t, "/api/users/login", map[string]string{
		"username": "nobody",
		"password": "secret1",
	}, nil)

	if wrongPassword.StatusCode != http.StatusUnauthorized || noSuchUser.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wrongPassword.StatusCode, noSuchUser.StatusCode)
	}
	// Identical bodies prevent username enumeration.
	if a, b := readBody(t, wrongPassword), readBody(t, noSuchUser); a != b {
		t.Fatalf("login failures differ: %q vs %q", a, b)
	}
}

func TestLoginIssuesWorkingSession(t *testing.T) {
	tc := newTestClient(t)

	registerUser(t, tc, "alice", "secret1")

	resp := tc.postJSON(t, "/api/users/login", map[string]string{
		"username": "alice",
		"password": "secret1",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", resp.StatusCode, readBody(t, resp))
	}
	token := sessionToken(t, resp)
	resp.Body.Close()

	me := tc.get(t, "/api/users/me", cookieHeader(token))
	if me.StatusCode != http.StatusOK {
		t.Fatalf("me status %d", me.StatusCode)
	}
	var user model.User
	decodeJSON(t, me, &user)
	if user.Username != "alice" {
		t.Fatalf("expected alice, got %s", user.Username)
	}
}

func TestVoteToggleFlow(t *testing.T) {
	tc := newTestClient(t)

	alice, token := registerUser(t, tc, "alice", "secret1")
	post := createPost(t, tc, token, "Q", "content here")
	if post.Votes != 0 || len(post.Voters) != 0 {
		t.Fatalf("new post should have no votes, got votes=%d voters=%v", post.Votes, post.Voters)
	}

	resp := tc.postJSON(t, "/api/posts/"+post.ID+"/upvote", nil, cookieHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upvote status %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var voted model.Post
	decodeJSON(t, resp, &voted)
	if voted.Votes != 1 || len(voted.Voters) != 1 || voted.Voters[0] != alice.ID {
		t.Fatalf("expected votes=1 voters=[%s], got votes=%d voters=%v", alice.ID, voted.Votes, voted.Voters)
	}

	resp = tc.postJSON(t, "/api/posts/"+post.ID+"/upvote", nil, cookieHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second upvote status %d", resp.StatusCode)
	}
	var unvoted model.Post
	decodeJSON(t, resp, &unvoted)
	if unvoted.Votes != 0 || len(unvoted.Voters) != 0 {
		t.Fatalf("expected toggle back to zero, got votes=%d voters=%v", unvoted.Votes, unvoted.Voters)
	}
}

func TestUnauthenticatedUpvoteLeavesStateUnchanged(t *testing.T) {
	tc := newTestClient(t)

	_, token := registerUser(t, tc, "alice", "secret1")
	post := createPost(t, tc, token, "Q", "content here")

	resp := tc.postJSON(t, "/api/posts/"+post.ID+"/upvote", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Garbage token gets the same outcome.
	resp = tc.postJSON(t, "/api/posts/"+post.ID+"/upvote", nil, cookieHeader("garbage"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	get := tc.get(t, "/api/posts/"+post.ID, nil)
	var unchanged model.Post
	decodeJSON(t, get, &unchanged)
	if unchanged.Votes != 0 || len(unchanged.Voters) != 0 {
		t.Fatalf("post mutated by rejected votes: votes=%d voters=%v", unchanged.Votes, unchanged.Voters)
	}
}

func TestReplyFlow(t *testing.T) {
	tc := newTestClient(t)

	_, aliceToken := registerUser(t, tc, "alice", "secret1")
	_, bobToken := registerUser(t, tc, "bob", "builder1")
	post := createPost(t, tc, aliceToken, "Q", "content here")

	resp := tc.postJSON(t, "/api/posts/"+post.ID+"/reply", map[string]string{
		"content": "first reply",
	}, cookieHeader(bobToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reply status %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var updated model.Post
	decodeJSON(t, resp, &updated)
	if len(updated.Replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(updated.Replies))
	}
	if updated.Replies[0].AuthorUsername != "bob" || updated.Replies[0].Content != "first reply" {
		t.Fatalf("unexpected reply: %+v", updated.Replies[0])
	}

	// Whitespace-only content fails validation.
	resp = tc.postJSON(t, "/api/posts/"+post.ID+"/reply", map[string]string{
		"content": "   ",
	}, cookieHeader(bobToken))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank reply, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestReplyToMissingPost(t *testing.T) {
	tc := newTestClient(t)

	_, token := registerUser(t, tc, "alice", "secret1")

	resp := tc.postJSON(t, "/api/posts/"+uuid.NewString()+"/reply", map[string]string{
		"content": "hello",
	}, cookieHeader(token))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
}

func TestMalformedPostID(t *testing.T) {
	tc := newTestClient(t)

	resp := tc.get(t, "/api/posts/not-a-valid-id", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", resp.StatusCode)
	}
	var body struct {
		Errors []string `json:"errors"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Errors) == 0 {
		t.Fatalf("expected errors body")
	}
}

func TestListPostsSortedByVotes(t *testing.T) {
	tc := newTestClient(t)

	_, alice := registerUser(t, tc, "alice", "secret1")
	_, bob := registerUser(t, tc, "bob", "builder1")

	quiet := createPost(t, tc, alice, "Quiet thread", "nobody votes here")
	popular := createPost(t, tc, alice, "Popular thread", "everyone votes here")

	for _, token := range []string{alice, bob} {
		resp := tc.postJSON(t, "/api/posts/"+popular.ID+"/upvote", nil, cookieHeader(token))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("upvote status %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := tc.get(t, "/api/posts?sort=votes", nil)
	var posts []model.Post
	decodeJSON(t, resp, &posts)
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].ID != popular.ID || posts[1].ID != quiet.ID {
		t.Fatalf("expected votes ordering [popular quiet], got [%s %s]", posts[0].Title, posts[1].Title)
	}
}

func TestLogoutExpiresCookie(t *testing.T) {
	tc := newTestClient(t)

	_, token := registerUser(t, tc, "alice", "secret1")

	resp := tc.postJSON(t, "/api/users/logout", nil, cookieHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status %d", resp.StatusCode)
	}
	var cleared *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cleared = c
		}
	}
	resp.Body.Close()
	if cleared == nil {
		t.Fatalf("logout did not set a cookie")
	}
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected expired empty cookie, got value=%q maxage=%d", cleared.Value, cleared.MaxAge)
	}

	// The old token is stateless and stays valid until expiry; the
	// point of logout is that the browser stopped sending it. A client
	// without any cookie is rejected.
	me := tc.get(t, "/api/users/me", nil)
	if me.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", me.StatusCode)
	}
	me.Body.Close()
}

func TestSessionCookieAttributes(t *testing.T) {
	tc := newTestClient(t)

	resp := tc.postJSON(t, "/api/users/register", map[string]string{
		"username": "alice",
		"password": "secret1",
	}, nil)
	defer resp.Body.Close()
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("no session cookie set")
	}
	if !cookie.HttpOnly {
		t.Fatalf("session cookie must be http-only")
	}
	if cookie.MaxAge != int(time.Hour.Seconds()) {
		t.Fatalf("cookie max age %d does not match token ttl", cookie.MaxAge)
	}
}

func TestAuthRateLimit(t *testing.T) {
	tc := newTestClientWithConfig(t, config.Config{
		RateLimits: config.RateLimits{AuthPerMinute: 3},
	})

	for i := 0; i < 3; i++ {
		resp := tc.postJSON(t, "/api/users/login", map[string]string{
			"username": "alice",
			"password": "wrong",
		}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := tc.postJSON(t, "/api/users/login", map[string]string{
		"username": "alice",
		"password": "wrong",
	}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after budget, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	resp.Body.Close()
}

func TestUnknownRouteIs404(t *testing.T) {
	tc := newTestClient(t)

	resp := tc.get(t, "/api/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body struct {
		Message string `json:"message"`
	}
	decodeJSON(t, resp, &body)
	if body.Message != "not found" {
		t.Fatalf("unexpected body message %q", body.Message)
	}
}
