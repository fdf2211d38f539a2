// Package client provides a Go client for the forum API. The CLI, the
// seeder and the end-to-end tests all drive the server through it.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/learnato/forum/internal/model"
)

// SessionCookie is the cookie the server issues on register/login.
const SessionCookie = "forum_session"

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// Token is the session JWT captured from the last register/login
	// response and presented as a cookie on subsequent requests.
	Token string
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Register creates an account and stores the session token.
func (c *Client) Register(username, password string) (model.User, error) {
	var user model.User
	resp, err := c.do(http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"password": password,
	}, &user)
	if err != nil {
		return model.User{}, err
	}
	c.captureSession(resp)
	return user, nil
}

// Login authenticates and stores the session token.
func (c *Client) Login(username, password string) (model.User, error) {
	var user model.User
	resp, err := c.do(http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": password,
	}, &user)
	if err != nil {
		return model.User{}, err
	}
	c.captureSession(resp)
	return user, nil
}

// Logout clears the session on the server and locally.
func (c *Client) Logout() error {
	if _, err := c.do(http.MethodPost, "/api/users/logout", nil, nil); err != nil {
		return err
	}
	c.Token = ""
	return nil
}

// Me returns the identity behind the stored session token.
func (c *Client) Me() (model.User, error) {
	var user model.User
	_, err := c.do(http.MethodGet, "/api/users/me", nil, &user)
	return user, err
}

// CreatePost submits a new post.
func (c *Client) CreatePost(title, content string) (model.Post, error) {
	var post model.Post
	_, err := c.do(http.MethodPost, "/api/posts", map[string]string{
		"title":   title,
		"content": content,
	}, &post)
	return post, err
}

// ListPosts fetches all posts, sorted by "date" or "votes".
func (c *Client) ListPosts(sort string) ([]model.Post, error) {
	path := "/api/posts"
	if sort != "" {
		path += "?sort=" + sort
	}
	var posts []model.Post
	_, err := c.do(http.MethodGet, path, nil, &posts)
	return posts, err
}

// GetPost fetches one post with its replies and voters.
func (c *Client) GetPost(id string) (model.Post, error) {
	var post model.Post
	_, err := c.do(http.MethodGet, "/api/posts/"+id, nil, &post)
	return post, err
}

// AddReply appends a reply and returns the updated post.
func (c *Client) AddReply(postID, content string) (model.Post, error) {
	var post model.Post
	_, err := c.do(http.MethodPost, "/api/posts/"+postID+"/reply", map[string]string{
		"content": content,
	}, &post)
	return post, err
}

// ToggleVote flips the caller's upvote and returns the updated post.
func (c *Client) ToggleVote(postID string) (model.Post, error) {
	var post model.Post
	_, err := c.do(http.MethodPost, "/api/posts/"+postID+"/upvote", nil, &post)
	return post, err
}

func (c *Client) do(method, path string, body, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: c.Token})
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return resp, apiError(resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

func (c *Client) captureSession(resp *http.Response) {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookie && cookie.Value != "" {
			c.Token = cookie.Value
		}
	}
}

func apiError(status int, raw []byte) error {
	var body struct {
		Message string   `json:"message"`
		Errors  []string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.Errors) > 0 {
			return fmt.Errorf("status %d: %s", status, strings.Join(body.Errors, "; "))
		}
		if body.Message != "" {
			return fmt.Errorf("status %d: %s", status, body.Message)
		}
	}
	return errors.New(http.StatusText(status))
}
