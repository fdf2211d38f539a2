package httpapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/learnato/forum/internal/auth"
	"github.com/learnato/forum/internal/config"
	"github.com/learnato/forum/internal/model"
	"github.com/learnato/forum/internal/rate"
	"github.com/learnato/forum/internal/store"

	"github.com/google/uuid"
)

const sessionCookie = "forum_session"

type Server struct {
	store   store.Store
	auth    *auth.Service
	limiter rate.Limiter
	cfg     config.Config
}

func NewServer(st store.Store, authSvc *auth.Service, limiter rate.Limiter, cfg config.Config) *Server {
	return &Server{store: st, auth: authSvc, limiter: limiter, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "forum api running"})
		return
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		s.handleAPI(w, r)
		return
	}
	notFound(w)
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	segments := splitPath(path)

	switch {
	case len(segments) == 2 && segments[0] == "users" && segments[1] == "register":
		if r.Method == http.MethodPost {
			s.handleRegister(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "users" && segments[1] == "login":
		if r.Method == http.MethodPost {
			s.handleLogin(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "users" && segments[1] == "logout":
		if r.Method == http.MethodPost {
			s.handleLogout(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "users" && segments[1] == "me":
		if r.Method == http.MethodGet {
			s.handleMe(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "posts":
		if r.Method == http.MethodPost {
			s.handleCreatePost(w, r)
			return
		}
		if r.Method == http.MethodGet {
			s.handleListPosts(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "posts":
		if r.Method == http.MethodGet {
			s.handleGetPost(w, r, segments[1])
			return
		}
	case len(segments) == 3 && segments[0] == "posts" && segments[2] == "reply":
		if r.Method == http.MethodPost {
			s.handleAddReply(w, r, segments[1])
			return
		}
	case len(segments) == 3 && segments[0] == "posts" && segments[2] == "upvote":
		if r.Method == http.MethodPost {
			s.handleToggleVote(w, r, segments[1])
			return
		}
	}

	notFound(w)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "auth", s.cfg.RateLimits.AuthPerMinute) {
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	if errs := validateCredentials(username, req.Password); len(errs) > 0 {
		writeValidationErrors(w, errs)
		return
	}

	user, err := s.auth.Register(r.Context(), username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			writeError(w, http.StatusBadRequest, errors.New("username already taken"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.setSession(w, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "auth", s.cfg.RateLimits.AuthPerMinute) {
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := s.auth.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.setSession(w, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearSession(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	sort := store.SortDate
	if r.URL.Query().Get("sort") == "votes" {
		sort = store.SortVotes
	}
	posts, err := s.store.ListPosts(r.Context(), store.PostListOpts{Sort: sort})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if posts == nil {
		posts = []model.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	content := strings.TrimSpace(req.Content)
	var errs []string
	if utf8.RuneCountInString(title) < 3 {
		errs = append(errs, "title must be at least 3 characters long")
	}
	if utf8.RuneCountInString(content) < 5 {
		errs = append(errs, "content must be at least 5 characters long")
	}
	if len(errs) > 0 {
		writeValidationErrors(w, errs)
		return
	}

	post := model.Post{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		AuthorUsername: user.Username,
		Title:          title,
		Content:        content,
		Voters:         []string{},
		Replies:        []model.Reply{},
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreatePost(r.Context(), &post); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request, id string) {
	if !validID(w, id) {
		return
	}
	post, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleAddReply(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if !validID(w, id) {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeValidationErrors(w, []string{"reply content is required"})
		return
	}

	reply := model.Reply{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		AuthorUsername: user.Username,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	post, err := s.store.AddReply(r.Context(), id, reply)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleToggleVote(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if !validID(w, id) {
		return
	}
	post, err := s.store.ToggleVote(r.Context(), id, user.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// requireAuth resolves the session cookie to a user. Every failure
// mode (missing cookie, bad or expired token, stale user id) gets the
// same 401 body so the response does not leak which check failed.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	var token string
	if c, err := r.Cookie(sessionCookie); err == nil {
		token = c.Value
	}
	user, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errors.New("not authorized"))
		return model.User{}, false
	}
	return user, true
}

func (s *Server) setSession(w http.ResponseWriter, userID string) error {
	token, err := s.auth.IssueToken(userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, s.sessionCookie(token, int(s.auth.TokenTTL().Seconds())))
	return nil
}

// clearSession overwrites the cookie with an already-expired value so
// the client stops presenting credentials. Safe to call repeatedly.
func (s *Server) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, s.sessionCookie("", -1))
}

func (s *Server) sessionCookie(value string, maxAge int) *http.Cookie {
	// SameSite=None lets the SPA call the API cross-site, but browsers
	// only accept it on Secure cookies.
	sameSite := http.SameSiteLaxMode
	if s.cfg.CookieSecure {
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: sameSite,
	}
}

func (s *Server) allowRateLimit(w http.ResponseWriter, r *http.Request, action string, limit int) bool {
	if limit <= 0 {
		return true
	}
	key := fmt.Sprintf("%s:ip:%s", action, s.clientIP(r))
	if ok, retry := s.limiter.Allow(key, limit, time.Minute); !ok {
		writeRateLimit(w, retry)
		return false
	}
	return true
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Length rules count characters, not bytes, so multibyte names are
// measured the way users read them.
func validateCredentials(username, password string) []string {
	var errs []string
	if utf8.RuneCountInString(username) < 3 {
		errs = append(errs, "username must be at least 3 characters long")
	}
	if utf8.RuneCountInString(password) < 6 {
		errs = append(errs, "password must be at least 6 characters long")
	}
	return errs
}

// validID rejects path ids that are not store identifiers before any
// lookup happens, mirroring the id format check in front of every
// /posts/{id} route.
func validID(w http.ResponseWriter, id string) bool {
	if _, err := uuid.Parse(id); err != nil {
		writeValidationErrors(w, []string{"invalid id"})
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("post not found"))
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"message": err.Error()})
}

func writeValidationErrors(w http.ResponseWriter, errs []string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"message":     "rate limit exceeded",
		"retry_after": int(retry.Seconds()),
	})
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
