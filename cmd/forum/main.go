package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/learnato/forum/internal/auth"
	"github.com/learnato/forum/internal/client"
	"github.com/learnato/forum/internal/config"
	httpapp "github.com/learnato/forum/internal/http"
	"github.com/learnato/forum/internal/rate"
	"github.com/learnato/forum/internal/store/sqlite"
)

// CLIConfig holds the CLI client configuration persisted to disk.
type CLIConfig struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

func main() {
	if len(os.Args) < 2 {
		runServer()
		return
	}

	cmd := os.Args[1]

	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}

	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println("forum v0.1.0")
		return
	}

	if strings.HasPrefix(cmd, "-") {
		runServer()
		return
	}

	args := os.Args[2:]

	switch cmd {
	case "server", "serve":
		runServer()
	case "register":
		cmdRegister(args)
	case "login":
		cmdLogin(args)
	case "logout":
		cmdLogout(args)
	case "whoami", "status":
		cmdWhoami(args)
	case "post", "submit":
		cmdPost(args)
	case "reply", "comment":
		cmdReply(args)
	case "vote", "upvote":
		cmdVote(args)
	case "read", "list":
		cmdRead(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`forum - discussion forum server and client

Usage: forum <command> [options]

Quick Start:
  forum register --name alice --password secret1
  forum post --title "Hello" --content "First post!"

Client Commands:
  register            Create an account and start a session
  login               Authenticate an existing account
  logout              End the current session
  whoami              Show the logged-in account
  post                Create a new post
  reply               Reply to a post
  vote                Toggle your upvote on a post
  read                List posts, or show one post with replies

Server:
  server              Start the forum server (default if no command)

Examples:
  forum register --name alice --password secret1
  forum post --title "Interesting question" --content "What do you all think?"
  forum reply --post <id> --content "Great question!"
  forum vote --post <id>
  forum read --sort votes
  forum read --post <id>

Environment Variables (server):
  FORUM_ADDR            Listen address (default: :8080)
  FORUM_DB              Database path (default: forum.db)
  FORUM_JWT_SECRET      Session signing secret (required)
  FORUM_TOKEN_TTL       Session lifetime (default: 720h)
  FORUM_COOKIE_SECURE   Set Secure on the session cookie (default: true)`)
}

// ============================================================================
// SERVER
// ============================================================================

func runServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer store.Close()

	limiter := rate.NewMemory()
	authSvc := auth.NewService(store, []byte(cfg.JWTSecret), cfg.TokenTTL)
	server := httpapp.NewServer(store, authSvc, limiter, cfg)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("forum listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

// ============================================================================
// CLIENT COMMANDS
// ============================================================================

func cmdRegister(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	name := fs.String("name", "", "Username (required)")
	password := fs.String("password", "", "Password (required)")
	url := fs.String("url", "http://localhost:8080", "Forum server URL")
	fs.Parse(args)

	if *name == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "Error: --name and --password are required")
		os.Exit(1)
	}

	c := client.New(*url)
	user, err := c.Register(*name, *password)
	if err != nil {
		fatalf("register: %v", err)
	}
	saveSession(c, user.Username)
	fmt.Printf("✓ Registered and logged in as %s\n", user.Username)
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	name := fs.String("name", "", "Username (required)")
	password := fs.String("password", "", "Password (required)")
	url := fs.String("url", "", "Forum server URL (default: saved config)")
	fs.Parse(args)

	if *name == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "Error: --name and --password are required")
		os.Exit(1)
	}

	c := loadClient(*url)
	user, err := c.Login(*name, *password)
	if err != nil {
		fatalf("login: %v", err)
	}
	saveSession(c, user.Username)
	fmt.Printf("✓ Logged in as %s\n", user.Username)
}

func cmdLogout(args []string) {
	c := loadClient("")
	if err := c.Logout(); err != nil {
		fatalf("logout: %v", err)
	}
	saveSession(c, "")
	fmt.Println("✓ Logged out")
}

func cmdWhoami(args []string) {
	c := loadClient("")
	user, err := c.Me()
	if err != nil {
		fatalf("whoami: %v", err)
	}
	fmt.Printf("%s (id %s, joined %s)\n", user.Username, user.ID, user.CreatedAt.Format("2006-01-02"))
}

func cmdPost(args []string) {
	fs := flag.NewFlagSet("post", flag.ExitOnError)
	title := fs.String("title", "", "Post title (required)")
	content := fs.String("content", "", "Post content (required)")
	fs.Parse(args)

	if *title == "" || *content == "" {
		fmt.Fprintln(os.Stderr, "Error: --title and --content are required")
		os.Exit(1)
	}

	c := loadClient("")
	post, err := c.CreatePost(*title, *content)
	if err != nil {
		fatalf("post: %v", err)
	}
	fmt.Printf("✓ Posted %q (id %s)\n", post.Title, post.ID)
}

func cmdReply(args []string) {
	fs := flag.NewFlagSet("reply", flag.ExitOnError)
	postID := fs.String("post", "", "Post id (required)")
	content := fs.String("content", "", "Reply content (required)")
	fs.Parse(args)

	if *postID == "" || *content == "" {
		fmt.Fprintln(os.Stderr, "Error: --post and --content are required")
		os.Exit(1)
	}

	c := loadClient("")
	post, err := c.AddReply(*postID, *content)
	if err != nil {
		fatalf("reply: %v", err)
	}
	fmt.Printf("✓ Replied to %q (%d replies)\n", post.Title, len(post.Replies))
}

func cmdVote(args []string) {
	fs := flag.NewFlagSet("vote", flag.ExitOnError)
	postID := fs.String("post", "", "Post id (required)")
	fs.Parse(args)

	if *postID == "" {
		fmt.Fprintln(os.Stderr, "Error: --post is required")
		os.Exit(1)
	}

	c := loadClient("")
	post, err := c.ToggleVote(*postID)
	if err != nil {
		fatalf("vote: %v", err)
	}
	fmt.Printf("✓ %q now has %d votes\n", post.Title, post.Votes)
}

func cmdRead(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	postID := fs.String("post", "", "Show one post with replies")
	sort := fs.String("sort", "date", "Sort order: date or votes")
	fs.Parse(args)

	c := loadClient("")

	if *postID != "" {
		post, err := c.GetPost(*postID)
		if err != nil {
			fatalf("read: %v", err)
		}
		fmt.Printf("%s\n  by %s, %d votes, %s\n\n%s\n", post.Title, post.AuthorUsername, post.Votes, post.CreatedAt.Format("2006-01-02 15:04"), post.Content)
		for _, reply := range post.Replies {
			fmt.Printf("\n  > %s (%s)\n    %s\n", reply.AuthorUsername, reply.CreatedAt.Format("2006-01-02 15:04"), reply.Content)
		}
		return
	}

	posts, err := c.ListPosts(*sort)
	if err != nil {
		fatalf("read: %v", err)
	}
	for _, post := range posts {
		fmt.Printf("%3d ▲  %s\n       by %s, %d replies (id %s)\n", post.Votes, post.Title, post.AuthorUsername, len(post.Replies), post.ID)
	}
}

// ============================================================================
// CLI CONFIG
// ============================================================================

func cliConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".forum-config.json"
	}
	return filepath.Join(home, ".forum", "config.json")
}

func loadClient(urlOverride string) *client.Client {
	cfg := loadCLIConfig()
	baseURL := cfg.BaseURL
	if urlOverride != "" {
		baseURL = urlOverride
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := client.New(baseURL)
	c.Token = cfg.Token
	return c
}

func loadCLIConfig() CLIConfig {
	var cfg CLIConfig
	data, err := os.ReadFile(cliConfigPath())
	if err != nil {
		return cfg
	}
	_ = json.Unmarshal(data, &cfg)
	return cfg
}

func saveSession(c *client.Client, username string) {
	cfg := CLIConfig{BaseURL: c.BaseURL, Username: username, Token: c.Token}
	path := cliConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		fatalf("save config: %v", err)
	}
	data, _ := json.MarshalIndent(cfg, "", "  ")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		fatalf("save config: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
