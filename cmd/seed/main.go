// Command seed fills a running forum server with demo users, posts,
// replies and votes through the public API.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"

	"github.com/learnato/forum/internal/client"
)

var users = []struct {
	name     string
	password string
}{
	{"alice", "wonderland"},
	{"bob", "builder1"},
	{"carol", "singer99"},
	{"dave", "gr4yseal"},
	{"erin", "observer"},
}

var posts = []struct {
	title   string
	content string
}{
	{"Welcome to the forum", "Introduce yourself and say hello to the community."},
	{"What are you reading this month?", "Looking for book recommendations, any genre welcome."},
	{"Tips for remote study groups", "We meet twice a week over video call. What tools work for you?"},
	{"Is it worth learning a second language as an adult?", "Curious about everyone's experience with late language learning."},
	{"Share your favorite productivity trick", "Mine is writing tomorrow's todo list before closing the laptop."},
	{"How do you take notes in lectures?", "Paper, tablet, or laptop? Pros and cons appreciated."},
	{"Best free resources for math revision", "Collecting links for exam season, will summarize in a reply."},
}

var replies = []string{
	"Great question, following this thread.",
	"I had the same problem last semester, happy to share what worked.",
	"Strongly agree with this.",
	"Not sure I agree, but appreciate the perspective.",
	"Can you share more details?",
	"This helped me a lot, thanks for posting.",
	"Bookmarking this for later.",
	"We tried this in our study group and it worked well.",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Forum server URL")
	flag.Parse()

	log.Printf("Seeding forum at %s...", *baseURL)

	var clients []*client.Client
	for _, u := range users {
		c := client.New(*baseURL)
		if _, err := c.Register(u.name, u.password); err != nil {
			// Re-runs hit the duplicate-username conflict; log in instead.
			if _, err := c.Login(u.name, u.password); err != nil {
				log.Fatalf("register %s: %v", u.name, err)
			}
		}
		log.Printf("✓ %s ready", u.name)
		clients = append(clients, c)
	}

	for i, p := range posts {
		author := clients[i%len(clients)]
		post, err := author.CreatePost(p.title, p.content)
		if err != nil {
			log.Fatalf("create post %q: %v", p.title, err)
		}

		for _, c := range clients {
			if rand.Intn(2) == 0 {
				if _, err := c.ToggleVote(post.ID); err != nil {
					log.Fatalf("vote on %q: %v", post.Title, err)
				}
			}
		}

		replyCount := rand.Intn(4)
		for j := 0; j < replyCount; j++ {
			replier := clients[rand.Intn(len(clients))]
			if _, err := replier.AddReply(post.ID, replies[rand.Intn(len(replies))]); err != nil {
				log.Fatalf("reply to %q: %v", post.Title, err)
			}
		}
		log.Printf("✓ %q (%d replies)", post.Title, replyCount)
	}

	fmt.Println("Done.")
}
