// ---------------------------------------------------------------------------
// scripts/demo_scenario/main.go: Scripted walkthrough of the posts API
//
// Usage:
//   go run ./scripts/demo_scenario --server http://localhost:4000
//
// Flags:
//   --server  Base URL of the contentapi server  (default: http://localhost:4000)
//   --posts   Number of posts to create          (default: 5)
//   --delay   Pause between requests             (default: 300ms)
// ---------------------------------------------------------------------------
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// ANSI colour helpers
// ---------------------------------------------------------------------------

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	cyan   = "\033[36m"
	white  = "\033[37m"
)

func colour(c, s string) string { return c + s + reset }
func header(phase int, msg string) {
	bar := strings.Repeat("━", 60)
	fmt.Println()
	fmt.Println(colour(dim, bar))
	fmt.Printf("  %s  %s\n", colour(bold+cyan, fmt.Sprintf("Phase %d/5", phase)), colour(bold+white, msg))
	fmt.Println(colour(dim, bar))
}

// ---------------------------------------------------------------------------
// API types (mirrors the backend JSON shapes)
// ---------------------------------------------------------------------------

type post struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type listResp struct {
	Docs []post `json:"docs"`
}

type docResp struct {
	Doc *post `json:"doc"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type gqlResp struct {
	Data struct {
		Posts []post `json:"posts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

type client struct {
	base string
	http *http.Client
}

func (c *client) do(method, path string, body, target interface{}) (int, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if target == nil {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(target)
}

func (c *client) list(search string) ([]post, error) {
	path := "/api/posts"
	if search != "" {
		path += "?q=" + url.QueryEscape(search)
	}
	var lr listResp
	_, err := c.do(http.MethodGet, path, nil, &lr)
	return lr.Docs, err
}

// ---------------------------------------------------------------------------
// Printing helpers
// ---------------------------------------------------------------------------

func printPosts(docs []post) {
	if len(docs) == 0 {
		fmt.Println(colour(dim, "    (no posts)"))
		return
	}
	for _, p := range docs {
		fmt.Printf("    %s  %s\n", colour(bold+blue, fmt.Sprintf("#%-4s", p.ID)), p.Title)
	}
}

func step(ok bool, format string, args ...interface{}) {
	mark := colour(green, "✓")
	if !ok {
		mark = colour(red, "✗")
	}
	fmt.Printf("  %s %s\n", mark, fmt.Sprintf(format, args...))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "\n  %s %s\n\n", colour(bold+red, "Error:"), err)
	os.Exit(1)
}

// ---------------------------------------------------------------------------
// Demo
// ---------------------------------------------------------------------------

func runDemo(c *client, count int, delay time.Duration) {
	// ---- Phase 1: Current state -------------------------------------------
	header(1, colour(green, "Current posts"))
	docs, err := c.list("")
	if err != nil {
		fatal(err)
	}
	printPosts(docs)

	// ---- Phase 2: Create --------------------------------------------------
	header(2, colour(green, fmt.Sprintf("Creating %d posts", count)))
	var created []post
	for i := 1; i <= count; i++ {
		var dr docResp
		title := fmt.Sprintf("  Demo post %d  ", i)
		status, err := c.do(http.MethodPost, "/api/posts", map[string]string{"title": title}, &dr)
		if err != nil {
			step(false, "%v", err)
			continue
		}
		created = append(created, *dr.Doc)
		step(true, "%d created #%s %q", status, dr.Doc.ID, dr.Doc.Title)
		time.Sleep(delay)
	}

	_, err = c.do(http.MethodPost, "/api/posts", map[string]string{"title": "   "}, nil)
	step(err != nil, "blank title rejected: %v", err)

	// ---- Phase 3: Update --------------------------------------------------
	header(3, colour(yellow, "Renaming posts"))
	for i, p := range created {
		if i%2 == 1 {
			continue
		}
		var dr docResp
		if _, err := c.do(http.MethodPatch, "/api/posts",
			map[string]string{"id": p.ID, "title": p.Title + " (edited)"}, &dr); err != nil {
			step(false, "%v", err)
			continue
		}
		step(dr.Doc != nil, "renamed #%s", p.ID)
		time.Sleep(delay)
	}
	var missing docResp
	if _, err := c.do(http.MethodPatch, "/api/posts",
		map[string]string{"id": "does-not-exist", "title": "x"}, &missing); err == nil {
		step(missing.Doc == nil, "update of unknown id returns null")
	}

	// ---- Phase 4: Search over REST and GraphQL ----------------------------
	header(4, colour(cyan, "Searching"))
	docs, err = c.list("EDITED")
	if err != nil {
		fatal(err)
	}
	fmt.Println(colour(dim, "  REST  GET /api/posts?q=EDITED"))
	printPosts(docs)

	var gr gqlResp
	if _, err := c.do(http.MethodPost, "/graphql", map[string]interface{}{
		"query":     "query($s: String) { posts(search: $s) { id title } }",
		"variables": map[string]string{"s": "edited"},
	}, &gr); err != nil {
		fatal(err)
	}
	fmt.Println(colour(dim, "  GraphQL posts(search: \"edited\")"))
	printPosts(gr.Data.Posts)
	step(len(gr.Data.Posts) == len(docs) && len(gr.Errors) == 0, "REST and GraphQL agree (%d matches)", len(docs))

	// ---- Phase 5: Delete --------------------------------------------------
	header(5, colour(red, "Cleaning up"))
	for _, p := range created {
		var or okResp
		if _, err := c.do(http.MethodDelete, "/api/posts/"+url.PathEscape(p.ID), nil, &or); err != nil {
			step(false, "%v", err)
			continue
		}
		step(or.OK, "deleted #%s", p.ID)
		time.Sleep(delay)
	}
	if len(created) > 0 {
		var or okResp
		if _, err := c.do(http.MethodDelete, "/api/posts/"+url.PathEscape(created[0].ID), nil, &or); err == nil {
			step(!or.OK, "second delete of #%s reports ok=false", created[0].ID)
		}
	}

	docs, err = c.list("")
	if err != nil {
		fatal(err)
	}
	fmt.Println()
	printPosts(docs)
}

// ---------------------------------------------------------------------------
// main
// ---------------------------------------------------------------------------

func main() {
	serverFlag := flag.String("server", "http://localhost:4000", "contentapi server base URL")
	postsFlag := flag.Int("posts", 5, "Number of posts to create")
	delayFlag := flag.Duration("delay", 300*time.Millisecond, "Pause between requests")
	flag.Parse()

	c := &client{
		base: strings.TrimRight(*serverFlag, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}

	fmt.Printf("\n  %s %s\n", colour(dim, "Connecting to"), colour(white, c.base))
	if _, err := c.do(http.MethodGet, "/health", nil, nil); err != nil {
		fatal(err)
	}

	runDemo(c, *postsFlag, *delayFlag)

	bar := strings.Repeat("━", 60)
	fmt.Println()
	fmt.Println(colour(dim, bar))
	fmt.Printf("\n  %s\n\n", colour(bold+green, "✓ Demo complete."))
	fmt.Println(colour(dim, bar))
}
