// ===========================================================================
// scripts/concurrent_writers: Hammer a running server with parallel writes
//
// Fires concurrent POST /api/posts requests and then checks that every
// returned id is distinct and every created post is listed.
//
// Usage:
//   go run ./scripts/concurrent_writers \
//       --server http://localhost:4000 \
//       --writers 20 --per-writer 10
// ===========================================================================
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

var (
	server    = flag.String("server", "http://localhost:4000", "contentapi server URL")
	writers   = flag.Int("writers", 20, "Concurrent writer goroutines")
	perWriter = flag.Int("per-writer", 10, "Posts created by each writer")
	cleanup   = flag.Bool("cleanup", true, "Delete the created posts afterwards")
)

type post struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type result struct {
	post    post
	err     error
	retries int
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func main() {
	flag.Parse()
	base := strings.TrimRight(*server, "/")

	fmt.Printf("Server:  %s\n", base)
	fmt.Printf("Writers: %d × %d posts\n\n", *writers, *perWriter)

	total := (*writers) * (*perWriter)
	results := make(chan result, total)
	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < *writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < *perWriter; i++ {
				results <- create(base, fmt.Sprintf("writer %d post %d", w, i))
			}
		}(w)
	}
	wg.Wait()
	close(results)
	elapsed := time.Since(start)

	var (
		created  []post
		failures int
		retries  int
		seen     = map[string]string{}
		dupes    []string
	)
	for r := range results {
		retries += r.retries
		if r.err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "  create failed: %v\n", r.err)
			continue
		}
		if prev, ok := seen[r.post.ID]; ok {
			dupes = append(dupes, fmt.Sprintf("id %s given to %q and %q", r.post.ID, prev, r.post.Title))
		}
		seen[r.post.ID] = r.post.Title
		created = append(created, r.post)
	}

	listed, err := list(base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		os.Exit(1)
	}
	present := map[string]bool{}
	for _, p := range listed {
		present[p.ID+"\x00"+p.Title] = true
	}
	var lost []string
	for _, p := range created {
		if !present[p.ID+"\x00"+p.Title] {
			lost = append(lost, p.ID)
		}
	}

	fmt.Printf("Created:   %d in %s (%d rate-limit retries)\n", len(created), elapsed.Round(time.Millisecond), retries)
	fmt.Printf("Failures:  %d\n", failures)
	fmt.Printf("Duplicate: %d\n", len(dupes))
	fmt.Printf("Lost:      %d\n", len(lost))
	for _, d := range dupes {
		fmt.Println("  " + d)
	}
	for _, id := range lost {
		fmt.Println("  missing from list: " + id)
	}

	if *cleanup {
		for _, p := range created {
			if err := remove(base, p.ID); err != nil {
				fmt.Fprintf(os.Stderr, "  delete %s: %v\n", p.ID, err)
			}
		}
	}

	if failures > 0 || len(dupes) > 0 || len(lost) > 0 {
		os.Exit(1)
	}
	fmt.Println("\nOK: ids unique, no writes lost")
}

// create posts one title, retrying while the server rate-limits.
func create(base, title string) result {
	body, _ := json.Marshal(map[string]string{"title": title})
	var r result
	for {
		resp, err := httpClient.Post(base+"/api/posts", "application/json", bytes.NewReader(body))
		if err != nil {
			r.err = err
			return r
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			r.retries++
			wait := time.Second
			if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				wait = time.Duration(s) * time.Second
			}
			time.Sleep(wait)
			continue
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			msg, _ := io.ReadAll(resp.Body)
			r.err = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
			return r
		}
		var out struct {
			Doc post `json:"doc"`
		}
		r.err = json.NewDecoder(resp.Body).Decode(&out)
		r.post = out.Doc
		return r
	}
}

func list(base string) ([]post, error) {
	resp, err := httpClient.Get(base + "/api/posts")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		Docs []post `json:"docs"`
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out.Docs, err
}

func remove(base, id string) error {
	req, err := http.NewRequest(http.MethodDelete, base+"/api/posts/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
