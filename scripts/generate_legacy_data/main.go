// ===========================================================================
// scripts/generate_legacy_data: Write a pre-counter state file
//
// Produces {"posts": [...]} without a nextId field, the layout older
// deployments wrote. Point the server (or postctl) at it to watch the
// store migrate it on first write.
//
// Usage:
//   go run ./scripts/generate_legacy_data --out var/posts.json --count 50
// ===========================================================================
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

var (
	outPath  = flag.String("out", "var/posts.json", "Output state file path")
	count    = flag.Int("count", 25, "Number of posts to generate")
	oddIDs   = flag.Float64("odd-ids", 0.1, "Fraction of posts with non-numeric ids")
	seed     = flag.Int64("seed", 42, "Random seed for reproducibility")
	force    = flag.Bool("force", false, "Overwrite an existing file")
	withNull = flag.Bool("null-next-id", false, `Write "nextId": null instead of omitting it`)
)

var (
	subjects = []string{"Release", "Roadmap", "Incident", "Changelog", "Meetup", "Tutorial", "Benchmark"}
	topics   = []string{"notes", "recap", "draft", "review", "update", "plan", "summary"}
)

type legacyPost struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func main() {
	flag.Parse()

	if *count < 0 {
		log.Fatal("--count must not be negative")
	}
	if _, err := os.Stat(*outPath); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "ERROR: %s exists (use --force to overwrite)\n", *outPath)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))

	posts := make([]legacyPost, 0, *count)
	var highest int
	id := 0
	for i := 0; i < *count; i++ {
		var p legacyPost
		if rng.Float64() < *oddIDs {
			// Hand-edited or imported records carried opaque ids.
			p.ID = "legacy-" + uuid.NewString()[:8]
		} else {
			id += 1 + rng.Intn(3) // gaps from old deletes
			p.ID = strconv.Itoa(id)
			highest = id
		}
		p.Title = fmt.Sprintf("%s %s #%d", subjects[rng.Intn(len(subjects))], topics[rng.Intn(len(topics))], i+1)
		if rng.Intn(10) == 0 {
			p.Title = "  " + p.Title + "  "
		}
		posts = append(posts, p)
	}

	doc := map[string]interface{}{"posts": posts}
	if *withNull {
		doc["nextId"] = nil
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Fatalf("encode: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
		log.Fatalf("create dir: %v", err)
	}
	if err := os.WriteFile(*outPath, append(data, '\n'), 0o644); err != nil {
		log.Fatalf("write %s: %v", *outPath, err)
	}

	fmt.Printf("Wrote %d posts to %s\n", len(posts), *outPath)
	fmt.Printf("Highest numeric id: %d (next create should get %d)\n", highest, highest+1)
	fmt.Println(strings.Repeat("─", 40))
	fmt.Println("Try: go run ./cmd/postctl --data " + *outPath + " add \"first after migration\"")
}
