package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/vyuha/contentapi/internal/gql"
	"github.com/vyuha/contentapi/internal/posts"
)

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Options tunes the HTTP layer. Zero values fall back to defaults.
type Options struct {
	// CORSOrigin is sent as Access-Control-Allow-Origin; "*" allows all.
	CORSOrigin string
	// StaticDir, if set and present, is served at / with SPA fallback.
	StaticDir string
	// WriteRate and WriteBurst bound mutating requests per second.
	WriteRate  float64
	WriteBurst int
}

// Server is the HTTP API layer: REST endpoints, the GraphQL endpoint and
// the change event stream.
type Server struct {
	service      *posts.Service
	schema       *gql.Schema
	sse          *SSEBroadcaster
	mux          *http.ServeMux
	server       *http.Server
	opts         Options
	writeLimiter *rate.Limiter

	// closing is closed by Shutdown to end open event streams.
	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a Server wired to the posts service, its GraphQL
// schema and the SSE broadcaster the service notifies.
func NewServer(service *posts.Service, schema *gql.Schema, sse *SSEBroadcaster, opts Options) *Server {
	if sse == nil {
		sse = NewSSEBroadcaster()
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.WriteRate <= 0 {
		opts.WriteRate = 50
	}
	if opts.WriteBurst <= 0 {
		opts.WriteBurst = 100
	}
	return &Server{
		service:      service,
		schema:       schema,
		sse:          sse,
		mux:          http.NewServeMux(),
		opts:         opts,
		writeLimiter: rate.NewLimiter(rate.Limit(opts.WriteRate), opts.WriteBurst),
		closing:      make(chan struct{}),
	}
}

// RegisterRoutes wires up every API endpoint.
func (s *Server) RegisterRoutes() {
	// -- REST endpoints ---------------------------------------------------
	s.mux.HandleFunc("GET /api/posts", s.handleListPosts)
	s.mux.HandleFunc("POST /api/posts",
		s.withRateLimit(s.writeLimiter, s.handleCreatePost))
	s.mux.HandleFunc("PATCH /api/posts",
		s.withRateLimit(s.writeLimiter, s.handleUpdatePost))
	s.mux.HandleFunc("DELETE /api/posts/{id}",
		s.withRateLimit(s.writeLimiter, s.handleDeletePost))

	// -- GraphQL ----------------------------------------------------------
	s.mux.HandleFunc("POST /graphql", s.handleGraphQLPost)
	s.mux.HandleFunc("GET /graphql", s.handleGraphQLGet)
	s.mux.HandleFunc("GET /graphql/schema", s.handleGraphQLSchema)

	// -- SSE event stream -------------------------------------------------
	s.mux.HandleFunc("GET /api/events", s.handleSSE)

	// -- Health check -----------------------------------------------------
	s.mux.HandleFunc("GET /health", s.handleHealth)

	if !s.serveFrontend() {
		s.mux.HandleFunc("GET /{$}", s.handleIndex)
	}
}

// serveFrontend registers a static file handler for a pre-built frontend
// bundle. It reports whether a bundle was found.
func (s *Server) serveFrontend() bool {
	distDir := s.opts.StaticDir
	if distDir == "" {
		return false
	}
	if info, err := os.Stat(distDir); err != nil || !info.IsDir() {
		slog.Warn("static dir not found, frontend not served", "dir", distDir)
		return false
	}
	slog.Info("serving frontend", "dir", distDir)

	distFS := os.DirFS(distDir)
	fileServer := http.FileServerFS(distFS)

	// Serve the SPA: try the file first, fall back to index.html.
	s.mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := fs.Stat(distFS, path); err == nil && !f.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
	return true
}

// Handler returns the fully-wrapped http.Handler (middleware chain + mux).
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = recoveryMiddleware(h)
	h = loggingMiddleware(h)
	h = requestIDMiddleware(h)
	h = corsMiddleware(s.opts.CORSOrigin, h)
	return otelhttp.NewHandler(h, "contentapi",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"service":     "contentapi",
		"sse_clients": s.sse.ClientCount(),
		"sse_dropped": s.sse.Dropped(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"endpoints": []string{"/graphql", "/api/posts"},
	})
}

// ---------------------------------------------------------------------------
// JSON response helpers
// ---------------------------------------------------------------------------

// writeJSON writes an arbitrary value as JSON with the given HTTP status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a standardised JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// writeStoreError reports a failed service call as a 500 with the
// underlying messages in details.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("store operation failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", RequestID(r.Context()),
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"error":   "store error",
		"code":    "STORE_ERROR",
		"details": []string{err.Error()},
	})
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware answers preflight requests and sets CORS headers for the
// configured origin.
func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if origin != "*" {
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestIDMiddleware propagates X-Request-ID, generating one if absent.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// responseRecorder captures the status code written by downstream handlers.
// It also implements http.Flusher so SSE streaming works through the
// logging middleware.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher by delegating to the underlying writer.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// loggingMiddleware logs method, path, duration and status code.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"request_id", RequestID(r.Context()),
		)
	})
}

// recoveryMiddleware catches panics and returns a 500 response.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				slog.Error("panic recovered",
					"error", err,
					"stack", string(stack),
					"request_id", RequestID(r.Context()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"error":"internal server error"}`)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withRateLimit wraps a handler with a token-bucket rate limiter.
// NOTE: this is a per-server limiter (not per-IP).
func (s *Server) withRateLimit(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limited(limiter, w, r) {
			return
		}
		next(w, r)
	}
}

// limited takes a token from limiter, or writes a 429 and reports true when
// none is left.
func (s *Server) limited(limiter *rate.Limiter, w http.ResponseWriter, r *http.Request) bool {
	if limiter.Allow() {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Burst()))
	w.Header().Set("X-RateLimit-Remaining",
		fmt.Sprintf("%d", int(limiter.Tokens())))
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprint(w, `{"error":"rate limit exceeded","retry_after_ms":1000}`)
	slog.Warn("rate limit exceeded",
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)
	return true
}
