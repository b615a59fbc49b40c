package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vyuha/contentapi/internal/api"
	"github.com/vyuha/contentapi/internal/config"
	"github.com/vyuha/contentapi/internal/gql"
	"github.com/vyuha/contentapi/internal/posts"
	"github.com/vyuha/contentapi/internal/storage"
	"github.com/vyuha/contentapi/internal/telemetry"
	"github.com/vyuha/contentapi/internal/watch"
)

// initLogger configures the global slog default with JSON output.
func initLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(h))
}

func main() {
	// ---- Config: flag > env > YAML file > default --------------------------
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	dataPath := cfg.ResolvedDataPath()

	initLogger(cfg.LogLevel)

	// ---- Telemetry -------------------------------------------------------
	ctx := context.Background()
	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "contentapi",
		UseStdout:   cfg.TraceStdout,
	})
	if err != nil {
		log.Fatalf("failed to initialise tracing: %v", err)
	}

	// ---- Storage ---------------------------------------------------------
	store, err := storage.Open(cfg.Backend, dataPath)
	if err != nil {
		log.Fatalf("failed to initialise storage: %v", err)
	}

	// Touch the store once so seeding and migration happen at startup and
	// a corrupt state file fails fast.
	st, err := store.Snapshot(ctx)
	if err != nil {
		log.Fatalf("failed to load posts: %v", err)
	}

	// ---- SSE Broadcaster -------------------------------------------------
	sse := api.NewSSEBroadcaster()

	// ---- State file watcher (JSON backend only) ---------------------------
	var watcher *watch.Watcher
	if cfg.Backend == storage.BackendJSON && cfg.WatchInterval > 0 {
		watcher = watch.New(dataPath, cfg.WatchInterval, sse)
		if err := watcher.Start(ctx); err != nil {
			log.Fatalf("failed to start state watcher: %v", err)
		}
		store = watcher.Guard(store)
	}

	// ---- Facade + GraphQL ------------------------------------------------
	svc := posts.NewService(store, sse)
	schema, err := gql.NewSchema(svc)
	if err != nil {
		log.Fatalf("failed to build GraphQL schema: %v", err)
	}

	// ---- HTTP Server -----------------------------------------------------
	srv := api.NewServer(svc, schema, sse, api.Options{
		CORSOrigin: cfg.CORSOrigin,
		StaticDir:  cfg.StaticDir,
		WriteRate:  cfg.WriteRate,
		WriteBurst: cfg.WriteBurst,
	})

	// ---- Startup banner --------------------------------------------------
	banner := fmt.Sprintf(`
═══════════════════════════════
 CONTENTAPI: Posts
 Backend: %s
 Data:    %s
 Port:    %d
 Posts loaded: %d
 Next id:      %d
═══════════════════════════════`, cfg.Backend, dataPath, cfg.Port, len(st.Posts), st.NextID)
	fmt.Println(banner)

	slog.Info("contentapi starting",
		"backend", cfg.Backend,
		"data_path", dataPath,
		"port", cfg.Port,
		"posts", len(st.Posts),
		"next_id", st.NextID,
	)

	srv.RegisterRoutes()

	addr := fmt.Sprintf(":%d", cfg.Port)

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// ---- Graceful shutdown -----------------------------------------------
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if watcher != nil {
		watcher.Stop()
	}

	if err := store.Close(); err != nil {
		slog.Error("storage close error", "error", err)
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("tracer shutdown error", "error", err)
	}

	slog.Info("contentapi shutdown complete")
}
