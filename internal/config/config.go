// Package config resolves server settings from defaults, an optional YAML
// file, the environment and command-line flags, in increasing priority.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vyuha/contentapi/internal/storage"
)

// DefaultSQLitePath is the database location used when the sqlite backend
// is selected without an explicit data path.
const DefaultSQLitePath = "var/posts.db"

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CONTENTAPI_"

// Config holds everything cmd/server needs to start.
type Config struct {
	Port        int     `yaml:"port"`
	Backend     string  `yaml:"backend"`
	DataPath    string  `yaml:"data_path"`
	LogLevel    string  `yaml:"log_level"`
	CORSOrigin  string  `yaml:"cors_origin"`
	StaticDir   string  `yaml:"static_dir"`
	WriteRate   float64 `yaml:"write_rate"`
	WriteBurst  int     `yaml:"write_burst"`
	TraceStdout bool    `yaml:"trace_stdout"`

	// WatchInterval is how often the JSON state file is polled for
	// external edits. Zero disables watching.
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:       4000,
		Backend:    storage.BackendJSON,
		LogLevel:   "info",
		CORSOrigin: "*",
		WriteRate:  50,
		WriteBurst: 100,

		WatchInterval: time.Second,
	}
}

// ResolvedDataPath returns DataPath, or the backend's default location when
// it is empty.
func (c Config) ResolvedDataPath() string {
	if c.DataPath != "" {
		return c.DataPath
	}
	if c.Backend == storage.BackendSQLite {
		return DefaultSQLitePath
	}
	return storage.DefaultFilePath
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	switch c.Backend {
	case storage.BackendJSON, storage.BackendSQLite:
	default:
		return fmt.Errorf("config: unknown backend %q (want %s or %s)",
			c.Backend, storage.BackendJSON, storage.BackendSQLite)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.WriteRate <= 0 {
		return errors.New("config: write_rate must be positive")
	}
	if c.WriteBurst < 1 {
		return errors.New("config: write_burst must be at least 1")
	}
	if c.WatchInterval < 0 {
		return errors.New("config: watch_interval must not be negative")
	}
	return nil
}

// LoadFile overlays the YAML document at path onto cfg. Keys absent from
// the file keep their current values.
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays CONTENTAPI_* variables onto cfg. PORT is honoured when
// CONTENTAPI_PORT is unset.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	env := func(key string) string { return getenv(EnvPrefix + key) }

	port := env("PORT")
	if port == "" {
		port = getenv("PORT")
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("config: invalid port value %q: %w", port, err)
		}
		cfg.Port = n
	}
	if v := env("BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := env("DATA_PATH"); v != "" {
		cfg.DataPath = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := env("CORS_ORIGIN"); v != "" {
		cfg.CORSOrigin = v
	}
	if v := env("STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := env("WRITE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: invalid write rate %q: %w", v, err)
		}
		cfg.WriteRate = f
	}
	if v := env("WRITE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid write burst %q: %w", v, err)
		}
		cfg.WriteBurst = n
	}
	if v := env("WATCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid watch interval %q: %w", v, err)
		}
		cfg.WatchInterval = d
	}
	if v := env("TRACE_STDOUT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid trace flag %q: %w", v, err)
		}
		cfg.TraceStdout = b
	}
	return nil
}

// Load resolves the configuration for the given command-line arguments.
// Priority: explicitly set flag > environment > YAML file > default.
func Load(args []string, getenv func(string) string) (Config, error) {
	def := Default()

	fs := flag.NewFlagSet("contentapi", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	port := fs.Int("port", def.Port, "HTTP server port")
	backend := fs.String("backend", def.Backend, "Storage backend (json|sqlite)")
	dataPath := fs.String("data", "", "State file or database path (default depends on backend)")
	logLevel := fs.String("log-level", def.LogLevel, "Log level (debug|info|warn|error)")
	corsOrigin := fs.String("cors-origin", def.CORSOrigin, "Access-Control-Allow-Origin value")
	staticDir := fs.String("static-dir", "", "Directory with a pre-built frontend to serve at /")
	writeRate := fs.Float64("write-rate", def.WriteRate, "Mutating requests per second")
	writeBurst := fs.Int("write-burst", def.WriteBurst, "Mutating request burst size")
	traceStdout := fs.Bool("trace-stdout", false, "Export trace spans to stdout")
	watchInterval := fs.Duration("watch-interval", def.WatchInterval, "State file poll interval (0 disables)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def
	path := *configPath
	if path == "" {
		path = getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "backend":
			cfg.Backend = *backend
		case "data":
			cfg.DataPath = *dataPath
		case "log-level":
			cfg.LogLevel = *logLevel
		case "cors-origin":
			cfg.CORSOrigin = *corsOrigin
		case "static-dir":
			cfg.StaticDir = *staticDir
		case "write-rate":
			cfg.WriteRate = *writeRate
		case "write-burst":
			cfg.WriteBurst = *writeBurst
		case "trace-stdout":
			cfg.TraceStdout = *traceStdout
		case "watch-interval":
			cfg.WatchInterval = *watchInterval
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
