// Package cli implements postctl, an admin tool that operates on the post
// store directly, without a running server.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vyuha/contentapi/internal/config"
	"github.com/vyuha/contentapi/internal/posts"
	"github.com/vyuha/contentapi/internal/storage"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format   string // "json" | "text"
	Backend  string
	DataPath string

	// Getenv is consulted for CONTENTAPI_* defaults. Nil means os.Getenv.
	Getenv func(string) string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for postctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postctl",
		Short: "postctl - manage the contentapi post store",
		Long: `Inspect and modify the post store used by the contentapi server.

Commands open the state file (or SQLite database) directly. Stop the
server before mutating a JSON store; its lock is held in-process only.
Defaults follow the server's CONTENTAPI_* environment.`,
		SilenceUsage:  true,
		SilenceErrors: true, // failures are reported through OutputFormatter
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend (json|sqlite)")
	cmd.PersistentFlags().StringVar(&opts.DataPath, "data", "", "state file or database path")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// storeConfig resolves backend and path: flags, then environment, then
// the server defaults.
func (o *RootOptions) storeConfig() (config.Config, error) {
	getenv := o.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := config.Default()
	if err := config.ApplyEnv(&cfg, getenv); err != nil {
		return config.Config{}, err
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.DataPath != "" {
		cfg.DataPath = o.DataPath
	}
	return cfg, nil
}

// openStore opens the configured store. Callers must Close it.
func (o *RootOptions) openStore() (storage.PostStore, error) {
	cfg, err := o.storeConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Backend, cfg.ResolvedDataPath())
}

// withService runs fn against a posts.Service over the configured store.
func (o *RootOptions) withService(f *OutputFormatter, fn func(svc *posts.Service, store storage.PostStore) error) error {
	store, err := o.openStore()
	if err != nil {
		return fail(f, ExitCommandError, "OPEN_ERROR", "open store", err)
	}
	defer store.Close()
	return fn(posts.NewService(store, nil), store)
}
