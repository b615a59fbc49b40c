package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vyuha/contentapi/internal/posts"
	"github.com/vyuha/contentapi/internal/storage"
)

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// fail reports a failure through f and returns the matching ExitError.
func fail(f *OutputFormatter, exitCode int, code, message string, err error) error {
	msg := message
	if err != nil {
		msg = fmt.Sprintf("%s: %v", message, err)
	}
	if outErr := f.Error(code, msg); outErr != nil {
		return outErr
	}
	return WrapExitError(exitCode, message, err)
}

func printPost(w io.Writer, p posts.Post) {
	fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Title)
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posts, optionally filtered by title",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(opts, cmd)
			return opts.withService(f, func(svc *posts.Service, _ storage.PostStore) error {
				docs, err := svc.List(cmd.Context(), search)
				if err != nil {
					return fail(f, ExitCommandError, "STORE_ERROR", "list posts", err)
				}
				if docs == nil {
					docs = []posts.Post{}
				}
				return f.Success(docs, func(w io.Writer) {
					if len(docs) == 0 {
						fmt.Fprintln(w, "no posts")
						return
					}
					for _, p := range docs {
						printPost(w, p)
					}
				})
			})
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "case-insensitive title filter")
	return cmd
}

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <title>",
		Short: "Create a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(opts, cmd)
			title := strings.TrimSpace(args[0])
			if title == "" {
				return fail(f, ExitCommandError, "MISSING_TITLE", "Title is required", nil)
			}
			return opts.withService(f, func(svc *posts.Service, _ storage.PostStore) error {
				doc, err := svc.Add(cmd.Context(), title)
				if err != nil {
					return fail(f, ExitCommandError, "STORE_ERROR", "add post", err)
				}
				return f.Success(doc, func(w io.Writer) {
					fmt.Fprint(w, "created ")
					printPost(w, doc)
				})
			})
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <title>",
		Short: "Replace the title of a post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(opts, cmd)
			id, title := args[0], strings.TrimSpace(args[1])
			if id == "" || title == "" {
				return fail(f, ExitCommandError, "MISSING_FIELDS", "id and title are required", nil)
			}
			return opts.withService(f, func(svc *posts.Service, _ storage.PostStore) error {
				doc, err := svc.Update(cmd.Context(), id, title)
				if err != nil {
					return fail(f, ExitCommandError, "STORE_ERROR", "update post", err)
				}
				if doc == nil {
					return fail(f, ExitFailure, "NOT_FOUND", fmt.Sprintf("post %s not found", id), nil)
				}
				return f.Success(doc, func(w io.Writer) {
					fmt.Fprint(w, "updated ")
					printPost(w, *doc)
				})
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete every post with the given id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(opts, cmd)
			id := args[0]
			return opts.withService(f, func(svc *posts.Service, _ storage.PostStore) error {
				ok, err := svc.Delete(cmd.Context(), id)
				if err != nil {
					return fail(f, ExitCommandError, "STORE_ERROR", "delete post", err)
				}
				if !ok {
					return fail(f, ExitFailure, "NOT_FOUND", fmt.Sprintf("post %s not found", id), nil)
				}
				return f.Success(map[string]interface{}{"ok": true, "id": id}, func(w io.Writer) {
					fmt.Fprintf(w, "deleted %s\n", id)
				})
			})
		},
	}
}

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the full store state in the state file layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(opts, cmd)
			return opts.withService(f, func(_ *posts.Service, store storage.PostStore) error {
				st, err := store.Snapshot(cmd.Context())
				if err != nil {
					return fail(f, ExitCommandError, "STORE_ERROR", "export", err)
				}
				data, err := storage.MarshalState(st)
				if err != nil {
					return fail(f, ExitCommandError, "ENCODE_ERROR", "export", err)
				}
				if output != "" {
					if err := os.WriteFile(output, data, 0o644); err != nil {
						return fail(f, ExitCommandError, "WRITE_ERROR", "export", err)
					}
					return f.Success(map[string]interface{}{"path": output, "posts": len(st.Posts)}, func(w io.Writer) {
						fmt.Fprintf(w, "exported %d posts to %s\n", len(st.Posts), output)
					})
				}
				return f.Success(st, func(w io.Writer) {
					w.Write(data)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the store contents with a state file (any known layout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(opts, cmd)
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fail(f, ExitCommandError, "READ_ERROR", "import", err)
			}
			st, err := storage.UnmarshalState(data)
			if err != nil {
				return fail(f, ExitCommandError, "DECODE_ERROR", "import", err)
			}
			return opts.withService(f, func(_ *posts.Service, store storage.PostStore) error {
				if err := store.Import(cmd.Context(), st); err != nil {
					return fail(f, ExitCommandError, "STORE_ERROR", "import", err)
				}
				after, err := store.Snapshot(cmd.Context())
				if err != nil {
					return fail(f, ExitCommandError, "STORE_ERROR", "import", err)
				}
				return f.Success(map[string]interface{}{"posts": len(after.Posts), "nextId": after.NextID}, func(w io.Writer) {
					fmt.Fprintf(w, "imported %d posts (nextId %d)\n", len(after.Posts), after.NextID)
				})
			})
		},
	}
}
