package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/config"
	"github.com/hpungsan/inkwell/internal/db"
	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/gateway"
	"github.com/hpungsan/inkwell/internal/identity"
	"github.com/hpungsan/inkwell/internal/logging"
	"github.com/hpungsan/inkwell/internal/mcp"
	"github.com/hpungsan/inkwell/internal/web"
	"github.com/hpungsan/inkwell/internal/workspace"
)

// hydrateTimeout bounds how long a one-shot command waits for the local cache.
const hydrateTimeout = 30 * time.Second

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "inkwell",
		Usage:   "Offline-first writing workspace",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "home", EnvVars: []string{"INKWELL_HOME"}, Usage: "Data directory (default: ~/.inkwell)"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, EnvVars: []string{"INKWELL_USER"}, Usage: "User id (default: config user_id, then $USER)"},
		},
		Commands: []*cli.Command{
			serveCmd(),
			mcpCmd(),
			docCmd(),
			syncCmd(),
			templatesCmd(),
			migrateCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command.
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the read-only document viewer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 7420, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			env, err := loadEnv(c, false)
			if err != nil {
				return outputError(err)
			}
			defer env.logger.Sync()

			// Hydration runs in the background; /readyz reports it.
			ws, err := workspace.Open(c.Context, workspace.Options{Config: env.cfg, BaseDir: env.baseDir, Logger: env.logger})
			if err != nil {
				return outputError(err)
			}
			defer closeWorkspace(ws, env.logger)

			srv, err := web.NewServer(ws, Version, c.String("bind"), c.Int("port"), env.logger)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(c.Context, srv, env.logger)
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			env, err := loadEnv(c, true)
			if err != nil {
				return outputError(err)
			}
			defer env.logger.Sync()

			for _, name := range mcp.ValidateDisabledTools(env.cfg.DisabledTools) {
				env.logger.Warn("unknown tool in disabled_tools", zap.String("tool", name))
			}

			ws, err := workspace.Open(c.Context, workspace.Options{Config: env.cfg, BaseDir: env.baseDir, Logger: env.logger})
			if err != nil {
				return outputError(err)
			}
			defer closeWorkspace(ws, env.logger)

			waitCtx, cancel := context.WithTimeout(c.Context, hydrateTimeout)
			err = ws.Wait(waitCtx)
			cancel()
			if err != nil {
				return outputError(err)
			}

			return mcp.Run(ws, env.cfg, Version)
		},
	}
}

// docCmd groups the document commands.
func docCmd() *cli.Command {
	return &cli.Command{
		Name:  "doc",
		Usage: "Create, read, write and delete documents",
		Subcommands: []*cli.Command{
			docListCmd(),
			docNewCmd(),
			docShowCmd(),
			docWriteCmd(),
			docRmCmd(),
		},
	}
}

// docListCmd creates the doc list command.
func docListCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List cached documents, newest first",
		Action: func(c *cli.Context) error {
			return withWorkspace(c, func(ws *workspace.Workspace) error {
				docs, err := ws.ListDocuments(c.Context)
				if err != nil {
					return err
				}
				items := make([]mcp.DocumentSummary, 0, len(docs))
				for _, d := range docs {
					items = append(items, mcp.DocumentSummary{ID: d.ID, Title: d.Title, Metadata: d.Metadata, UpdatedAt: d.UpdatedAt})
				}
				return outputJSON(c, map[string]any{"items": items})
			})
		},
	}
}

// docNewCmd creates the doc new command.
func docNewCmd() *cli.Command {
	return &cli.Command{
		Name:  "new",
		Usage: "Create a document and make it active (content from --content or stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Document title"},
			&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Usage: "Initial content"},
		},
		Action: func(c *cli.Context) error {
			content, _, err := readContent(c)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return withWorkspace(c, func(ws *workspace.Workspace) error {
				d, res, err := ws.CreateDocument(c.Context, c.String("title"), content)
				if err != nil {
					return err
				}
				return outputJSON(c, mcp.DocumentResult{Document: d, Location: string(res.Location)})
			})
		},
	}
}

// docShowCmd creates the doc show command.
func docShowCmd() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a document (the active one when no id is given)",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "raw", Usage: "Print only the content"},
		},
		Action: func(c *cli.Context) error {
			return withWorkspace(c, func(ws *workspace.Workspace) error {
				var (
					d   *document.Document
					err error
				)
				if c.NArg() > 0 {
					d, err = ws.GetDocument(c.Context, c.Args().First())
				} else {
					d, err = ws.ActiveDocument()
					if err == nil && d == nil {
						err = errors.NewNotFound("document", "active")
					}
				}
				if err != nil {
					return err
				}
				if c.Bool("raw") {
					_, err := io.WriteString(c.App.Writer, d.Content)
					return err
				}
				return outputJSON(c, mcp.DocumentResult{Document: d})
			})
		},
	}
}

// docWriteCmd creates the doc write command.
func docWriteCmd() *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "Replace a document's content (from --content or stdin)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Usage: "New content"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("document id is required"))
			}
			content, ok, err := readContent(c)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if !ok {
				return outputError(errors.NewInvalidRequest("content must be given with --content or piped via stdin"))
			}

			id := c.Args().First()
			return withWorkspace(c, func(ws *workspace.Workspace) error {
				if err := ws.UpdateDocumentContent(c.Context, id, content); err != nil {
					return err
				}
				if err := ws.Flush(c.Context); err != nil {
					return err
				}
				d, err := ws.GetDocument(c.Context, id)
				if err != nil {
					return err
				}
				return outputJSON(c, map[string]any{
					"document":     d,
					"pending_sync": ws.Session().PendingSync(),
				})
			})
		},
	}
}

// docRmCmd creates the doc rm command.
func docRmCmd() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete a document and its generation progress",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("document id is required"))
			}
			id := c.Args().First()
			return withWorkspace(c, func(ws *workspace.Workspace) error {
				res, err := ws.DeleteDocument(c.Context, id)
				if err != nil {
					return err
				}
				return outputJSON(c, mcp.DeleteResult{ID: id, Deleted: true, Location: string(res.Location)})
			})
		},
	}
}

// syncCmd creates the sync command.
func syncCmd() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Check the remote store and push pending local writes",
		Action: func(c *cli.Context) error {
			return withWorkspace(c, func(ws *workspace.Workspace) error {
				report, err := ws.Reconcile(c.Context)
				if err != nil {
					return err
				}
				return outputJSON(c, report)
			})
		},
	}
}

// templatesCmd creates the templates command.
func templatesCmd() *cli.Command {
	return &cli.Command{
		Name:  "templates",
		Usage: "List generation templates and rewrite tools",
		Action: func(c *cli.Context) error {
			return withWorkspace(c, func(ws *workspace.Workspace) error {
				cat := ws.Catalog()
				return outputJSON(c, mcp.CatalogResult{Templates: cat.Templates, Tools: cat.Tools})
			})
		},
	}
}

// migrateCmd creates the migrate command. It runs the one-time record
// upgrade pass against the local cache without starting a session.
func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Upgrade cached records to the current schema",
		Action: func(c *cli.Context) error {
			env, err := loadEnv(c, true)
			if err != nil {
				return outputError(err)
			}
			defer env.logger.Sync()

			database, err := db.Init(env.baseDir)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer database.Close()

			gw := gateway.New(gateway.Options{DB: database, MaxBytes: env.cfg.LocalMaxBytes, Logger: env.logger})
			migrated, err := gw.MigrateLocal(identity.WithUser(c.Context, env.cfg.UserID))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]any{"migrated": migrated})
		},
	}
}

// env is the resolved configuration shared by every command.
type env struct {
	baseDir string
	cfg     *config.Config
	logger  *zap.Logger
}

// loadEnv resolves the data directory, merges global and repo config and
// builds the logger. quiet drops console logging for stdio and one-shot
// commands.
func loadEnv(c *cli.Context, quiet bool) (*env, error) {
	baseDir := c.String("home")
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("could not determine home directory: %w", err))
		}
		baseDir = filepath.Join(homeDir, ".inkwell")
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("failed to load config: %v", err))
	}
	cfg.UserID = resolveUserID(c.String("user"), cfg.UserID, os.Getenv("USER"))

	logger := logging.New(logging.Options{
		FilePath:    cfg.LogFile,
		Development: cfg.LogDevelopment,
		Quiet:       quiet,
	})
	return &env{baseDir: baseDir, cfg: cfg, logger: logger}, nil
}

// withWorkspace opens a workspace, waits for hydration, runs fn and closes
// the workspace, flushing unsaved edits.
func withWorkspace(c *cli.Context, fn func(ws *workspace.Workspace) error) error {
	e, err := loadEnv(c, true)
	if err != nil {
		return outputError(err)
	}
	defer e.logger.Sync()

	ws, err := workspace.Open(c.Context, workspace.Options{Config: e.cfg, BaseDir: e.baseDir, Logger: e.logger})
	if err != nil {
		return outputError(err)
	}

	waitCtx, cancel := context.WithTimeout(c.Context, hydrateTimeout)
	err = ws.Wait(waitCtx)
	cancel()
	if err == nil {
		err = fn(ws)
	}

	if closeErr := ws.Close(context.Background()); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return outputError(err)
	}
	return nil
}

func closeWorkspace(ws *workspace.Workspace, logger *zap.Logger) {
	if err := ws.Close(context.Background()); err != nil {
		logger.Error("workspace close failed", zap.Error(err))
	}
}

// resolveUserID returns the first non-empty candidate.
func resolveUserID(candidates ...string) string {
	for _, id := range candidates {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

// Helper functions

// outputJSON marshals result to the app writer as JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if inkErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", inkErr.Code, inkErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// readContent returns the --content flag when set, otherwise piped stdin.
// ok is false when neither was given.
func readContent(c *cli.Context) (content string, ok bool, err error) {
	if c.IsSet("content") {
		return c.String("content"), true, nil
	}
	if c.App.Reader != os.Stdin || stdinHasData() {
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return "", false, err
		}
		return strings.TrimRight(string(data), "\n"), true, nil
	}
	return "", false, nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
