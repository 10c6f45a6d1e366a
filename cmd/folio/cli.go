package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/folio/internal/cloudsync"
	"github.com/hpungsan/folio/internal/config"
	"github.com/hpungsan/folio/internal/content"
	"github.com/hpungsan/folio/internal/docserver"
	"github.com/hpungsan/folio/internal/errors"
	"github.com/hpungsan/folio/internal/remote"
	"github.com/hpungsan/folio/internal/session"
	"github.com/hpungsan/folio/internal/tree"
	"github.com/hpungsan/folio/internal/web"
)

// statusPollInterval is how often serve checks for sync state changes.
const statusPollInterval = time.Second

// newCLIApp creates the CLI application with all commands.
func newCLIApp(s *session.Session, cfg *config.Config, log logrus.FieldLogger) *cli.App {
	app := &cli.App{
		Name:    "folio",
		Usage:   "Personal document workspace",
		Version: Version,
		Commands: []*cli.Command{
			treeCmd(s),
			searchCmd(s),
			statusCmd(s),
			addCmd(s),
			rmCmd(s),
			renameCmd(s),
			mvCmd(s),
			toggleCmd(s),
			selectCmd(s),
			catCmd(s),
			writeCmd(s),
			linkCmd(s),
			promptCmd(s),
			exportCmd(s),
			importCmd(s),
			serveCmd(s, cfg, log),
			docserverCmd(log),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

type treeOutput struct {
	Files        tree.Forest `json:"files"`
	ActiveFileID string      `json:"active_file_id,omitempty"`
	Revision     uint64      `json:"revision"`
}

type mutationOutput struct {
	ID           string `json:"id,omitempty"`
	ActiveFileID string `json:"active_file_id,omitempty"`
	Revision     uint64 `json:"revision"`
}

type fileOutput struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Content string            `json:"content"`
	Text    string            `json:"text,omitempty"`
	Links   []tree.LinkItem   `json:"links"`
	Prompts []tree.PromptItem `json:"prompts"`
	Stats   content.Stats     `json:"stats"`
}

func treeCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:  "tree",
		Usage: "Print the workspace tree",
		Action: func(c *cli.Context) error {
			snap := s.Workspace.Snapshot()
			return outputJSON(c, treeOutput{Files: snap.Files, ActiveFileID: snap.ActiveFileID, Revision: snap.Revision})
		},
	}
}

func searchCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Print the tree filtered by name (case-insensitive)",
		ArgsUsage: "<query>",
		Action: func(c *cli.Context) error {
			snap := s.Workspace.Snapshot()
			return outputJSON(c, treeOutput{
				Files:        tree.Filter(snap.Files, strings.Join(c.Args().Slice(), " ")),
				ActiveFileID: snap.ActiveFileID,
				Revision:     snap.Revision,
			})
		},
	}
}

func statusCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the sync mode and save indicator",
		Action: func(c *cli.Context) error {
			return outputJSON(c, s.Status())
		},
	}
}

func addCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Create a file or folder",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: "file", Usage: "Node type: file|folder"},
			&cli.StringFlag{Name: "parent", Aliases: []string{"p"}, Usage: "Parent folder ID (default: root)"},
		},
		Action: func(c *cli.Context) error {
			n, err := s.Workspace.AddNode(c.String("parent"), tree.Kind(c.String("type")), strings.Join(c.Args().Slice(), " "))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, n)
		},
	}
}

func rmCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete a node and everything under it",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "id")
			if err != nil {
				return err
			}
			return mutation(c, s, id, s.Workspace.DeleteNode(id))
		},
	}
}

func renameCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "Rename a node",
		ArgsUsage: "<id> <name>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("id and name are required"))
			}
			id := c.Args().First()
			name := strings.Join(c.Args().Tail(), " ")
			return mutation(c, s, id, s.Workspace.RenameNode(id, name))
		},
	}
}

func mvCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "mv",
		Usage:     "Move a node under another folder",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Usage: "Target folder ID (default: root)"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "id")
			if err != nil {
				return err
			}
			return mutation(c, s, id, s.Workspace.MoveNode(id, c.String("to")))
		},
	}
}

func toggleCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "toggle",
		Usage:     "Open or close a folder",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "id")
			if err != nil {
				return err
			}
			return mutation(c, s, id, s.Workspace.ToggleFolder(id))
		},
	}
}

func selectCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "select",
		Usage:     "Make a file the active file",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "clear", Usage: "Clear the active selection"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("clear") {
				return mutation(c, s, "", s.Workspace.SetActive(""))
			}
			id, err := requireArg(c, "id")
			if err != nil {
				return err
			}
			return mutation(c, s, id, s.Workspace.SetActive(id))
		},
	}
}

func catCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "Print a file (default: the active file)",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "plain", Usage: "Include the plain-text rendering"},
		},
		Action: func(c *cli.Context) error {
			n, err := resolveFile(s, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			out := fileOutput{
				ID:      n.ID,
				Name:    n.Name,
				Content: n.Content,
				Links:   n.Links,
				Prompts: n.Prompts,
				Stats:   content.Measure(n.Content),
			}
			if c.Bool("plain") {
				out.Text = content.PlainText(n.Content)
			}
			return outputJSON(c, out)
		},
	}
}

func writeCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "Replace a file's content (reads stdin unless --content is given)",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Usage: "New content"},
			&cli.BoolFlag{Name: "markdown", Aliases: []string{"m"}, Usage: "Convert the input from markdown"},
		},
		Action: func(c *cli.Context) error {
			n, err := resolveFile(s, c.Args().First())
			if err != nil {
				return outputError(err)
			}

			body := c.String("content")
			if !c.IsSet("content") {
				if !stdinHasData(c.App.Reader) {
					return outputError(errors.NewInvalidRequest("content must be given with --content or piped via stdin"))
				}
				body, err = readAll(c.App.Reader)
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
			}
			if c.Bool("markdown") {
				body, err = content.FromMarkdown(body)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
			}
			return mutation(c, s, n.ID, s.Workspace.UpdateFileContent(n.ID, body))
		},
	}
}

func linkCmd(s *session.Session) *cli.Command {
	itemFlags := []cli.Flag{
		&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Link title"},
		&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Link URL"},
		&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Link description"},
	}
	apply := func(c *cli.Context, l *tree.LinkItem) {
		if c.IsSet("title") {
			l.Title = c.String("title")
		}
		if c.IsSet("url") {
			l.URL = c.String("url")
		}
		if c.IsSet("description") {
			l.Description = c.String("description")
		}
	}

	return &cli.Command{
		Name:  "link",
		Usage: "Manage the active file's links",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List links",
				Action: func(c *cli.Context) error {
					n, err := resolveFile(s, "")
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, n.Links)
				},
			},
			{
				Name:  "add",
				Usage: "Add a link",
				Flags: itemFlags,
				Action: func(c *cli.Context) error {
					var l tree.LinkItem
					apply(c, &l)
					added, err := s.Workspace.AddLink(l)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, added)
				},
			},
			{
				Name:      "update",
				Usage:     "Update a link; omitted fields keep their value",
				ArgsUsage: "<id>",
				Flags:     itemFlags,
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "id")
					if err != nil {
						return err
					}
					n, err := resolveFile(s, "")
					if err != nil {
						return outputError(err)
					}
					for _, l := range n.Links {
						if l.ID != id {
							continue
						}
						apply(c, &l)
						if err := s.Workspace.UpdateLink(l); err != nil {
							return outputError(err)
						}
						return outputJSON(c, l)
					}
					return outputError(errors.NewNotFound(id))
				},
			},
			{
				Name:      "rm",
				Usage:     "Delete a link",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "id")
					if err != nil {
						return err
					}
					return mutation(c, s, id, s.Workspace.DeleteLink(id))
				},
			},
		},
	}
}

func promptCmd(s *session.Session) *cli.Command {
	itemFlags := []cli.Flag{
		&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Prompt title"},
		&cli.StringFlag{Name: "text", Usage: "Prompt text sent to the model"},
		&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Prompt description"},
	}
	apply := func(c *cli.Context, p *tree.PromptItem) {
		if c.IsSet("title") {
			p.Title = c.String("title")
		}
		if c.IsSet("text") {
			p.PromptText = c.String("text")
		}
		if c.IsSet("description") {
			p.Description = c.String("description")
		}
	}

	return &cli.Command{
		Name:  "prompt",
		Usage: "Manage and run the active file's prompts",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List prompts",
				Action: func(c *cli.Context) error {
					n, err := resolveFile(s, "")
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, n.Prompts)
				},
			},
			{
				Name:  "add",
				Usage: "Add a prompt",
				Flags: itemFlags,
				Action: func(c *cli.Context) error {
					var p tree.PromptItem
					apply(c, &p)
					added, err := s.Workspace.AddPrompt(p)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, added)
				},
			},
			{
				Name:      "update",
				Usage:     "Update a prompt; omitted fields keep their value",
				ArgsUsage: "<id>",
				Flags:     itemFlags,
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "id")
					if err != nil {
						return err
					}
					p, err := s.Workspace.FindPrompt(id)
					if err != nil {
						return outputError(err)
					}
					apply(c, &p)
					if err := s.Workspace.UpdatePrompt(p); err != nil {
						return outputError(err)
					}
					return outputJSON(c, p)
				},
			},
			{
				Name:      "rm",
				Usage:     "Delete a prompt",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "id")
					if err != nil {
						return err
					}
					return mutation(c, s, id, s.Workspace.DeletePrompt(id))
				},
			},
			{
				Name:      "run",
				Usage:     "Run a prompt with the active file as context",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "id")
					if err != nil {
						return err
					}
					out, err := s.RunPrompt(c.Context, id)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]string{"id": id, "result": out})
				},
			},
		},
	}
}

func exportCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export the workspace to a .json or .yaml file",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			path, err := requireArg(c, "path")
			if err != nil {
				return err
			}
			out, err := s.Workspace.ExportTo(path)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

func importCmd(s *session.Session) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Replace the workspace with an exported file",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			path, err := requireArg(c, "path")
			if err != nil {
				return err
			}
			out, err := s.Workspace.ImportFrom(path)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

func serveCmd(s *session.Session, cfg *config.Config, log logrus.FieldLogger) *cli.Command {
	bind, port := "127.0.0.1", 8787
	if cfg != nil {
		bind, port = cfg.WebBind, cfg.WebPort
	}
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the workspace JSON API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: bind, Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: port, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := web.NewServer(s, s.Gatherer, c.String("bind"), c.Int("port"))
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return web.Run(gctx, srv, log)
			})
			g.Go(func() error {
				watchStatus(gctx, s, log, statusPollInterval)
				return nil
			})
			return g.Wait()
		},
	}
}

// watchStatus logs sync state changes until ctx is done.
func watchStatus(ctx context.Context, s *session.Session, log logrus.FieldLogger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last cloudsync.Status
	for {
		st := s.Status()
		if st.Mode != last.Mode || st.Indicator != last.Indicator {
			log.WithFields(logrus.Fields{
				"mode":      st.Mode,
				"indicator": st.Indicator,
			}).Info("sync status")
			last = st
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func docserverCmd(log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:  "docserver",
		Usage: "Serve a shared remote document store for other folio sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Value: "memory://docserver", Usage: "Backing store DSN (memory:// or postgres://)"},
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8788, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := remote.Open(c.String("store"), log)
			if err != nil {
				return outputError(errors.NewRemoteUnavailable(err))
			}
			defer store.Close()

			ds, err := docserver.New(ctx, store, log)
			if err != nil {
				return outputError(errors.NewRemoteUnavailable(err))
			}
			srv := &http.Server{
				Addr:              fmt.Sprintf("%s:%d", c.String("bind"), c.Int("port")),
				Handler:           ds.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return web.Run(ctx, srv, log)
		},
	}
}

// Helper functions

// mutation reports the outcome of a manager call.
func mutation(c *cli.Context, s *session.Session, id string, err error) error {
	if err != nil {
		return outputError(err)
	}
	snap := s.Workspace.Snapshot()
	return outputJSON(c, mutationOutput{ID: id, ActiveFileID: snap.ActiveFileID, Revision: snap.Revision})
}

// resolveFile returns the file with id, or the active file when id is empty.
func resolveFile(s *session.Session, id string) (tree.Node, error) {
	if id == "" {
		n, ok := s.Workspace.ActiveNode()
		if !ok {
			return tree.Node{}, errors.NewNoActiveFile()
		}
		return n, nil
	}
	n, ok := s.Workspace.Find(id)
	if !ok {
		return tree.Node{}, errors.NewNotFound(id)
	}
	if !n.IsFile() {
		return tree.Node{}, errors.NewNotAFile(id)
	}
	return n, nil
}

func requireArg(c *cli.Context, name string) (string, error) {
	if c.NArg() == 0 || strings.TrimSpace(c.Args().First()) == "" {
		return "", outputError(errors.NewInvalidRequest(name + " is required"))
	}
	return c.Args().First(), nil
}

// outputJSON writes v to the app's writer as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var fErr *errors.FolioError
	if stderrors.As(err, &fErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", fErr.Code, fErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData reports whether r has piped data. Readers that are not files
// always count as piped.
func stdinHasData(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return true
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readAll reads all of r, trimming surrounding whitespace.
func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
