package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/folio/internal/config"
	"github.com/hpungsan/folio/internal/mcp"
	"github.com/hpungsan/folio/internal/session"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"tree": true, "search": true, "status": true,
	"add": true, "rm": true, "rename": true, "mv": true, "toggle": true,
	"select": true, "cat": true, "write": true,
	"link": true, "prompt": true,
	"export": true, "import": true,
	"serve": true, "docserver": true,
	"help": true,
}

// sessionless commands run without opening the workspace.
var sessionless = map[string]bool{"docserver": true}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___     _ _
  | __|__ | (_)___
  | _/ _ \| | / _ \
  |_|\___/|_|_\___/

  Personal document workspace

  Usage: folio <command> [options]
         folio --help

  MCP server mode requires piped input.`)
}

// newLogger writes to stderr so stdout stays clean for MCP and JSON output.
func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("unknown log level %q, using info", cfg.LogLevel)
	}
	if isTerminal(os.Stderr) {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal(os.Stdin) {
		printBanner()
		return
	}

	// Handle --help/--version before opening the workspace
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, logrus.StandardLogger())
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".folio")
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		fatal("failed to create %s: %v", baseDir, err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		fatal("invalid config: %v", err)
	}
	log := newLogger(cfg)

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal(os.Stdin) {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'folio --help' for usage.\n")
		os.Exit(1)
	}

	if isCLIMode() && sessionless[os.Args[1]] {
		app := newCLIApp(nil, cfg, log)
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := session.Open(context.Background(), cfg, baseDir, log, reg)
	if err != nil {
		fatal("failed to open workspace: %v", err)
	}

	if isCLIMode() {
		app := newCLIApp(s, cfg, log)
		runErr := app.Run(os.Args)
		if err := s.Close(); err != nil {
			log.WithError(err).Warn("close workspace")
		}
		if runErr != nil {
			fatal("%v", runErr)
		}
		return
	}

	// MCP server mode (default)
	runErr := mcp.Run(s, Version)
	if err := s.Close(); err != nil {
		log.WithError(err).Warn("close workspace")
	}
	if runErr != nil {
		fatal("%v", runErr)
	}
}
