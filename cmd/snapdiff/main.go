// Command snapdiff runs visual-regression suites against a web app and
// serves the resulting report.
//
// Usage:
//
//	snapdiff run [-config snapdiff.yaml] [-update] [-grep re] [tests/*.yaml ...]
//	snapdiff run -watch                      # rerun when suites or config change
//	IS_E2E_SEED=1 snapdiff run               # capture comparison masters
//	snapdiff list [-project "Moto G4"]       # print the test cases
//	snapdiff show-report [-addr :9323]       # serve the last report
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hazyhaar/snapdiff/internal/config"
)

// defaultConfigFile is loaded when -config is not given and it exists.
const defaultConfigFile = "snapdiff.yaml"

const usage = `usage: snapdiff <command> [flags]

commands:
  run          run the suites and write the report
  list         print the test cases without running them
  show-report  serve the report, history and metrics over HTTP

run "snapdiff <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var cmd func(ctx context.Context, args []string) error
	switch os.Args[1] {
	case "run":
		cmd = cmdRun
	case "list":
		cmd = cmdList
	case "show-report":
		cmd = cmdShowReport
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "snapdiff: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("snapdiff: fatal", "error", err)
		os.Exit(1)
	}
}

// commonFlags are shared by every command.
type commonFlags struct {
	configPath string
	logLevel   string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to the config file (default ./"+defaultConfigFile+" when present)")
	fs.StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// newLogger builds the JSON logger on w and makes it the default.
func newLogger(w io.Writer, logLevel string) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig reads path, or defaultConfigFile when path is empty and the
// file exists, or falls back to defaults. The environment is applied last.
// The returned path is the file actually read, empty for defaults.
func loadConfig(path string, lookup func(string) (string, bool)) (*config.Config, string, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, "", fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.Apply(config.FromEnv(lookup))
	return cfg, path, nil
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
