package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"text/tabwriter"

	"github.com/hazyhaar/snapdiff/internal/browser"
	"github.com/hazyhaar/snapdiff/internal/config"
	"github.com/hazyhaar/snapdiff/internal/history"
	"github.com/hazyhaar/snapdiff/internal/report"
	"github.com/hazyhaar/snapdiff/internal/watch"
	"github.com/hazyhaar/snapdiff/runner"
	"github.com/hazyhaar/snapdiff/suite"
)

type runFlags struct {
	commonFlags
	update   bool
	seed     bool
	watch    bool
	grep     string
	projects string
	workers  int
	retries  int
}

func (f *runFlags) register(fs *flag.FlagSet) {
	f.commonFlags.register(fs)
	fs.BoolVar(&f.update, "update", false, "overwrite baselines with the captured screenshots")
	fs.BoolVar(&f.seed, "seed", false, "seed mode: capture comparison masters as baselines (same as "+config.EnvSeed+"=1)")
	fs.BoolVar(&f.watch, "watch", false, "rerun when a suite file or the config changes")
	fs.StringVar(&f.grep, "grep", "", "only run tests whose title or slug matches this regexp")
	fs.StringVar(&f.projects, "project", "", "comma-separated project names to run (default all)")
	fs.IntVar(&f.workers, "workers", 0, "parallel workers (0 keeps the configured value)")
	fs.IntVar(&f.retries, "retries", -1, "retries per failing test (-1 keeps the configured value)")
}

// apply folds command-line overrides into cfg. Flags win over the file and
// the environment.
func (f *runFlags) apply(cfg *config.Config) {
	if f.update {
		cfg.UpdateSnapshots = true
	}
	if f.seed {
		cfg.Seed = true
		cfg.UpdateSnapshots = true
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	if f.retries >= 0 {
		cfg.Retries = f.retries
	}
}

func (f *runFlags) runnerOptions(logger *slog.Logger) ([]runner.Option, error) {
	opts := []runner.Option{runner.WithLogger(logger)}
	if f.grep != "" {
		re, err := regexp.Compile(f.grep)
		if err != nil {
			return nil, fmt.Errorf("bad -grep: %w", err)
		}
		opts = append(opts, runner.WithGrep(re))
	}
	if names := splitList(f.projects); len(names) > 0 {
		opts = append(opts, runner.WithProjects(names...))
	}
	return opts, nil
}

func cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapdiff run", flag.ContinueOnError)
	var f runFlags
	f.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(os.Stderr, f.logLevel)

	cfg, cfgPath, err := loadConfig(f.configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	f.apply(cfg)

	mgr := browser.NewManager(browser.FromSettings(cfg.Browser, logger))
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	if !f.watch {
		return runOnce(ctx, logger, mgr, cfg, &f, fs.Args())
	}

	// The browser is started once; browser settings changed while watching
	// take effect on the next start.
	rerun := func([]string) error {
		cfg, _, err := loadConfig(f.configPath, os.LookupEnv)
		if err != nil {
			return err
		}
		f.apply(cfg)
		return runOnce(ctx, logger, mgr, cfg, &f, fs.Args())
	}

	patterns := suitePatterns(cfg, fs.Args())
	if cfgPath != "" {
		patterns = append(patterns, cfgPath)
	}
	w, err := watch.New(patterns, watch.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer w.Close()

	if err := rerun(nil); err != nil {
		logger.Error("snapdiff: run failed", "error", err)
	}
	err = w.OnChange(ctx, rerun)
	s := w.Stats()
	logger.Info("snapdiff: watch stopped", "runs", s.Reloads, "failed", s.Errors, "avg_run", s.AvgReloadTime)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runOnce loads the suites, runs them and flushes every sink.
func runOnce(ctx context.Context, logger *slog.Logger, b runner.Browser, cfg *config.Config, f *runFlags, args []string) error {
	suites, err := loadSuites(suitePatterns(cfg, args))
	if err != nil {
		return err
	}
	opts, err := f.runnerOptions(logger)
	if err != nil {
		return err
	}
	sink, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	sum, err := runner.New(cfg, b, sink, opts...).Run(ctx, suites)
	if err != nil {
		return err
	}
	logger.Info("snapdiff: report written", "dir", cfg.ReportDir, "tests", sum.Total())
	return nil
}

// suitePatterns returns the suite globs: the positional arguments when
// given, else the configured ones.
func suitePatterns(cfg *config.Config, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return cfg.Suites
}

// loadSuites loads and expands every suite file matching patterns.
func loadSuites(patterns []string) ([]runner.Suite, error) {
	files, err := suite.LoadGlobs(patterns...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no suite files match %v", patterns)
	}
	suites := make([]runner.Suite, 0, len(files))
	for _, file := range files {
		ds, err := suite.Expand(file.Suite())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file.Path(), err)
		}
		suites = append(suites, runner.Suite{Name: file.Name, Descriptors: ds})
	}
	return suites, nil
}

// buildSinks assembles the result outputs: the HTML report always, the
// configured extra sinks, the history database and the metrics textfile
// when set.
func buildSinks(cfg *config.Config, logger *slog.Logger) (*report.Router, error) {
	router := report.NewRouter(logger, report.NewHTMLReport(cfg.ReportDir))
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			router.Add(report.NewStdout(os.Stdout))
		case "webhook":
			if sc.URL == "" {
				router.Close()
				return nil, errors.New("webhook sink requires url")
			}
			router.Add(report.NewWebhook(sc.URL, report.WithWebhookLogger(logger)))
		default:
			router.Close()
			return nil, fmt.Errorf("unknown sink type: %q", sc.Type)
		}
	}
	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			router.Close()
			return nil, err
		}
		router.Add(store)
	}
	if cfg.MetricsFile != "" {
		router.Add(report.NewMetrics(cfg.MetricsFile))
	}
	return router, nil
}

func cmdList(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("snapdiff list", flag.ContinueOnError)
	var f runFlags
	f.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(os.Stderr, f.logLevel)

	cfg, _, err := loadConfig(f.configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	f.apply(cfg)
	suites, err := loadSuites(suitePatterns(cfg, fs.Args()))
	if err != nil {
		return err
	}
	opts, err := f.runnerOptions(logger)
	if err != nil {
		return err
	}
	cases, err := runner.New(cfg, nil, nil, opts...).Cases(suites)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, c := range cases {
		fmt.Fprintf(tw, "[%s]\t%s\t%s\t%s\n", c.Project.Name, c.Suite, c.Title(), c.Descriptor.Target(cfg.Seed))
	}
	fmt.Fprintf(tw, "total: %d tests\n", len(cases))
	return tw.Flush()
}
