package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/hazyhaar/snapdiff/internal/history"
	"github.com/hazyhaar/snapdiff/internal/report"
	"github.com/hazyhaar/snapdiff/internal/server"
)

func cmdShowReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapdiff show-report", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	addr := fs.String("addr", "localhost:9323", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(os.Stderr, c.logLevel)

	cfg, _, err := loadConfig(c.configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	dir := cfg.ReportDir
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("no report at %s, run \"snapdiff run\" first: %w", dir, err)
	}

	opts := []server.Option{server.WithLogger(logger)}
	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()
		m, err := lastRunMetrics(ctx, store)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithHistory(store), server.WithGatherer(m.Registry()))
	}
	return server.New(dir, opts...).ListenAndServe(ctx, *addr)
}

// lastRunMetrics replays the most recent recorded run into a fresh metrics
// registry.
func lastRunMetrics(ctx context.Context, store *history.Store) (*report.Metrics, error) {
	m := report.NewMetrics("")
	runs, err := store.Runs(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return m, nil
	}
	sum, results, err := store.Run(ctx, runs[0].RunID)
	if errors.Is(err, history.ErrNotFound) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		m.Record(ctx, r)
	}
	if err := m.Finish(ctx, sum); err != nil {
		return nil, err
	}
	slog.Debug("snapdiff: metrics replayed", "run", sum.RunID, "results", len(results))
	return m, nil
}
