// Package cli implements trendctl, the operator tool for the trend store.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	goflags "github.com/jessevdk/go-flags"

	"cinetrack/internal/app"
	"cinetrack/internal/retry"
)

type GlobalFlags struct {
	Store    string `long:"store" description:"Backend to use (mongo or bolt); defaults to mongo when MONGO_URI is set"`
	BoltPath string `long:"bolt-path" description:"Bolt file path, overrides BOLT_PATH"`
	JSON     bool   `long:"json" description:"Print machine-readable JSON"`
	Verbose  bool   `short:"v" long:"verbose" description:"Log retries and store activity to stderr"`
}

// opener connects to the configured stores. Tests replace it.
type opener func(ctx context.Context, globals *GlobalFlags, logger *slog.Logger) (app.Stores, retry.Config, error)

type runtime struct {
	globals *GlobalFlags
	out     io.Writer
	errOut  io.Writer
	open    opener
}

func (rt *runtime) logger() *slog.Logger {
	level := slog.LevelWarn
	if rt.globals.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(rt.errOut, &slog.HandlerOptions{Level: level}))
}

// withStores opens the stores, runs fn and closes them again.
func (rt *runtime) withStores(fn func(ctx context.Context, stores app.Stores, retryCfg retry.Config, logger *slog.Logger) error) error {
	ctx := context.Background()
	logger := rt.logger()
	stores, retryCfg, err := rt.open(ctx, rt.globals, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := stores.Close(ctx); closeErr != nil {
			logger.Warn("store close failed", slog.String("error", closeErr.Error()))
		}
	}()
	return fn(ctx, stores, retryCfg, logger)
}

type commands struct {
	Reconcile *ReconcileCommand
	Top       *TopCommand
	Record    *RecordCommand
}

func buildParser(rt *runtime) (*goflags.Parser, *commands) {
	parser := goflags.NewParser(rt.globals, goflags.Default)
	parser.Name = "trendctl"
	parser.LongDescription = "Inspect and repair cinetrack trend aggregates."

	cmds := &commands{
		Reconcile: &ReconcileCommand{rt: rt},
		Top:       &TopCommand{rt: rt},
		Record:    &RecordCommand{rt: rt},
	}
	parser.AddCommand("reconcile", "Merge duplicate trend aggregates",
		"Run one reconciliation pass, merging aggregates that share a movie id. With --dry-run only the plan is printed.", cmds.Reconcile)
	parser.AddCommand("top", "Print the trending list",
		"Print the ranked trending list, one entry per movie.", cmds.Top)
	parser.AddCommand("record", "Record a search by hand",
		"Record one search for a movie, as the app does when a result is opened.", cmds.Record)
	return parser, cmds
}

// Run parses os.Args and executes the matched subcommand.
func Run() error {
	return RunWithArgs(os.Args[1:], os.Stdout, os.Stderr)
}

func RunWithArgs(args []string, out, errOut io.Writer) error {
	return runWith(args, out, errOut, openConfigured)
}

func runWith(args []string, out, errOut io.Writer, open opener) error {
	rt := &runtime{globals: &GlobalFlags{}, out: out, errOut: errOut, open: open}
	parser, _ := buildParser(rt)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *goflags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == goflags.ErrHelp {
			return nil
		}
		return err
	}
	return nil
}

func openConfigured(ctx context.Context, globals *GlobalFlags, logger *slog.Logger) (app.Stores, retry.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Stores{}, retry.Config{}, err
	}
	if path := strings.TrimSpace(globals.BoltPath); path != "" {
		cfg.BoltPath = path
	}
	kind, err := app.StoreKind(cfg, globals.Store)
	if err != nil {
		return app.Stores{}, retry.Config{}, err
	}
	stores, err := app.OpenStores(ctx, cfg, kind, logger)
	if err != nil {
		return app.Stores{}, retry.Config{}, fmt.Errorf("open %s store: %w", kind, err)
	}
	return stores, cfg.Retry, nil
}
