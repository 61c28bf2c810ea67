// Command dive-count counts the regions of a dataset, optionally filtered
// and intersected with experiments, and writes the counts as CSV or XLSX.
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
	"path/filepath"
	"strings"
	"syscall"

	"divecli/internal/config"
	"divecli/internal/deepblue"
	"divecli/internal/dive"
	"divecli/internal/exporter"
	"divecli/internal/infrastructure"
	"divecli/internal/polling"
	"divecli/internal/scheduler"
	"divecli/internal/selection"
	"divecli/internal/services"
	"divecli/pkg/contracts"
	api "divecli/pkg/contracts/api/v1"
)

type options struct {
	configFile  string
	remote      string
	genome      string
	kind        string
	name        string
	filter      string
	experiments string
	out         string
	version     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, nil); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("dive-count failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("dive-count", flag.ContinueOnError)
	fs.StringVar(&opts.configFile, "config", "", "config file (defaults to DIVE_CONFIG_FILE or dive.yaml)")
	fs.StringVar(&opts.remote, "remote", "", "query service base url, overrides the config")
	fs.StringVar(&opts.genome, "genome", "hg19", "genome name")
	fs.StringVar(&opts.kind, "kind", services.DatasetAnnotation, "annotation | experiment | motif")
	fs.StringVar(&opts.name, "name", "", "dataset name")
	fs.StringVar(&opts.filter, "filter", "", "field,operation,value,type filter applied before counting")
	fs.StringVar(&opts.experiments, "experiments", "", "comma separated experiments to count overlaps with")
	fs.StringVar(&opts.out, "out", "", "output file, .csv or .xlsx (defaults to CSV on stdout)")
	fs.BoolVar(&opts.version, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.version {
		return opts, nil
	}
	if opts.name == "" {
		return opts, fmt.Errorf("-name is required")
	}
	return opts, nil
}

// run executes one count. A nil logger builds one from the configuration.
func run(ctx context.Context, args []string, stdout io.Writer, logger *slog.Logger) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.version {
		_, err := fmt.Fprintln(stdout, contracts.GetVersionString())
		return err
	}

	var cfg *config.Config
	if opts.configFile != "" {
		cfg, err = config.LoadFile(opts.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if opts.remote != "" {
		cfg.Remote.BaseURL = opts.remote
	}

	if logger == nil {
		l, err := infrastructure.NewLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer l.Close()
		logger = l.Logger
	}
	logger.InfoContext(ctx, "Starting count",
		slog.String("kind", opts.kind),
		slog.String("name", opts.name),
		slog.String("genome", opts.genome),
		slog.String("remote", cfg.Remote.BaseURL))

	session, closeSession, err := newSession(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSession()

	table, err := count(ctx, session, opts)
	if err != nil {
		return err
	}
	return write(stdout, opts.out, table)
}

func newSession(cfg *config.Config, logger *slog.Logger) (*services.SessionService, func(), error) {
	client, err := deepblue.NewClient(deepblue.Config{
		BaseURL:   cfg.Remote.BaseURL,
		Timeout:   cfg.Remote.Timeout,
		RateLimit: cfg.Remote.RateLimit,
		Burst:     cfg.Remote.Burst,
		UserAgent: cfg.Remote.UserAgent,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	poller := polling.NewPoller(client, scheduler.RealScheduler{}, polling.Config{
		Interval:         cfg.Remote.PollInterval,
		ComposedInterval: cfg.Remote.ComposedInterval,
	}, logger, nil)
	svc, err := dive.NewService(dive.Options{
		Remote:          client,
		Poller:          poller,
		Logger:          logger,
		CacheMaxEntries: cfg.Cache.MaxEntries,
		Dedupe:          cfg.Cache.Dedupe,
	})
	if err != nil {
		return nil, nil, err
	}
	stacks := selection.NewCollection(selection.NewStackFactory(svc, logger), logger)
	session := services.NewSessionService(svc, stacks, logger)
	return session, func() {
		session.Close()
		stacks.Close()
	}, nil
}

func count(ctx context.Context, session *services.SessionService, opts options) (exporter.Table, error) {
	session.SetGenome(ctx, api.GenomeRequest{Name: opts.genome})
	if _, err := session.Dive(ctx, api.DatasetRequest{Kind: opts.kind, Name: opts.name}); err != nil {
		return exporter.Table{}, err
	}

	if opts.filter != "" {
		parts := strings.Split(opts.filter, ",")
		if len(parts) != 4 {
			return exporter.Table{}, fmt.Errorf("-filter wants field,operation,value,type, got %q", opts.filter)
		}
		if _, err := session.Filter(ctx, api.FilterRequest{
			Field: parts[0], Operation: parts[1], Value: parts[2], Type: parts[3],
		}); err != nil {
			return exporter.Table{}, err
		}
	}

	if opts.experiments != "" {
		rows, err := session.OverlapCounts(ctx, api.OverlapCountRequest{Experiments: strings.Split(opts.experiments, ",")})
		if err != nil {
			return exporter.Table{}, err
		}
		return exporter.OverlapTable(rows), nil
	}

	counts, err := session.CountStacks(ctx)
	if err != nil {
		return exporter.Table{}, err
	}
	return exporter.CountsTable(counts), nil
}

func write(stdout io.Writer, out string, table exporter.Table) error {
	if out == "" {
		return exporter.EncodeCSV(stdout, table, exporter.WriteOptions{})
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(out), ".xlsx") {
		err = exporter.EncodeXLSX(f, "counts", table)
	} else {
		err = exporter.EncodeCSV(f, table, exporter.WriteOptions{})
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
