package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"jersey-dashboard/config"
	"jersey-dashboard/dashboard"
	"jersey-dashboard/services"
	"jersey-dashboard/snapshot"
	"jersey-dashboard/storage"
	"jersey-dashboard/utils"
)

type flags struct {
	input    string
	addr     string
	snapshot string
	export   string
}

func parseFlags(cfg *config.Config, args []string) (*flags, error) {
	fs := flag.NewFlagSet("jersey-dashboard", flag.ContinueOnError)
	f := &flags{}
	fs.StringVar(&f.input, "input", cfg.InputPath, "listing export to load (.csv or .xlsx)")
	fs.StringVar(&f.addr, "addr", cfg.ListenAddr, "dashboard listen address")
	fs.StringVar(&f.snapshot, "snapshot", "", "write a .png or .pdf capture of the dashboard and exit")
	fs.StringVar(&f.export, "export", "", "write the derived tables to an .xlsx workbook and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.InputPath = f.input
	cfg.ListenAddr = f.addr
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if f.snapshot != "" {
		if _, err := snapshot.FormatFor(f.snapshot); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func main() {
	logger := utils.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	opts, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		logger.Error("%v", err)
		os.Exit(2)
	}
	logger = utils.NewLoggerWithLevel(utils.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		if errors.Is(err, storage.ErrInputNotFound) {
			logger.Error("Cannot start dashboard: %v", err)
		} else {
			logger.Error("%v", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts *flags, logger *utils.Logger) error {
	logger.Info("=== Jersey Listings Dashboard starting ===")
	logger.Info("Config: input=%s | addr=%s | top=%d | workers=%d | watch=%t | schedule=%q",
		cfg.InputPath, cfg.ListenAddr, cfg.TopN, cfg.ChartWorkers, cfg.WatchInput, cfg.ReloadSchedule)

	cleaner := services.NewCleaner(logger)
	insights := services.NewInsightService(logger, cfg.TopN)
	pipeline := services.NewPipeline(cfg.InputPath, cfg.InputSheet, cleaner, insights, logger)

	if cfg.StoreEnabled {
		retry := &utils.RetryConfig{MaxAttempts: cfg.MaxRetries, BaseDelay: 2 * time.Second, Logger: logger}
		pg, err := storage.NewPostgresWriter(ctx, cfg.DSN(), retry)
		if err != nil {
			logger.Error("PostgreSQL unavailable, continuing without store: %v", err)
		} else {
			defer pg.Close()
			pipeline.WithStore(pg)
			logger.Info("Cleaned listings will be stored in PostgreSQL (table: jersey_listings)")
		}
	}

	metrics := dashboard.NewMetrics()
	state := dashboard.NewState(pipeline, dashboard.NewChartRenderer(cfg.ChartWorkers, logger, metrics), metrics, logger)

	res, err := state.Load(ctx)
	if err != nil {
		return err
	}
	insights.Print(res.Report)

	exporter := storage.NewWorkbookExporter()
	if opts.export != "" {
		if err := exporter.SaveAs(opts.export, res.Report); err != nil {
			return err
		}
		logger.Info("Workbook written to %s", opts.export)
		if opts.snapshot == "" {
			return nil
		}
	}

	server := dashboard.NewServer(dashboard.ServerOptions{
		Title:           cfg.Title,
		RequestTimeout:  cfg.RequestTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, state, metrics, exporter, logger)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(gctx, ln)
	})

	if opts.snapshot != "" {
		capturer := snapshot.New(cfg.ChromeBin, cfg.SnapshotTimeout, cfg.MaxRetries, logger)
		g.Go(func() error {
			defer cancel()
			return capturer.Capture(gctx, "http://"+ln.Addr().String()+"/", opts.snapshot)
		})
		return g.Wait()
	}

	reloader := services.NewReloader(logger, cfg.InputPath, cfg.WatchInput, cfg.ReloadSchedule, state.Reload)
	if reloader.Enabled() {
		g.Go(func() error {
			return reloader.Run(gctx)
		})
	}

	logger.Info("Dashboard ready at http://%s (Ctrl+C to stop)", ln.Addr())
	return g.Wait()
}
