package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/aluiziolira/go-scrape-phones/parser"
	"github.com/aluiziolira/go-scrape-phones/pipeline"
	"github.com/aluiziolira/go-scrape-phones/scraper"
	"github.com/aluiziolira/go-scrape-phones/tor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := buildConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		return 2
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	entries, err := parser.LoadEntries(cfg.InputFile)
	if err != nil {
		slog.Error("loading input", slog.String("file", cfg.InputFile), slog.Any("error", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing the current page")
	}()

	client, controller, cleanup, err := setupTor(ctx, cfg)
	if err != nil {
		slog.Error("tor setup failed", slog.Any("error", err))
		return 1
	}
	defer cleanup()

	if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
		slog.Error("tor SOCKS proxy is not usable",
			slog.String("proxy", client.ProxyAddress()),
			slog.Any("error", status.Error()),
		)
		return 1
	}

	slog.Info("starting scrape",
		slog.String("input", cfg.InputFile),
		slog.String("output", cfg.OutputFile),
		slog.String("proxy", client.ProxyAddress()),
		slog.String("control", controller.Addr()),
		slog.Int("attempts", cfg.MaxAttempts),
	)

	rotator := tor.NewRotator(controller, cfg.SettleDelay)
	s, err := scraper.NewScraper(cfg, client.Transport(), rotator)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return 1
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile, cfg.Fields)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()
	if err := writer.Validate(); err != nil {
		slog.Error("existing output cannot be appended to", slog.Any("error", err))
		return 1
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(writer)
	if cfg.Verbose {
		p.StartMetricsReporting(30 * time.Second)
	}

	result, runErr := s.Run(ctx, entries, p)

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if result != nil {
		printSummary(os.Stdout, result, cfg.OutputFile, p.GetMetrics())
	}
	if runErr != nil {
		slog.Error("scraping stopped", slog.Any("error", runErr))
		return 1
	}

	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		return 1
	}
	return 0
}

// buildConfig layers defaults, .env, environment variables and flags, in
// increasing precedence.
func buildConfig(args []string) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("scraper", flag.ContinueOnError)
	fs.StringVar(&cfg.InputFile, "input", cfg.InputFile, "File with one phone page URL per line")
	fs.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Output file path (appended to)")
	fs.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: csv, json, or dual")
	fs.StringVar(&cfg.ProxyAddr, "proxy", cfg.ProxyAddr, "Tor SOCKS5 proxy address")
	fs.StringVar(&cfg.ControlAddr, "control", cfg.ControlAddr, "Tor control port address")
	fs.StringVar(&cfg.ControlPassword, "control-password", cfg.ControlPassword, "Tor control port password")
	fs.StringVar(&cfg.ControlCookie, "control-cookie", cfg.ControlCookie, "Path to Tor's control_auth_cookie (overrides the password)")
	fs.DurationVar(&cfg.SettleDelay, "settle", cfg.SettleDelay, "Wait after each identity change")
	fs.BoolVar(&cfg.EmbeddedTor, "embedded-tor", cfg.EmbeddedTor, "Launch a private Tor daemon instead of using a system one")
	fs.IntVar(&cfg.MaxAttempts, "attempts", cfg.MaxAttempts, "Attempts per URL before it is skipped")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Initial extra wait between attempts (0 disables)")
	fs.DurationVar(&cfg.RetryBackoffMax, "retry-backoff-max", cfg.RetryBackoffMax, "Maximum extra wait between attempts")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	return cfg, nil
}

// setupTor returns the SOCKS client and control-port client for cfg,
// launching an embedded daemon first when requested.
func setupTor(ctx context.Context, cfg *config.Config) (*tor.Client, *tor.Controller, func(), error) {
	noop := func() {}

	if !cfg.EmbeddedTor {
		client, err := tor.NewClient(cfg.ProxyAddr, cfg.Timeout)
		if err != nil {
			return nil, nil, noop, err
		}
		auth := tor.ControlAuth{Password: cfg.ControlPassword, CookieFile: cfg.ControlCookie}
		return client, tor.NewController(cfg.ControlAddr, auth, cfg.Timeout), noop, nil
	}

	slog.Info("starting embedded Tor daemon, this can take a few minutes")
	embedded := tor.NewEmbeddedTor()
	if err := embedded.Start(ctx); err != nil {
		return nil, nil, noop, err
	}
	cleanup := func() {
		if err := embedded.Stop(); err != nil {
			slog.Error("stopping embedded Tor", slog.Any("error", err))
		}
	}

	client, err := embedded.NewClient(cfg.Timeout)
	if err != nil {
		cleanup()
		return nil, nil, noop, err
	}
	controller, err := embedded.Controller(cfg.Timeout)
	if err != nil {
		cleanup()
		return nil, nil, noop, err
	}
	cfg.ProxyAddr = embedded.SocksAddr()
	cfg.ControlAddr = embedded.ControlAddr()
	cfg.ControlCookie = embedded.CookiePath()
	slog.Info("embedded Tor ready",
		slog.String("socks", cfg.ProxyAddr),
		slog.String("control", cfg.ControlAddr),
	)
	return client, controller, cleanup, nil
}

func createWriter(format, filename string, fields []string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename, fields)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename, fields)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(w io.Writer, result *models.ScraperResult, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Scrape complete")

	duration := result.EndTime.Sub(result.StartTime)
	fmt.Fprintf(w, "  Phones:        %d\n", result.TotalCount)
	fmt.Fprintf(w, "  Saved:         %d\n", result.RecordCount)
	fmt.Fprintf(w, "  Skipped:       %d\n", len(result.SkippedURLs))
	successRate := 0.0
	if result.RequestCount > 0 {
		ok := max(result.RequestCount-result.FailedRequests, 0)
		successRate = float64(ok) / float64(result.RequestCount) * 100
	}
	fmt.Fprintf(w, "  Requests:      %d (%.2f%% ok)\n", result.RequestCount, successRate)
	fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
	fmt.Fprintf(w, "  Rotations:     %d\n", result.RotationCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Output file:   %s\n", outputFile)
	for _, url := range result.SkippedURLs {
		fmt.Fprintf(w, "  skipped: %s\n", url)
	}
	fmt.Fprintln(w, separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
