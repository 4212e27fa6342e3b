// Command futawatch watches one Futaba thread, classifies newly posted
// images, and routes the results to sinks.
//
// Usage:
//
//	futawatch -url https://may.2chan.net/b/res/123456.htm -classifier-url http://localhost:8800
//	futawatch -thread 123456 -board b -domain may.2chan.net -no-classify
//	futawatch -config futawatch.yaml
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"futawatch/classify"
	"futawatch/config"
	"futawatch/dbopen"
	"futawatch/fetch"
	"futawatch/sink"
	"futawatch/status"
	"futawatch/watch"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to futawatch.yaml config file")
		threadURL     = flag.String("url", "", "full thread URL (overrides -domain/-board/-thread)")
		domain        = flag.String("domain", "", "board domain (default may.2chan.net)")
		board         = flag.String("board", "", "board name (default b)")
		threadID      = flag.String("thread", "", "thread number")
		interval      = flag.Int("interval", 0, "poll interval in seconds (default 10)")
		threshold     = flag.Float64("threshold", 0, "flagging probability threshold (default 0.5)")
		classifyAll   = flag.Bool("classify-all", false, "classify images already present at startup")
		noClassify    = flag.Bool("no-classify", false, "watch without classifying images")
		classifierURL = flag.String("classifier-url", "", "base URL of the classification server")
		tempDir       = flag.String("temp-dir", "", "directory for fetched images (default: auto temp dir)")
		verbose       = flag.Bool("verbose", false, "log full post bodies and debug detail")
		logLevel      = flag.String("log-level", "info", "log level: debug, info, warn, error")
		statusAddr    = flag.String("status-addr", "", "serve /status and /healthz on this address")
		_             = flag.Bool("json", false, "write classification events as JSON lines to stdout")
		webhookURL    = flag.String("webhook", "", "POST classification events to this URL")
		archivePath   = flag.String("archive", "", "persist classification events to this SQLite file")
	)
	flag.Parse()

	level := slog.LevelInfo
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			logger.Error("futawatch: load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags override file values, but only when given on the command line.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.URL = *threadURL
		case "domain":
			cfg.Domain = *domain
		case "board":
			cfg.Board = *board
		case "thread":
			cfg.Thread = *threadID
		case "interval":
			cfg.IntervalSeconds = *interval
		case "threshold":
			cfg.Threshold = *threshold
		case "classify-all":
			cfg.ClassifyAll = *classifyAll
		case "no-classify":
			cfg.NoClassify = *noClassify
		case "classifier-url":
			cfg.ClassifierURL = *classifierURL
		case "temp-dir":
			cfg.TempDir = *tempDir
		case "verbose":
			cfg.Verbose = *verbose
		case "status-addr":
			cfg.StatusAddr = *statusAddr
		case "json":
			cfg.Sinks = append(cfg.Sinks, config.SinkConfig{Type: "stdout"})
		case "webhook":
			cfg.Sinks = append(cfg.Sinks, config.SinkConfig{Type: "webhook", URL: *webhookURL})
		case "archive":
			cfg.Sinks = append(cfg.Sinks, config.SinkConfig{Type: "archive", Path: *archivePath})
		}
	})

	if err := cfg.Resolve(); err != nil {
		logger.Error("futawatch: bad thread url", "error", err)
		os.Exit(1)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		logger.Error("futawatch: invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("futawatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	tempDir := cfg.TempDir
	if tempDir == "" {
		dir, err := os.MkdirTemp("", "futawatch-*")
		if err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		tempDir = dir
	} else if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	logger.Info("futawatch: watching thread",
		"url", cfg.ThreadURL(),
		"interval_s", cfg.IntervalSeconds,
		"temp_dir", tempDir)

	src := fetch.New(cfg.Domain, cfg.Board, fetch.WithLogger(logger))

	var cls classify.Classifier
	if !cfg.NoClassify {
		cls = classify.NewRemote(cfg.ClassifierURL, classify.WithLogger(logger))
	}

	sinks, closeDBs, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	router := sink.NewRouter(logger, sinks...)
	defer func() {
		router.Close()
		closeDBs()
	}()

	w := watch.New(src, cls, router, watch.Options{
		ThreadID:    cfg.Thread,
		Interval:    cfg.Interval(),
		Threshold:   cfg.Threshold,
		ClassifyAll: cfg.ClassifyAll,
		TempDir:     tempDir,
		Verbose:     cfg.Verbose,
		Logger:      logger,
	})

	if cfg.StatusAddr != "" {
		srv := status.New(w, logger)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.StatusAddr); err != nil {
				logger.Warn("futawatch: status server stopped", "error", err)
			}
		}()
	}

	return w.Run(ctx)
}

// buildSinks assembles the configured sinks. The human-readable log
// sink is always present.
func buildSinks(cfg *config.Config, logger *slog.Logger) ([]sink.Sink, func(), error) {
	sinks := []sink.Sink{sink.NewLog(logger, cfg.Verbose)}
	var dbs []*sql.DB

	closeDBs := func() {
		for _, db := range dbs {
			db.Close()
		}
	}

	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, sink.NewStdout(nil))
		case "webhook":
			sinks = append(sinks, sink.NewWebhook(sc.URL, sink.WithWebhookLogger(logger)))
		case "archive":
			db, err := dbopen.Open(sc.Path, dbopen.WithMkdirAll())
			if err != nil {
				closeDBs()
				return nil, nil, fmt.Errorf("open archive %s: %w", sc.Path, err)
			}
			dbs = append(dbs, db)
			a := sink.NewArchive(db, logger)
			if err := a.Init(); err != nil {
				closeDBs()
				return nil, nil, fmt.Errorf("init archive %s: %w", sc.Path, err)
			}
			sinks = append(sinks, a)
		}
	}
	return sinks, closeDBs, nil
}
