package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"rss_fanout/internal/bot"
	"rss_fanout/internal/config"
	"rss_fanout/internal/feed"
	"rss_fanout/internal/scheduler"
	"rss_fanout/internal/storage"
	"rss_fanout/internal/tenant"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log, closeLog := newLogger(cfg)
	defer func() { _ = closeLog.Close() }()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source := feed.New(http.DefaultClient)
	var g errgroup.Group
	started := 0
	for i, t := range cfg.Tenants {
		tc := tenant.New(t, store)
		b, err := bot.New(t.Token, tc, source, log)
		if err != nil {
			log.Error("create bot, skipping tenant", "tenant", t.ID, "error", err)
			continue
		}

		sched := scheduler.New(tc, source, b.NewEngine(), log)
		sched.SetStartDelay(time.Duration(i) * cfg.StartupStagger)

		g.Go(func() error {
			sched.Run(ctx)
			return nil
		})
		g.Go(func() error {
			b.Run(ctx)
			return nil
		})
		started++
	}

	if started == 0 {
		log.Error("no tenant could be started")
		os.Exit(1)
	}

	log.Info("starting bots", "tenants", started)
	_ = g.Wait()
	log.Info("bots stopped")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger builds the text logger. With log_file set, output also goes to a
// rotated file.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer) {
	var lvl slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if file := logFile(cfg); file != nil {
		out = io.MultiWriter(os.Stderr, file)
		closer = file
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})), closer
}

// logFile returns the rotating log file writer, or nil when log_file is unset.
func logFile(cfg *config.Config) *lumberjack.Logger {
	if cfg.LogFile == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    orDefault(cfg.LogMaxSizeMB, 64),
		MaxBackups: orDefault(cfg.LogMaxBackups, 3),
		MaxAge:     orDefault(cfg.LogMaxAgeDays, 7),
		Compress:   true,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
