package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"trendscout/internal/bot"
	"trendscout/internal/config"
	"trendscout/internal/discovery"
	"trendscout/internal/editorial"
	"trendscout/internal/fetcher"
	"trendscout/internal/filter"
	"trendscout/internal/llm"
	"trendscout/internal/newsapi"
	"trendscout/internal/scheduler"
	"trendscout/internal/scout"
	"trendscout/internal/seo"
	"trendscout/internal/sources"
	"trendscout/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run every job once and exit")
	seed := flag.Bool("seed", false, "seed the default keywords and sources, then exit unless -once is set")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

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

	registry := sources.NewRegistry(store, log)
	if *seed {
		if _, err := registry.SeedFoundation(ctx, cfg.Feeds, cfg.NicheKeywords); err != nil {
			log.Error("seed foundation", "error", err)
			os.Exit(1)
		}
		if !*once {
			return
		}
	}

	rules, err := filter.NicheRules(cfg.NicheKeywords, cfg.ExcludeTerms)
	if err != nil {
		log.Error("build niche rules", "error", err)
		os.Exit(1)
	}

	completer := llm.New(cfg.LLM, http.DefaultClient)
	news := newsapi.New(cfg.NewsAPI.APIKey, http.DefaultClient)

	seoSvc := seo.New(store, completer, news, seo.Options{
		AutoLinking:    cfg.Features.AutoInternalLinking,
		ContentRefresh: cfg.Features.ContentRefresh,
	}, log)
	editorialSvc := editorial.New(store, completer, seoSvc, log)
	scoutSvc := scout.New(fetcher.New(http.DefaultClient), completer, store, rules, log)
	engine := discovery.NewEngine(store, completer, discovery.Options{
		MinRelevance: cfg.Discovery.MinRelevance,
		MaxActive:    cfg.Discovery.MaxActive,
		Persist:      cfg.Features.DynamicKeywords,
	}, log,
		discovery.NewNewsAPIAdapter(news),
		discovery.NewRedditAdapter(cfg.Reddit.ClientID, cfg.Reddit.ClientSecret, http.DefaultClient),
		discovery.NewHackerNewsAdapter(http.DefaultClient),
		discovery.NewBrainstormAdapter(completer),
	)

	deps := scheduler.Deps{
		Store:     store,
		Discovery: engine,
		Sources:   registry,
		Scout:     scoutSvc,
		Refresher: seoSvc,
	}

	var b *bot.Bot
	if cfg.Telegram.BotToken != "" {
		b, err = bot.New(cfg.Telegram.BotToken, store, bot.Services{
			Editorial: editorialSvc,
			SEO:       seoSvc,
			Sources:   registry,
		}, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		deps.Notifier = b
	}

	sched := scheduler.New(deps, cfg.Pipeline, cfg.Schedule, log)

	if *once {
		log.Info("running all jobs once")
		sched.RunAll(ctx)
		return
	}

	if err := sched.Start(ctx); err != nil {
		log.Error("start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	if b != nil {
		log.Info("starting bot")
		b.Run(ctx)
	} else {
		log.Info("no bot token, running scheduler only")
		<-ctx.Done()
	}

	log.Info("trendscout stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
