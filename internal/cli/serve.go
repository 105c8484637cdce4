package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/rsspinger/internal/config"
	"github.com/ppiankov/rsspinger/internal/feed"
	"github.com/ppiankov/rsspinger/internal/logger"
	"github.com/ppiankov/rsspinger/internal/message"
	"github.com/ppiankov/rsspinger/internal/store"
	"github.com/ppiankov/rsspinger/internal/telegram"
	"github.com/ppiankov/rsspinger/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and watch the feed for subscribed chats",
	RunE:  serveAction,
}

// dialTelegram is replaced in tests.
var dialTelegram = func(token, endpoint string) (telegram.Updater, error) {
	api, err := telegram.Dial(token, endpoint)
	if err != nil {
		return nil, err
	}
	return api, nil
}

func serveAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is not set (export %s)", cfg.Telegram.TokenEnv)
	}

	log, closeLog, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	var (
		db      *store.Store
		journal watch.Journal
	)
	if !cfg.Storage.Disabled {
		db, err = store.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = db.Close() }()
		journal = db
	}

	src, err := feed.NewSource(cfg.Feed.URL, feed.NewFetcher(cfg.Feed.Timeout.Duration, cfg.Feed.MaxBytes))
	if err != nil {
		return fmt.Errorf("create feed source: %w", err)
	}
	formatter, err := message.New(cfg.Message.Redact)
	if err != nil {
		return fmt.Errorf("create formatter: %w", err)
	}
	api, err := dialTelegram(cfg.Telegram.Token, cfg.Telegram.APIEndpoint)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sched, err := watch.NewScheduler(ctx, watch.Options{
		Source:      src,
		Sink:        telegram.NewSink(api),
		Format:      formatter.Format,
		Journal:     journal,
		Logger:      log,
		SkipBacklog: cfg.Watch.SkipBacklog,
	})
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	bot, err := telegram.NewBot(telegram.BotOptions{
		API:             api,
		Controller:      sched,
		DefaultInterval: cfg.Watch.Interval.Duration,
		AllowedChats:    cfg.Telegram.AllowedChats,
		Logger:          log,
	})
	if err != nil {
		sched.Close()
		return fmt.Errorf("create bot: %w", err)
	}

	if cfg.Telegram.ChatID != 0 {
		if _, err := sched.Start(cfg.Telegram.ChatID, cfg.Watch.Interval.Duration); err != nil {
			sched.Close()
			return fmt.Errorf("start watch for chat %d: %w", cfg.Telegram.ChatID, err)
		}
	}

	log.Info("serving",
		zap.String("feed", src.URL()),
		zap.Duration("default_interval", cfg.Watch.Interval.Duration),
		zap.Bool("journal", db != nil),
	)

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	{
		botCtx, botCancel := context.WithCancel(ctx)
		g.Add(func() error {
			return bot.Run(botCtx)
		}, func(error) {
			botCancel()
		})
	}
	{
		stop := make(chan struct{})
		g.Add(func() error {
			<-stop
			sched.Close()
			return nil
		}, func(error) {
			close(stop)
		})
	}

	err = g.Run()

	var sigErr run.SignalError
	switch {
	case errors.As(err, &sigErr):
		log.Info("shutting down", zap.String("signal", sigErr.Signal.String()))
		err = nil
	case errors.Is(err, context.Canceled):
		log.Info("shutting down")
		err = nil
	case err != nil:
		log.Error("stopped", zap.Error(err))
	}

	if db != nil {
		n, pruneErr := db.PruneOld(context.Background(), cfg.Storage.RetainDays)
		if pruneErr != nil {
			log.Warn("prune journal", zap.Error(pruneErr))
		} else if n > 0 {
			log.Info("pruned journal", zap.Int64("deliveries", n))
		}
	}

	return err
}
