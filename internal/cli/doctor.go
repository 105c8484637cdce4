package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rsspinger/internal/config"
	"github.com/ppiankov/rsspinger/internal/feed"
	"github.com/ppiankov/rsspinger/internal/message"
	"github.com/ppiankov/rsspinger/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, journal and feed health",
	RunE:  doctorAction,
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true
	ctx := commandContext(cmd)

	// Config dir is optional when everything comes from the environment.
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printInfo("config directory %s not found, using environment only", configDir)
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config (feed %s, default interval %s)", cfg.Feed.URL, cfg.Watch.Interval.Duration)

	if _, err := message.New(cfg.Message.Redact); err != nil {
		printCheck(false, "message.redact: %v", err)
		ok = false
	}

	if cfg.Telegram.Token == "" {
		printCheck(false, "telegram token (%s is not set)", cfg.Telegram.TokenEnv)
		ok = false
	} else {
		printCheck(true, "telegram token from %s", cfg.Telegram.TokenEnv)
	}
	if cfg.Telegram.ChatID != 0 {
		printInfo("chat %d is watched on startup", cfg.Telegram.ChatID)
	}

	if cfg.Storage.Disabled {
		printInfo("journal disabled")
	} else {
		db, err := store.Open(cfg.Storage.Path)
		if err != nil {
			printCheck(false, "journal: %v", err)
			ok = false
		} else {
			defer func() { _ = db.Close() }()
			printCheck(true, "journal %s", cfg.Storage.Path)
			checkJournalHealth(ctx, db)
		}
	}

	src, err := feed.NewSource(cfg.Feed.URL, feed.NewFetcher(cfg.Feed.Timeout.Duration, cfg.Feed.MaxBytes))
	if err != nil {
		printCheck(false, "feed: %v", err)
		ok = false
	} else if snap, err := src.Fetch(ctx); err != nil {
		printCheck(false, "feed: %v", err)
		ok = false
	} else {
		newest := "none"
		if len(snap) > 0 {
			newest = snap[0].ID
		}
		printCheck(true, "feed reachable (%d items, newest %s)", len(snap), newest)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func checkJournalHealth(ctx context.Context, db *store.Store) {
	stats, err := db.TickStats(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || stats.LastTick.IsZero() {
		return
	}

	daysAgo := int(time.Since(stats.LastTick).Hours() / 24)
	if daysAgo >= 1 {
		printInfo("stale: last check %d days ago", daysAgo)
	}
	if stats.Total >= 5 && stats.Failed == stats.Total {
		printInfo("all %d checks in the last 24h failed", stats.Total)
	}
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
