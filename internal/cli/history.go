package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rsspinger/internal/config"
	"github.com/ppiankov/rsspinger/internal/store"
)

var (
	historyChat   int64
	historyLimit  int
	historyFailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent deliveries from the journal",
	RunE:  historyAction,
}

func init() {
	historyCmd.Flags().Int64Var(&historyChat, "chat", 0, "only show deliveries to this chat id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of deliveries")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "only show failed deliveries")
}

func historyAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Disabled {
		return fmt.Errorf("journal is disabled (storage.disabled)")
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := commandContext(cmd)

	ds, err := db.Deliveries(ctx, store.DeliveryFilter{
		ChatID:     historyChat,
		FailedOnly: historyFailed,
		Limit:      historyLimit,
	})
	if err != nil {
		return err
	}
	stats, err := db.TickStats(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}

	printHistory(os.Stdout, ds, stats)
	return nil
}

func printHistory(w io.Writer, ds []store.Delivery, stats store.TickStats) {
	_, _ = fmt.Fprintf(w, "Last 24h: %d checks (%d failed), %d new items\n", stats.Total, stats.Failed, stats.NewItems)
	if !stats.LastTick.IsZero() {
		_, _ = fmt.Fprintf(w, "Last check: %s\n", stats.LastTick.Local().Format(time.DateTime))
	}
	_, _ = fmt.Fprintln(w)

	if len(ds) == 0 {
		_, _ = fmt.Fprintln(w, "No deliveries yet.")
		return
	}

	for _, d := range ds {
		status := "sent"
		if d.Err != "" {
			status = "FAILED: " + d.Err
		}
		_, _ = fmt.Fprintf(w, "%s  chat %d  %s\n", d.DeliveredAt.Local().Format(time.DateTime), d.ChatID, status)
		_, _ = fmt.Fprintf(w, "  %s\n  %s\n", d.Title, d.Link)
	}
}
