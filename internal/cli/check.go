package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rsspinger/internal/config"
	"github.com/ppiankov/rsspinger/internal/feed"
	"github.com/ppiankov/rsspinger/internal/message"
	"github.com/ppiankov/rsspinger/internal/watch"
)

var checkLastSeen string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch the feed once and print what a watch would post",
	RunE:  checkAction,
}

func init() {
	checkCmd.Flags().StringVar(&checkLastSeen, "last-seen", "", "treat this item id as already posted")
}

func checkAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	src, err := feed.NewSource(cfg.Feed.URL, feed.NewFetcher(cfg.Feed.Timeout.Duration, cfg.Feed.MaxBytes))
	if err != nil {
		return fmt.Errorf("create feed source: %w", err)
	}
	formatter, err := message.New(cfg.Message.Redact)
	if err != nil {
		return fmt.Errorf("create formatter: %w", err)
	}

	snap, err := src.Fetch(commandContext(cmd))
	if err != nil {
		return err
	}

	items, st := watch.Poll(snap, watch.State{LastSeenID: checkLastSeen, Interval: cfg.Watch.Interval.Duration})

	fmt.Printf("Feed %s: %d items\n", src.URL(), len(snap))
	if len(items) == 0 {
		fmt.Println("Nothing new.")
		return nil
	}
	fmt.Printf("%d new items, oldest first:\n\n", len(items))
	if err := formatter.Write(os.Stdout, items); err != nil {
		return fmt.Errorf("write items: %w", err)
	}
	fmt.Printf("\nLast seen id would become %s\n", st.LastSeenID)
	return nil
}
