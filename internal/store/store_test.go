package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rsspinger.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.Get(&version, "SELECT value FROM metadata WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestOpen_Reopen(t *testing.T) {
	st, path := openTestStore(t)
	_ = st.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = again.Close()
}

func TestOpen_NewerSchemaRefused(t *testing.T) {
	st, path := openTestStore(t)
	if _, err := st.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = st.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for newer schema")
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRecordAndListDeliveries(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	inputs := []DeliveryInput{
		{TickID: "t1", ChatID: 1, ItemID: "a", Title: "A", Link: "la", MediaURL: "ma", DeliveredAt: base},
		{TickID: "t1", ChatID: 1, ItemID: "b", Title: "B", Link: "lb", MediaURL: "mb", DeliveredAt: base.Add(time.Second), Err: "boom"},
		{TickID: "t2", ChatID: 2, ItemID: "c", Title: "C", Link: "lc", MediaURL: "mc", DeliveredAt: base.Add(2 * time.Second)},
	}
	for _, in := range inputs {
		if err := st.RecordDelivery(ctx, in); err != nil {
			t.Fatalf("record delivery %s: %v", in.ItemID, err)
		}
	}

	all, err := st.Deliveries(ctx, DeliveryFilter{})
	if err != nil {
		t.Fatalf("deliveries: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d deliveries, want 3", len(all))
	}
	if all[0].ItemID != "c" || all[2].ItemID != "a" {
		t.Fatalf("expected newest first, got %s..%s", all[0].ItemID, all[2].ItemID)
	}
	if !all[2].DeliveredAt.Equal(base) {
		t.Errorf("delivered_at = %v, want %v", all[2].DeliveredAt, base)
	}

	chat1, err := st.Deliveries(ctx, DeliveryFilter{ChatID: 1})
	if err != nil {
		t.Fatalf("deliveries chat 1: %v", err)
	}
	if len(chat1) != 2 {
		t.Fatalf("chat 1 deliveries = %d, want 2", len(chat1))
	}

	failed, err := st.Deliveries(ctx, DeliveryFilter{FailedOnly: true})
	if err != nil {
		t.Fatalf("failed deliveries: %v", err)
	}
	if len(failed) != 1 || failed[0].ItemID != "b" || failed[0].Err != "boom" {
		t.Fatalf("unexpected failed deliveries: %+v", failed)
	}

	limited, err := st.Deliveries(ctx, DeliveryFilter{Limit: 1})
	if err != nil {
		t.Fatalf("limited deliveries: %v", err)
	}
	if len(limited) != 1 || limited[0].ItemID != "c" {
		t.Fatalf("unexpected limited deliveries: %+v", limited)
	}
}

func TestRecordDelivery_Validation(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.RecordDelivery(ctx, DeliveryInput{DeliveredAt: time.Now()}); err == nil {
		t.Error("expected error for missing item id")
	}
	if err := st.RecordDelivery(ctx, DeliveryInput{ItemID: "x"}); err == nil {
		t.Error("expected error for missing delivered_at")
	}
}

func TestRecordTickAndStats(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	ticks := []TickInput{
		{ID: "t1", ChatID: 1, StartedAt: now.Add(-3 * time.Minute), FinishedAt: now.Add(-3 * time.Minute), Fetched: 3, New: 3},
		{ID: "t2", ChatID: 1, StartedAt: now.Add(-2 * time.Minute), FinishedAt: now.Add(-2 * time.Minute), Err: "fetch failed"},
		{ID: "t3", ChatID: 1, StartedAt: now.Add(-time.Minute), FinishedAt: now.Add(-time.Minute), Fetched: 4, New: 1},
	}
	for _, in := range ticks {
		if err := st.RecordTick(ctx, in); err != nil {
			t.Fatalf("record tick %s: %v", in.ID, err)
		}
	}

	stats, err := st.TickStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("tick stats: %v", err)
	}
	if stats.Total != 3 || stats.Failed != 1 || stats.NewItems != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !stats.LastTick.Equal(ticks[2].StartedAt) {
		t.Errorf("last tick = %v, want %v", stats.LastTick, ticks[2].StartedAt)
	}

	recent, err := st.TickStats(ctx, now.Add(-90*time.Second))
	if err != nil {
		t.Fatalf("recent tick stats: %v", err)
	}
	if recent.Total != 1 {
		t.Fatalf("recent total = %d, want 1", recent.Total)
	}
}

func TestTickStats_Empty(t *testing.T) {
	st, _ := openTestStore(t)

	stats, err := st.TickStats(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("tick stats: %v", err)
	}
	if stats.Total != 0 || !stats.LastTick.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRecordTick_Validation(t *testing.T) {
	st, _ := openTestStore(t)
	if err := st.RecordTick(context.Background(), TickInput{StartedAt: time.Now()}); err == nil {
		t.Error("expected error for missing tick id")
	}
	if err := st.RecordTick(context.Background(), TickInput{ID: "x"}); err == nil {
		t.Error("expected error for missing started_at")
	}
}

func TestPruneOld(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -40)
	fresh := time.Now().Add(-time.Hour)

	for i, at := range []time.Time{old, fresh} {
		id := []string{"old", "fresh"}[i]
		if err := st.RecordTick(ctx, TickInput{ID: id, ChatID: 1, StartedAt: at, FinishedAt: at}); err != nil {
			t.Fatalf("record tick: %v", err)
		}
		if err := st.RecordDelivery(ctx, DeliveryInput{TickID: id, ChatID: 1, ItemID: id, DeliveredAt: at}); err != nil {
			t.Fatalf("record delivery: %v", err)
		}
	}

	n, err := st.PruneOld(ctx, 30)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d deliveries, want 1", n)
	}

	left, err := st.Deliveries(ctx, DeliveryFilter{})
	if err != nil {
		t.Fatalf("deliveries: %v", err)
	}
	if len(left) != 1 || left[0].ItemID != "fresh" {
		t.Fatalf("unexpected remaining deliveries: %+v", left)
	}

	var ticks int
	if err := st.db.Get(&ticks, "SELECT COUNT(*) FROM ticks"); err != nil {
		t.Fatalf("count ticks: %v", err)
	}
	if ticks != 1 {
		t.Fatalf("ticks left = %d, want 1", ticks)
	}

	if n, err := st.PruneOld(ctx, 0); err != nil || n != 0 {
		t.Fatalf("prune with 0 days: n=%d err=%v", n, err)
	}
}

func TestNilStore(t *testing.T) {
	var st *Store
	if err := st.Close(); err != nil {
		t.Errorf("close nil store: %v", err)
	}
	if err := st.RecordTick(context.Background(), TickInput{}); err == nil {
		t.Error("expected error from nil store")
	}
}
