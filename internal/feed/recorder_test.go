package feed_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/alpha-engine/internal/feed"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

func TestRecorderFlush(t *testing.T) {
	store, err := feed.NewStore(nopLogger(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	rec := feed.NewRecorder(nopLogger(), store)

	rec.Record(tick(100, 1, 1000))
	rec.Record(tick(101, 1, 2000))
	if rec.Pending() != 2 {
		t.Fatalf("Expected 2 pending ticks, got %d", rec.Pending())
	}

	if err := rec.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if rec.Pending() != 0 || rec.Written() != 2 {
		t.Errorf("Expected 0 pending and 2 written, got %d and %d", rec.Pending(), rec.Written())
	}

	loaded, err := store.LoadTicks(context.Background(), "BTCUSDT", 0, 0)
	if err != nil {
		t.Fatalf("Failed to load ticks: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 stored ticks, got %d", len(loaded))
	}
}

func TestRecorderTee(t *testing.T) {
	store, err := feed.NewStore(nopLogger(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	rec := feed.NewRecorder(nopLogger(), store)

	in := make(chan types.Tick, 3)
	out := make(chan types.Tick, 3)
	in <- tick(100, 1, 1000)
	in <- tick(101, 1, 2000)
	in <- tick(102, 1, 3000)
	close(in)

	if err := rec.Tee(context.Background(), in, out, time.Hour); err != nil {
		t.Fatalf("Tee failed: %v", err)
	}
	if len(out) != 3 {
		t.Errorf("Expected 3 forwarded ticks, got %d", len(out))
	}
	if rec.Written() != 3 {
		t.Errorf("Expected final flush to write 3 ticks, got %d", rec.Written())
	}
}
