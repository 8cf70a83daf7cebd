package domain

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/subwatch/frontpage-mirror/internal/config"
)

func testConfig(minPos, maxPos int) *config.Config {
	return &config.Config{
		FeedToMonitor:        "all",
		MinPosition:          minPos,
		MaxPosition:          maxPos,
		DestinationSubreddit: "mirrorsub",
	}
}

func newTestWatcher(client *fakeClient, store *memSortedSet, kv *memKV, cfg *config.Config) *Watcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cleanup := NewCleanup(store, kv, client, &fakeScheduler{}, logger, false)
	mirror := NewMirror(client, kv, cleanup, cfg.DestinationSubreddit, logger)
	return NewWatcher(store, client, mirror, cfg, logger)
}

func TestCheckBatchSize(t *testing.T) {
	tests := []struct {
		minPos, maxPos int
		want           int
	}{
		{1, 100, 10},   // round(99/18) = 6, floored at 10
		{1, 1000, 56},  // round(999/18) = 56
		{100, 500, 22}, // round(400/18) = 22
		{1, 1, 10},
	}

	for _, tt := range tests {
		if got := checkBatchSize(tt.minPos, tt.maxPos); got != tt.want {
			t.Errorf("checkBatchSize(%d, %d) = %d, want %d", tt.minPos, tt.maxPos, got, tt.want)
		}
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("records ranks and queues new posts immediately", func(t *testing.T) {
		client := newFakeClient()
		client.hot = []Post{
			{ID: "t3_a"},
			{ID: "t3_b", NSFW: true},
			{ID: "t3_c"},
		}
		store := newMemSortedSet()
		watcher := newTestWatcher(client, store, newMemKV(), testConfig(1, 100))

		before := time.Now().UnixMilli()
		if err := watcher.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}

		// Rank is the fetched position, not the filtered position.
		if rank, ok, _ := store.ZScore(ctx, SetCurrentRanks, "t3_a"); !ok || rank != 1 {
			t.Errorf("rank of t3_a = %v (ok=%v), want 1", rank, ok)
		}
		if rank, ok, _ := store.ZScore(ctx, SetCurrentRanks, "t3_c"); !ok || rank != 3 {
			t.Errorf("rank of t3_c = %v (ok=%v), want 3", rank, ok)
		}
		if _, ok, _ := store.ZScore(ctx, SetCurrentRanks, "t3_b"); ok {
			t.Error("NSFW post t3_b recorded, want excluded")
		}

		due, ok, _ := store.ZScore(ctx, SetPendingQueue, "t3_a")
		if !ok {
			t.Fatal("t3_a not queued")
		}
		if int64(due) < before || int64(due) > time.Now().UnixMilli() {
			t.Errorf("t3_a due = %v, want immediate", due)
		}
	})

	t.Run("respects min position", func(t *testing.T) {
		client := newFakeClient()
		client.hot = []Post{{ID: "t3_a"}, {ID: "t3_b"}, {ID: "t3_c"}}
		store := newMemSortedSet()
		watcher := newTestWatcher(client, store, newMemKV(), testConfig(3, 100))

		if err := watcher.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}

		if _, ok, _ := store.ZScore(ctx, SetCurrentRanks, "t3_a"); ok {
			t.Error("t3_a below window recorded")
		}
		if rank, ok, _ := store.ZScore(ctx, SetCurrentRanks, "t3_c"); !ok || rank != 3 {
			t.Errorf("rank of t3_c = %v (ok=%v), want 3", rank, ok)
		}
	})

	t.Run("evicts posts that left the window", func(t *testing.T) {
		client := newFakeClient()
		client.hot = []Post{{ID: "t3_a"}, {ID: "t3_b"}}
		store := newMemSortedSet()
		watcher := newTestWatcher(client, store, newMemKV(), testConfig(1, 100))

		if err := watcher.Reconcile(ctx); err != nil {
			t.Fatalf("first Reconcile() error = %v", err)
		}

		client.hot = []Post{{ID: "t3_b"}}
		if err := watcher.Reconcile(ctx); err != nil {
			t.Fatalf("second Reconcile() error = %v", err)
		}

		if _, ok, _ := store.ZScore(ctx, SetCurrentRanks, "t3_a"); ok {
			t.Error("t3_a still in rank registry after leaving window")
		}
		if _, ok, _ := store.ZScore(ctx, SetPendingQueue, "t3_a"); ok {
			t.Error("t3_a still in pending queue after leaving window")
		}
		if rank, ok, _ := store.ZScore(ctx, SetCurrentRanks, "t3_b"); !ok || rank != 1 {
			t.Errorf("rank of t3_b = %v (ok=%v), want refreshed to 1", rank, ok)
		}
	})

	t.Run("does not requeue persisting posts", func(t *testing.T) {
		client := newFakeClient()
		client.hot = []Post{{ID: "t3_a"}}
		store := newMemSortedSet()
		watcher := newTestWatcher(client, store, newMemKV(), testConfig(1, 100))

		if err := watcher.Reconcile(ctx); err != nil {
			t.Fatalf("first Reconcile() error = %v", err)
		}
		if err := store.ZRem(ctx, SetPendingQueue, "t3_a"); err != nil {
			t.Fatal(err)
		}
		if err := watcher.Reconcile(ctx); err != nil {
			t.Fatalf("second Reconcile() error = %v", err)
		}

		if _, ok, _ := store.ZScore(ctx, SetPendingQueue, "t3_a"); ok {
			t.Error("resolved post re-entered the queue")
		}
	})
}

func TestCheckRemovals(t *testing.T) {
	ctx := context.Background()

	enqueue := func(t *testing.T, store *memSortedSet, id string, rank float64) {
		t.Helper()
		if err := store.ZAdd(ctx, SetPendingQueue, Member{Member: id, Score: float64(time.Now().Add(-time.Minute).UnixMilli())}); err != nil {
			t.Fatal(err)
		}
		if rank > 0 {
			if err := store.ZAdd(ctx, SetCurrentRanks, Member{Member: id, Score: rank}); err != nil {
				t.Fatal(err)
			}
		}
	}

	t.Run("requeues a live post five minutes out", func(t *testing.T) {
		client := newFakeClient()
		client.byID["t3_a"] = &Post{ID: "t3_a", Subreddit: "pics"}
		store := newMemSortedSet()
		watcher := newTestWatcher(client, store, newMemKV(), testConfig(1, 100))
		enqueue(t, store, "t3_a", 5)

		if err := watcher.CheckRemovals(ctx); err != nil {
			t.Fatalf("CheckRemovals() error = %v", err)
		}

		due, ok, _ := store.ZScore(ctx, SetPendingQueue, "t3_a")
		if !ok {
			t.Fatal("t3_a dropped from queue, want requeued")
		}
		wantMin := time.Now().Add(4 * time.Minute).UnixMilli()
		wantMax := time.Now().Add(6 * time.Minute).UnixMilli()
		if int64(due) < wantMin || int64(due) > wantMax {
			t.Errorf("requeue due = %v, want about five minutes out", due)
		}
		if len(client.submitted) != 0 {
			t.Errorf("submitted %d posts, want 0", len(client.submitted))
		}
	})

	t.Run("mirrors a moderator-removed tracked post", func(t *testing.T) {
		client := newFakeClient()
		client.byID["t3_a"] = &Post{
			ID:                "t3_a",
			Title:             "Removed post",
			Subreddit:         "pics",
			Score:             100,
			CommentCount:      5,
			RemovedByCategory: "moderator",
			Permalink:         "/r/pics/comments/a/removed_post/",
		}
		store := newMemSortedSet()
		watcher := newTestWatcher(client, store, newMemKV(), testConfig(1, 100))
		enqueue(t, store, "t3_a", 12)

		if err := watcher.CheckRemovals(ctx); err != nil {
			t.Fatalf("CheckRemovals() error = %v", err)
		}

		if len(client.submitted) != 1 {
			t.Fatalf("submitted %d posts, want 1", len(client.submitted))
		}
		if want := "[#12|+100|5] Removed post [r/pics]"; client.submitted[0].title != want {
			t.Errorf("title = %q, want %q", client.submitted[0].title, want)
		}
		if _, ok, _ := store.ZScore(ctx, SetPendingQueue, "t3_a"); ok {
			t.Error("resolved post still queued")
		}
	})

	t.Run("removed post without a rank is dropped unmirrored", func(t *testing.T) {
		client := newFakeClient()
		client.byID["t3_a"] = &Post{ID: "t3_a", Subreddit: "pics", RemovedByCategory: "moderator"}
		store := newMemSortedSet()
		watcher := newTestWatcher(client, store, newMemKV(), testConfig(1, 100))
		enqueue(t, store, "t3_a", 0)

		if err := watcher.CheckRemovals(ctx); err != nil {
			t.Fatalf("CheckRemovals() error = %v", err)
		}

		if len(client.submitted) != 0 {
			t.Errorf("submitted %d posts, want 0", len(client.submitted))
		}
		if _, ok, _ := store.ZScore(ctx, SetPendingQueue, "t3_a"); ok {
			t.Error("resolved post still queued")
		}
	})

	t.Run("admin removal is not mirrored", func(t *testing.T) {
		client := newFakeClient()
		client.byID["t3_a"] = &Post{ID: "t3_a", Subreddit: "pics", RemovedByCategory: "admin"}
		store := newMemSortedSet()
		watcher := newTestWatcher(client, store, newMemKV(), testConfig(1, 100))
		enqueue(t, store, "t3_a", 4)

		if err := watcher.CheckRemovals(ctx); err != nil {
			t.Fatalf("CheckRemovals() error = %v", err)
		}

		if len(client.submitted) != 0 {
			t.Errorf("submitted %d posts, want 0", len(client.submitted))
		}
		if _, ok, _ := store.ZScore(ctx, SetPendingQueue, "t3_a"); !ok {
			t.Error("admin-removed post dropped, want requeued")
		}
	})

	t.Run("pops earliest-due entries only", func(t *testing.T) {
		client := newFakeClient()
		store := newMemSortedSet()
		watcher := newTestWatcher(client, store, newMemKV(), testConfig(1, 100))

		// Batch size is 10 for this window; add 12 posts and make sure the
		// two latest-due stay untouched.
		now := time.Now().Add(-time.Hour)
		for i := 0; i < 12; i++ {
			id := string(rune('a'+i)) + "_post"
			client.byID[id] = &Post{ID: id, Subreddit: "pics"}
			if err := store.ZAdd(ctx, SetPendingQueue, Member{Member: id, Score: float64(now.Add(time.Duration(i) * time.Minute).UnixMilli())}); err != nil {
				t.Fatal(err)
			}
		}

		if err := watcher.CheckRemovals(ctx); err != nil {
			t.Fatalf("CheckRemovals() error = %v", err)
		}

		// The ten earliest were requeued five minutes out; the two latest
		// keep their original due times.
		for i := 10; i < 12; i++ {
			id := string(rune('a'+i)) + "_post"
			due, ok, _ := store.ZScore(ctx, SetPendingQueue, id)
			want := float64(now.Add(time.Duration(i) * time.Minute).UnixMilli())
			if !ok || due != want {
				t.Errorf("entry %s due = %v (ok=%v), want untouched %v", id, due, ok, want)
			}
		}
	})
}
