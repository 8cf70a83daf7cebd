package domain

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/subwatch/frontpage-mirror/internal/config"
	"github.com/subwatch/frontpage-mirror/internal/metrics"
)

// requeueDelay is how long an inconclusive removal check waits before the
// post becomes eligible again.
const requeueDelay = 5 * time.Minute

// Watcher tracks the monitored feed's ranking and checks tracked posts for
// moderator removal. It owns the rank registry and the pending-review queue.
type Watcher struct {
	store  SortedSetStore
	client FeedClient
	mirror *Mirror
	cfg    *config.Config
	logger *slog.Logger
}

// NewWatcher creates a Watcher.
func NewWatcher(store SortedSetStore, client FeedClient, mirror *Mirror, cfg *config.Config, logger *slog.Logger) *Watcher {
	return &Watcher{
		store:  store,
		client: client,
		mirror: mirror,
		cfg:    cfg,
		logger: logger,
	}
}

// Reconcile fetches the feed's current ranking, computes the in-window
// subset, and diffs it against the rank registry. Posts that fell out of the
// window are dropped from the registry and the queue; first-time sightings
// are queued for an immediate removal check; the registry is overwritten
// with the fresh ranks.
func (w *Watcher) Reconcile(ctx context.Context) error {
	minPos, maxPos := w.cfg.Window(w.logger)

	posts, err := w.client.HotPosts(ctx, w.cfg.FeedToMonitor, maxPos)
	if err != nil {
		return fmt.Errorf("fetch hot posts from r/%s: %w", w.cfg.FeedToMonitor, err)
	}

	// Rank is the 1-based position in the fetched ordering, not the
	// position after filtering.
	type rankedPost struct {
		id   string
		rank int
	}
	var inWindow []rankedPost
	for i, post := range posts {
		rank := i + 1
		if post.NSFW || rank < minPos {
			continue
		}
		inWindow = append(inWindow, rankedPost{id: post.ID, rank: rank})
	}

	current := make(map[string]int, len(inWindow))
	for _, rp := range inWindow {
		current[rp.id] = rp.rank
	}

	existing, err := w.store.ZRangeByRank(ctx, SetCurrentRanks, 0, -1)
	if err != nil {
		return fmt.Errorf("read rank registry: %w", err)
	}

	var evicted []string
	seen := make(map[string]struct{}, len(existing))
	for _, entry := range existing {
		seen[entry.Member] = struct{}{}
		if _, ok := current[entry.Member]; !ok {
			evicted = append(evicted, entry.Member)
		}
	}

	if len(evicted) > 0 {
		if err := w.store.ZRem(ctx, SetCurrentRanks, evicted...); err != nil {
			return fmt.Errorf("evict rank registry entries: %w", err)
		}
		if err := w.store.ZRem(ctx, SetPendingQueue, evicted...); err != nil {
			return fmt.Errorf("evict queue entries: %w", err)
		}
	}

	now := float64(time.Now().UnixMilli())
	var queued []Member
	for _, rp := range inWindow {
		if _, ok := seen[rp.id]; !ok {
			queued = append(queued, Member{Member: rp.id, Score: now})
		}
	}
	if len(queued) > 0 {
		if err := w.store.ZAdd(ctx, SetPendingQueue, queued...); err != nil {
			return fmt.Errorf("enqueue new posts: %w", err)
		}
	}

	ranks := make([]Member, len(inWindow))
	for i, rp := range inWindow {
		ranks[i] = Member{Member: rp.id, Score: float64(rp.rank)}
	}
	if len(ranks) > 0 {
		if err := w.store.ZAdd(ctx, SetCurrentRanks, ranks...); err != nil {
			return fmt.Errorf("record ranks: %w", err)
		}
	}

	if depth, err := w.store.ZCard(ctx, SetPendingQueue); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}

	if w.cfg.VerboseLogging {
		w.logger.Debug("reconciled feed window",
			"evicted", len(evicted),
			"queued", len(queued),
			"recorded", len(ranks),
		)
	}

	return nil
}

// CheckRemovals pops a bounded batch of the earliest-due queue entries and
// resolves each one: a moderator-removed post that is still ranked gets
// mirrored; anything inconclusive is requeued five minutes out.
func (w *Watcher) CheckRemovals(ctx context.Context) error {
	minPos, maxPos := w.cfg.Window(w.logger)
	batch := checkBatchSize(minPos, maxPos)

	items, err := w.store.ZRangeByRank(ctx, SetPendingQueue, 0, int64(batch-1))
	if err != nil {
		return fmt.Errorf("read pending queue: %w", err)
	}
	if len(items) == 0 {
		w.logger.Info("no posts to check yet")
		return nil
	}

	requeueAt := float64(time.Now().Add(requeueDelay).UnixMilli())
	var requeue []Member
	for _, item := range items {
		metrics.RemovalChecks.Inc()

		post, err := w.client.PostByID(ctx, item.Member)
		if err != nil {
			// Treat a failed lookup as inconclusive and look again later.
			if w.cfg.VerboseLogging {
				w.logger.Debug("post lookup failed, requeueing", "post", item.Member, "error", err)
			}
			requeue = append(requeue, Member{Member: item.Member, Score: requeueAt})
			continue
		}

		if !post.RemovedByModerator() {
			requeue = append(requeue, Member{Member: post.ID, Score: requeueAt})
			continue
		}

		rank, tracked, err := w.store.ZScore(ctx, SetCurrentRanks, item.Member)
		if err != nil {
			return fmt.Errorf("look up rank for %s: %w", item.Member, err)
		}
		if tracked {
			if err := w.mirror.Create(ctx, post, int(rank)); err != nil {
				w.logger.Error("mirror creation failed", "post", post.ID, "error", err)
			}
		}

		// Resolved either way: a removed post with no rank already aged out.
		if err := w.store.ZRem(ctx, SetPendingQueue, item.Member); err != nil {
			return fmt.Errorf("dequeue %s: %w", item.Member, err)
		}
	}

	if len(requeue) > 0 {
		if err := w.store.ZAdd(ctx, SetPendingQueue, requeue...); err != nil {
			return fmt.Errorf("requeue posts: %w", err)
		}
		metrics.Requeues.Add(float64(len(requeue)))
		if w.cfg.VerboseLogging {
			w.logger.Debug("requeued posts for future checking",
				"requeued", len(requeue),
				"checked", len(items),
			)
		}
	}

	return nil
}

// checkBatchSize scales the per-run check batch with the window size,
// flooring at 10.
func checkBatchSize(minPos, maxPos int) int {
	n := int(math.Round(float64(maxPos-minPos) / 18))
	if n < 10 {
		n = 10
	}
	return n
}
