package domain

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/subwatch/frontpage-mirror/internal/metrics"
)

const (
	// cleanupHorizon is the default re-check cadence for a live original.
	cleanupHorizon = 28 * 24 * time.Hour

	// cleanupBatchSize caps how many due entries one sweep processes.
	cleanupBatchSize = 20

	// adhocGrace pads an ad-hoc run past the earliest due time.
	adhocGrace = 5 * time.Minute

	// adhocSuppressWindow skips the ad-hoc run when the regular cron fires
	// this close to it anyway.
	adhocSuppressWindow = 2 * time.Minute
)

var remotePostIDPattern = regexp.MustCompile(`/r/.+/comments/(\w+)/`)

// RemotePostID extracts the base36 post id from a Reddit comments URL and
// returns it as a fullname. It tolerates a doubled slash before /r/, which
// some historical mirror URLs carry.
func RemotePostID(url string) (string, bool) {
	matches := remotePostIDPattern.FindStringSubmatch(url)
	if matches == nil {
		return "", false
	}
	return "t3_" + matches[1], true
}

// Cleanup owns the time-ordered registry of mirror/original pairs and
// deletes mirrors whose originals have disappeared.
type Cleanup struct {
	store   SortedSetStore
	kv      KeyValueStore
	client  FeedClient
	sched   Scheduler
	logger  *slog.Logger
	verbose bool
}

// NewCleanup creates a Cleanup runner.
func NewCleanup(store SortedSetStore, kv KeyValueStore, client FeedClient, sched Scheduler, logger *slog.Logger, verbose bool) *Cleanup {
	return &Cleanup{
		store:   store,
		kv:      kv,
		client:  client,
		sched:   sched,
		logger:  logger,
		verbose: verbose,
	}
}

// Schedule registers a mirror/original pair at the default horizon.
func (c *Cleanup) Schedule(ctx context.Context, mirrorID, originalID string) error {
	return c.ScheduleAt(ctx, mirrorID, originalID, time.Now().Add(cleanupHorizon))
}

// ScheduleAt registers a mirror/original pair with an explicit due time,
// replacing any existing entry for the pair.
func (c *Cleanup) ScheduleAt(ctx context.Context, mirrorID, originalID string, due time.Time) error {
	member := Member{
		Member: mirrorID + ":" + originalID,
		Score:  float64(due.UnixMilli()),
	}
	if err := c.store.ZAdd(ctx, SetCleanup, member); err != nil {
		return fmt.Errorf("schedule cleanup for %s: %w", member.Member, err)
	}
	return nil
}

// Run processes due cleanup entries. An original that is gone (or whose
// lookup fails, e.g. fully purged content) gets its mirror deleted and the
// entry removed; a live original is re-armed at the default horizon. The
// ad-hoc rescheduler runs afterwards regardless.
func (c *Cleanup) Run(ctx context.Context) error {
	now := float64(time.Now().UnixMilli())
	due, err := c.store.ZRangeByScore(ctx, SetCleanup, 0, now)
	if err != nil {
		return fmt.Errorf("read due cleanup entries: %w", err)
	}

	if len(due) == 0 {
		c.logger.Info("cleanup: nothing to do")
		return c.ScheduleAdhoc(ctx)
	}

	batch := due
	if len(batch) > cleanupBatchSize {
		batch = batch[:cleanupBatchSize]
	}

	for _, entry := range batch {
		mirrorID, originalID, ok := strings.Cut(entry.Member, ":")
		if !ok {
			// Malformed entry; drop it rather than re-checking forever.
			c.logger.Warn("dropping malformed cleanup entry", "entry", entry.Member)
			if err := c.store.ZRem(ctx, SetCleanup, entry.Member); err != nil {
				return fmt.Errorf("remove malformed cleanup entry: %w", err)
			}
			continue
		}

		original, err := c.client.PostByID(ctx, originalID)
		if err != nil {
			if c.verbose {
				c.logger.Debug("error retrieving original post, treating as deleted", "post", originalID, "error", err)
			}
			original = nil
		}

		if original != nil && !original.Deleted() {
			if err := c.Schedule(ctx, mirrorID, originalID); err != nil {
				return err
			}
			continue
		}

		if err := c.reapMirror(ctx, mirrorID); err != nil {
			c.logger.Error("failed to delete mirror", "mirror", mirrorID, "error", err)
		}
		if err := c.store.ZRem(ctx, SetCleanup, entry.Member); err != nil {
			return fmt.Errorf("remove cleanup entry %s: %w", entry.Member, err)
		}
	}

	c.logger.Info("cleanup sweep complete", "checked", len(batch), "due", len(due))

	return c.ScheduleAdhoc(ctx)
}

// reapMirror deletes the local mirror unless it was already deleted by its
// own author.
func (c *Cleanup) reapMirror(ctx context.Context, mirrorID string) error {
	mirror, err := c.client.PostByID(ctx, mirrorID)
	if err != nil {
		return fmt.Errorf("fetch mirror %s: %w", mirrorID, err)
	}
	if mirror.Deleted() {
		return nil
	}

	if err := c.client.DeletePost(ctx, mirrorID); err != nil {
		return fmt.Errorf("delete mirror %s: %w", mirrorID, err)
	}
	c.logger.Info("deleted mirror, original post is gone", "mirror", mirrorID)
	metrics.MirrorsDeleted.Inc()
	return nil
}

// ScheduleAdhoc peeks the earliest cleanup entry and arms a one-shot run
// shortly after its due time, unless the regular cron fires close enough to
// cover it.
func (c *Cleanup) ScheduleAdhoc(ctx context.Context) error {
	next, err := c.store.ZRangeByRank(ctx, SetCleanup, 0, 0)
	if err != nil {
		return fmt.Errorf("peek cleanup registry: %w", err)
	}
	if len(next) == 0 {
		c.logger.Info("cleanup scheduler: nothing in queue")
		return nil
	}

	candidate := time.UnixMilli(int64(next[0].Score)).Add(adhocGrace)

	if cronNext, ok := c.sched.NextFire(JobCleanup); ok && cronNext.Sub(candidate) < adhocSuppressWindow {
		c.logger.Info("cleanup scheduler: next due time too close to scheduled run")
		return nil
	}

	at := candidate
	if now := time.Now(); at.Before(now) {
		at = now
	}
	c.sched.ScheduleOnce(JobCleanup, at)

	c.logger.Info("cleanup scheduler: armed ad-hoc run", "at", at.UTC())
	return nil
}

// SpreadExisting is a one-time migration that re-scores every cleanup entry
// to a random time within the next week, so a backlog of entries with the
// same due time does not arrive all at once. Guarded by a persisted marker.
func (c *Cleanup) SpreadExisting(ctx context.Context) error {
	const marker = "oneOffRescheduleCompleted"
	if _, done, err := c.kv.Get(ctx, marker); err != nil {
		return fmt.Errorf("check reschedule marker: %w", err)
	} else if done {
		return nil
	}

	entries, err := c.store.ZRangeByRank(ctx, SetCleanup, 0, -1)
	if err != nil {
		return fmt.Errorf("read cleanup registry: %w", err)
	}

	const spreadMinutes = 60 * 24 * 7
	now := time.Now()
	rescored := make([]Member, len(entries))
	for i, entry := range entries {
		delay := time.Duration(rand.Intn(spreadMinutes+1)) * time.Minute
		rescored[i] = Member{Member: entry.Member, Score: float64(now.Add(delay).UnixMilli())}
	}
	if len(rescored) > 0 {
		if err := c.store.ZAdd(ctx, SetCleanup, rescored...); err != nil {
			return fmt.Errorf("rescore cleanup entries: %w", err)
		}
	}

	c.logger.Info("spread existing cleanup entries", "entries", len(rescored))

	return c.kv.Set(ctx, marker, "1", 0)
}

// Backfill is a one-time migration that registers cleanup entries for
// mirrors that predate the cleanup registry, resolving each mirror's
// original from its outbound URL. Guarded by a persisted marker.
func (c *Cleanup) Backfill(ctx context.Context, destination string) error {
	const marker = "cleanupBackfillCompleted"
	if _, done, err := c.kv.Get(ctx, marker); err != nil {
		return fmt.Errorf("check backfill marker: %w", err)
	} else if done {
		return nil
	}

	mirrors, err := c.client.NewPosts(ctx, destination, 100)
	if err != nil {
		return fmt.Errorf("list mirrors in r/%s: %w", destination, err)
	}

	added := 0
	for _, mirror := range mirrors {
		originalID, ok := RemotePostID(mirror.URL)
		if !ok {
			continue
		}
		pair := mirror.ID + ":" + originalID
		if _, exists, err := c.store.ZScore(ctx, SetCleanup, pair); err != nil {
			return fmt.Errorf("check cleanup entry %s: %w", pair, err)
		} else if exists {
			continue
		}
		if err := c.Schedule(ctx, mirror.ID, originalID); err != nil {
			return err
		}
		added++
	}

	c.logger.Info("backfilled cleanup registry", "scanned", len(mirrors), "added", added)

	return c.kv.Set(ctx, marker, "1", 0)
}
