package domain

import (
	"context"
	"time"
)

// Member is a single entry in a sorted set: a string member with a numeric
// score. Scores hold ranks or unix-millisecond due times depending on the set.
type Member struct {
	Member string
	Score  float64
}

// SortedSetStore defines the sorted-set operations the bot's registries are
// built on. All operations are atomic per call.
type SortedSetStore interface {
	// ZAdd upserts members; an existing member keeps its insertion order
	// but takes the new score.
	ZAdd(ctx context.Context, set string, members ...Member) error

	// ZRem removes members. Removing an absent member is a no-op.
	ZRem(ctx context.Context, set string, members ...string) error

	// ZScore returns the score of a member and whether it exists.
	ZScore(ctx context.Context, set, member string) (float64, bool, error)

	// ZRangeByRank returns members ordered by ascending score (insertion
	// order breaks ties) from start to stop inclusive; stop of -1 means the
	// last member.
	ZRangeByRank(ctx context.Context, set string, start, stop int64) ([]Member, error)

	// ZRangeByScore returns members whose score lies in [min, max],
	// ordered by ascending score.
	ZRangeByScore(ctx context.Context, set string, min, max float64) ([]Member, error)

	// ZCard returns the number of members in the set.
	ZCard(ctx context.Context, set string) (int64, error)
}

// KeyValueStore defines the expiring key/value operations used for caches
// and idempotency markers.
type KeyValueStore interface {
	// Get returns the value and whether the key exists and has not expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value. A ttl of zero means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
}

// FeedClient defines the Reddit operations the bot consumes.
type FeedClient interface {
	// HotPosts returns up to limit posts from the feed's current hot
	// ranking, in rank order.
	HotPosts(ctx context.Context, feed string, limit int) ([]Post, error)

	// PostByID fetches a post by fullname. A post that cannot be resolved
	// returns an error.
	PostByID(ctx context.Context, fullname string) (*Post, error)

	// NewPosts returns up to limit of the subreddit's newest posts.
	NewPosts(ctx context.Context, subreddit string, limit int) ([]Post, error)

	// SubmitLink creates a link post and returns the created post.
	SubmitLink(ctx context.Context, subreddit, title, url string) (*Post, error)

	// DeletePost deletes one of the authenticated account's own posts.
	DeletePost(ctx context.Context, fullname string) error

	// SubredditNSFW reports whether a subreddit is flagged over-18.
	SubredditNSFW(ctx context.Context, name string) (bool, error)
}

// Scheduler is the slice of the job scheduler the cleanup runner needs to
// arm ad-hoc one-shot runs.
type Scheduler interface {
	// ScheduleOnce arms a one-shot run of the named registered job,
	// replacing any pending one-shot for the same name.
	ScheduleOnce(name string, at time.Time)

	// NextFire returns the next regular cron firing time of the named job,
	// and whether the job has a cron schedule.
	NextFire(name string) (time.Time, bool)
}
