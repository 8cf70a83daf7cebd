package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/subwatch/frontpage-mirror/internal/metrics"
)

const (
	// maxTitleLength is Reddit's hard cap on post titles.
	maxTitleLength = 300

	// nsfwCacheTTL bounds how long a subreddit's NSFW flag is trusted.
	nsfwCacheTTL = 7 * 24 * time.Hour

	// postMadeTTL keeps the already-mirrored marker around long enough for
	// a post to cycle fully out of the window.
	postMadeTTL = 14 * 24 * time.Hour

	// mirrorGraceHorizon is the cleanup horizon for a fresh mirror. The
	// original is known-live at creation, so only a near-term re-check is
	// needed before the long cadence takes over.
	mirrorGraceHorizon = 24 * time.Hour
)

// TitleInfo carries the metadata folded into a mirror post's title.
type TitleInfo struct {
	Rank         int
	Score        int
	CommentCount int
	Title        string
	Subreddit    string
}

// NewPostTitle composes a mirror title of the form
// "[#rank|+score|comments] title [r/subreddit]", truncating the original
// title with an ellipsis so the result never exceeds 300 characters. In the
// truncation branch the result is exactly 300 characters.
func NewPostTitle(info TitleInfo) string {
	prefix := fmt.Sprintf("[#%d|+%d|%d] ", info.Rank, info.Score, info.CommentCount)
	suffix := fmt.Sprintf(" [r/%s]", info.Subreddit)

	// Reddit's cap counts characters, not bytes, so the arithmetic has to
	// run over runes or a multibyte title gets cut short (or mid-rune).
	title := []rune(info.Title)
	total := len(prefix) + len(suffix) + len(title)
	if total <= maxTitleLength {
		return prefix + info.Title + suffix
	}

	cut := len(title) - (total - (maxTitleLength - 3))
	return prefix + string(title[:cut]) + "..." + suffix
}

// Mirror creates mirror posts in the destination subreddit for
// moderator-removed originals.
type Mirror struct {
	client      FeedClient
	kv          KeyValueStore
	cleanup     *Cleanup
	destination string
	logger      *slog.Logger
}

// NewMirror creates a Mirror targeting the given destination subreddit.
func NewMirror(client FeedClient, kv KeyValueStore, cleanup *Cleanup, destination string, logger *slog.Logger) *Mirror {
	return &Mirror{
		client:      client,
		kv:          kv,
		cleanup:     cleanup,
		destination: destination,
		logger:      logger,
	}
}

// Create submits a retitled link post pointing at the original and registers
// it with the cleanup runner. Creation is skipped silently when the original
// lives in an NSFW subreddit or when a mirror for it was already made.
func (m *Mirror) Create(ctx context.Context, post *Post, rank int) error {
	nsfw, err := m.subredditNSFW(ctx, post.Subreddit)
	if err != nil {
		return fmt.Errorf("check subreddit NSFW state: %w", err)
	}
	if nsfw {
		m.logger.Info("skipping mirror, source subreddit is NSFW", "post", post.ID, "subreddit", post.Subreddit)
		return nil
	}

	if _, done, err := m.kv.Get(ctx, postMadeKey(post.ID)); err != nil {
		return fmt.Errorf("check mirror marker: %w", err)
	} else if done {
		return nil
	}

	title := NewPostTitle(TitleInfo{
		Rank:         rank,
		Score:        post.Score,
		CommentCount: post.CommentCount,
		Title:        post.Title,
		Subreddit:    post.Subreddit,
	})

	created, err := m.client.SubmitLink(ctx, m.destination, title, "https://www.reddit.com"+post.Permalink)
	if err != nil {
		return fmt.Errorf("submit mirror post: %w", err)
	}

	if err := m.cleanup.ScheduleAt(ctx, created.ID, post.ID, time.Now().Add(mirrorGraceHorizon)); err != nil {
		return fmt.Errorf("register mirror cleanup: %w", err)
	}

	m.logger.Info("created mirror post",
		"original", post.ID,
		"mirror", created.ID,
		"permalink", "https://www.reddit.com"+created.Permalink,
	)
	metrics.PostsMirrored.Inc()

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := m.kv.Set(ctx, postMadeKey(post.ID), timestamp, postMadeTTL); err != nil {
		return fmt.Errorf("set mirror marker: %w", err)
	}

	return nil
}

// subredditNSFW answers from a week-long cache where possible. A subreddit
// that cannot be looked up counts as NSFW.
func (m *Mirror) subredditNSFW(ctx context.Context, name string) (bool, error) {
	cached, ok, err := m.kv.Get(ctx, subredditNSFWKey(name))
	if err != nil {
		return false, err
	}
	if ok {
		return cached == "true", nil
	}

	nsfw, err := m.client.SubredditNSFW(ctx, name)
	if err != nil {
		nsfw = true
	}

	if err := m.kv.Set(ctx, subredditNSFWKey(name), strconv.FormatBool(nsfw), nsfwCacheTTL); err != nil {
		return false, err
	}
	return nsfw, nil
}
