package domain

// Post represents a Reddit post as seen by the bot. It is a transient view
// captured at fetch time; only its ID and rank are persisted.
type Post struct {
	// ID is the post fullname (e.g. t3_1gwd56x).
	ID string

	// Title is the post title as submitted.
	Title string

	// Author is the submitting account name, or "[deleted]" once the
	// account or post has been deleted.
	Author string

	// Score is the current net upvote count.
	Score int

	// CommentCount is the current number of comments.
	CommentCount int

	// Subreddit is the name of the community the post lives in (no r/ prefix).
	Subreddit string

	// NSFW reports whether the post itself is flagged over-18.
	NSFW bool

	// RemovedByCategory describes who removed the post, if anyone.
	// "moderator" is the only category that triggers mirroring.
	RemovedByCategory string

	// Permalink is the site-relative comments URL of the post.
	Permalink string

	// URL is the outbound link of a link post. For mirrors this points back
	// at the original post.
	URL string
}

// RemovedByModerator reports whether the post was removed by a moderator as
// opposed to not removed at all, or removed by its author or an admin.
func (p *Post) RemovedByModerator() bool {
	return p.RemovedByCategory == "moderator"
}

// Deleted reports whether the post's author shows as deleted, which is how
// the listing API surfaces a deleted post that is still resolvable.
func (p *Post) Deleted() bool {
	return p.Author == "[deleted]"
}
