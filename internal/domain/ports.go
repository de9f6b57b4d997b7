package domain

import "context"

// PrimaryStore is the always-available key-value store. It is the source of
// truth: failures here are fatal to the calling operation.
//
// Records are upserted individually by ID, so concurrent writers cannot lose
// each other's posts and re-writing an existing record is harmless.
type PrimaryStore interface {
	// Posts returns every stored post. Records that fail to decode are
	// skipped and reported via an error wrapping ErrCorrupt; the decodable
	// posts are still returned alongside it.
	Posts(ctx context.Context) ([]Post, error)

	// Post returns one post by ID, or ErrNotFound.
	Post(ctx context.Context, id string) (*Post, error)

	// PutPost upserts a single post.
	PutPost(ctx context.Context, post Post) error

	// PutPosts upserts a batch of posts in one transaction.
	PutPosts(ctx context.Context, posts []Post) error

	// DeletePost removes a post. Deleting an absent ID is not an error.
	DeletePost(ctx context.Context, id string) error
}

// PostMirror is the optional relational store. Every method may be called
// while the mirror is degraded; in that state writes are silent no-ops and
// reads return empty results without error.
type PostMirror interface {
	// Available reports whether the mirror opened successfully. A degraded
	// mirror never recovers within a process lifetime.
	Available() bool

	// CreateUser inserts a full user row. Duplicate emails surface
	// ErrDuplicateEmail.
	CreateUser(ctx context.Context, user User) error

	// EnsureUser inserts a minimal user row from a post's author snapshot if
	// no row with that ID exists yet. Needed before CreatePost can satisfy
	// the posts.user_id foreign key during backfill.
	EnsureUser(ctx context.Context, ref UserRef) error

	// CreatePost transactionally inserts the post row, its ordered images,
	// and its tag associations. Inserting an ID that already exists is a
	// no-op, which makes the backfill pass idempotent.
	CreatePost(ctx context.Context, post Post) error

	// Posts returns posts ordered by timestamp descending, with author
	// snapshot, images, and tags attached. limit <= 0 means no limit.
	Posts(ctx context.Context, limit, offset int) ([]Post, error)

	// LikePost records that userID liked postID. The membership row is
	// deduplicated but the counter increments on every call; see the service
	// documentation for the divergence this allows.
	LikePost(ctx context.Context, userID, postID string) error

	// UpdatePost applies a field patch to the post row.
	UpdatePost(ctx context.Context, id string, patch PostPatch) error

	// DeletePost removes the post and its dependent rows.
	DeletePost(ctx context.Context, id string) error

	// SearchPosts matches q against name, scientific name, location,
	// description, environment, and tag names.
	SearchPosts(ctx context.Context, q string) ([]Post, error)

	// Statistics returns aggregate counts.
	Statistics(ctx context.Context) (*Statistics, error)
}

// CurrentUserProvider resolves the authenticated user, if any. Returns
// ErrNoCurrentUser when nobody is signed in.
type CurrentUserProvider interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// Notifier dispatches a user-facing notification. Implementations must not
// block the caller on slow consumers.
type Notifier interface {
	Notify(ctx context.Context, title, body, category string)
}
